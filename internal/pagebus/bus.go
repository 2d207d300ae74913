// Package pagebus is the page-scoped broadcast channel between the front
// stub and the context bridge. Every posted message reaches every
// subscriber, the sender included; receivers filter by Type and requestId.
package pagebus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
)

// MessageType discriminates page bus messages.
type MessageType string

const (
	TypeRegisterRequest  MessageType = "register-request"
	TypeRegisterResponse MessageType = "register-response"
	TypeInvokeRequest    MessageType = "invoke-request"
	TypeInvokeResponse   MessageType = "invoke-response"
	TypeLoadResult       MessageType = "load-result"
	TypeUnloadResult     MessageType = "unload-result"
	TypeReady            MessageType = "ready"
)

// Message is one page bus message.
type Message struct {
	Type       MessageType        `json:"type"`
	RequestID  string             `json:"requestId,omitempty"`
	AppletName string             `json:"appletName,omitempty"`
	HandleID   string             `json:"handleId,omitempty"`
	Method     string             `json:"method,omitempty"`
	Args       []any              `json:"args,omitempty"`
	Options    map[string]any     `json:"options,omitempty"`
	Success    bool               `json:"success"`
	Result     any                `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	Code       protocol.ErrorCode `json:"code,omitempty"`
}

// Err returns the error carried by a failed response, or nil.
func (m Message) Err() error {
	if m.Success || (m.Error == "" && m.Code == "") {
		return nil
	}
	return protocol.ErrorFromCode(m.Code, m.Error)
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Bus broadcasts messages to all subscribers.
type Bus struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]chan Message
	nextID uint64
	closed bool
}

// New creates a bus. buffer <= 0 selects DefaultBuffer.
func New(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		logger: logging.OrNop(logger).Named("pagebus"),
		buffer: buffer,
		subs:   make(map[uint64]chan Message),
	}
}

// Subscription is one receiver on the bus.
type Subscription struct {
	C <-chan Message

	bus  *Bus
	id   uint64
	once sync.Once
}

// Subscribe registers a new receiver. On a closed bus the returned
// subscription's channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Message, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return &Subscription{C: ch, bus: b}
	}
	b.nextID++
	b.subs[b.nextID] = ch
	return &Subscription{C: ch, bus: b, id: b.nextID}
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if ch, ok := s.bus.subs[s.id]; ok {
			delete(s.bus.subs, s.id)
			close(ch)
		}
	})
}

// Post delivers msg to every subscriber without blocking. A subscriber
// whose queue is full misses the message.
func (b *Bus) Post(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("subscriber queue full, message dropped",
				zap.Uint64("subscriber", id),
				zap.String("type", string(msg.Type)),
				zap.String("request_id", msg.RequestID),
			)
		}
	}
}

// Close closes every subscription. Later posts are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
