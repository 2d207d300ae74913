package ws

import (
	"sync"

	"github.com/GriffinCanCode/oprelay/internal/bridge"
	"github.com/GriffinCanCode/oprelay/internal/pagebus"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/relay"
	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

// Hub tracks the open page sessions and routes load and unload outcomes to
// the page that issued the request. It is the relay's placeholder renderer.
// Outcomes of requests no page issued are not forwarded.
type Hub struct {
	mu     sync.RWMutex
	pages  map[id.PageID]*pagebus.Bus
	owners map[string]id.PageID
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		pages:  make(map[id.PageID]*pagebus.Bus),
		owners: make(map[string]id.PageID),
	}
}

func (h *Hub) add(page id.PageID, bus *pagebus.Bus) {
	h.mu.Lock()
	h.pages[page] = bus
	h.mu.Unlock()
}

func (h *Hub) remove(page id.PageID) {
	h.mu.Lock()
	delete(h.pages, page)
	h.mu.Unlock()
}

// claim records page as the issuer of requestID.
func (h *Hub) claim(requestID string, page id.PageID) {
	h.mu.Lock()
	h.owners[requestID] = page
	h.mu.Unlock()
}

// Sessions returns the number of open pages.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pages)
}

// Upstream wraps up so that load and unload requests sent through it are
// attributed to page.
func (h *Hub) Upstream(page id.PageID, up bridge.Dispatcher) bridge.Dispatcher {
	return pageUpstream{hub: h, page: page, up: up}
}

type pageUpstream struct {
	hub  *Hub
	page id.PageID
	up   bridge.Dispatcher
}

func (p pageUpstream) Dispatch(msg protocol.BridgeMessage, reply func(protocol.BridgeReply)) {
	if (msg.Op == protocol.KindLoad || msg.Op == protocol.KindUnload) && msg.RequestID != "" {
		p.hub.claim(msg.RequestID, p.page)
	}
	p.up.Dispatch(msg, reply)
}

// LoadResult implements relay.Renderer.
func (h *Hub) LoadResult(r relay.Result) {
	h.deliver(pagebus.TypeLoadResult, r)
}

// UnloadResult implements relay.Renderer.
func (h *Hub) UnloadResult(r relay.Result) {
	h.deliver(pagebus.TypeUnloadResult, r)
}

func (h *Hub) deliver(typ pagebus.MessageType, r relay.Result) {
	h.mu.Lock()
	page, owned := h.owners[r.RequestID]
	delete(h.owners, r.RequestID)
	bus := h.pages[page]
	h.mu.Unlock()

	if !owned || bus == nil {
		return
	}

	msg := pagebus.Message{
		Type:       typ,
		RequestID:  r.RequestID,
		AppletName: r.Name,
		Success:    r.Success,
		Result:     r.Message,
	}
	if !r.Success {
		msg.Error = r.Message
	}
	bus.Post(msg)
}
