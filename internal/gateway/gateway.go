package gateway

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// TokenHeader carries the caller identity token on HTTP requests.
const TokenHeader = "X-OPLauncher-Token"

// Backend error codes reported in Reply.ErrorCode.
const (
	CodeNone              = 0
	CodeGeneralError      = 7000
	CodeUnsupportedOp     = 7001
	CodeMalformedURL      = 7002
	CodeSecurityError     = 7003
	CodeDownloadFailed    = 7004
	CodeUnsupportedOpcode = 7005
	CodeTokenRejected     = 7006
	CodeMagicCheckFailed  = 7007
	CodeMalformedPayload  = 7008
)

// Outbound is one message to the backend. Body is the final JSON payload,
// already wrapped in the secure envelope when encryption is on.
type Outbound struct {
	RequestID string
	Kind      protocol.Kind
	Body      []byte
	Settings  settings.Settings
}

// Reply is the raw backend answer.
type Reply struct {
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
	Succeed   bool   `json:"succeed"`
	ErrorCode int    `json:"errorcode"`
	Result    any    `json:"result,omitempty"`
}

// UnmarshalJSON accepts both "succeed" and "success" for the outcome flag.
func (r *Reply) UnmarshalJSON(data []byte) error {
	var aux struct {
		RequestID string `json:"requestId"`
		Message   string `json:"message"`
		Succeed   *bool  `json:"succeed"`
		Success   *bool  `json:"success"`
		ErrorCode int    `json:"errorcode"`
		Result    any    `json:"result"`
		Error     string `json:"error"`
	}
	if err := protocol.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Reply{
		RequestID: aux.RequestID,
		Message:   aux.Message,
		ErrorCode: aux.ErrorCode,
		Result:    aux.Result,
	}
	switch {
	case aux.Succeed != nil:
		r.Succeed = *aux.Succeed
	case aux.Success != nil:
		r.Succeed = *aux.Success
	}
	if r.Message == "" && aux.Error != "" {
		r.Message = aux.Error
	}
	return nil
}

// Value returns the call result: Result when present, else Message.
func (r *Reply) Value() any {
	if r.Result != nil {
		return r.Result
	}
	return r.Message
}

// Err returns a *protocol.RemoteError for failed replies.
func (r *Reply) Err() error {
	if r.Succeed {
		return nil
	}
	return &protocol.RemoteError{Message: r.Message, Code: r.ErrorCode}
}

// ParseReply decodes a backend reply, mapping undecodable bodies to
// protocol.ErrTransportError.
func ParseReply(data []byte) (*Reply, error) {
	var reply Reply
	if err := protocol.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("%w: malformed backend reply: %v", protocol.ErrTransportError, err)
	}
	return &reply, nil
}

// Gateway is one transport to the backend. Implementations make exactly one
// attempt per Send; retrying is the caller's business.
type Gateway interface {
	// Kind names the transport, e.g. "http" or "native".
	Kind() string
	// Send delivers msg and waits for its reply.
	Send(ctx context.Context, msg *Outbound) (*Reply, error)
	// Probe checks the backend is reachable.
	Probe(ctx context.Context, s settings.Settings) error
	// OnDisconnect registers a callback fired when a persistent channel drops.
	OnDisconnect(fn func(error))
	// Close releases the transport.
	Close() error
}
