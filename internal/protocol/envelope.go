package protocol

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

// Kind is the operation carried by a request envelope.
type Kind string

const (
	KindRegister Kind = "register_applet"
	KindInvoke   Kind = "invoke_method"
	KindLoad     Kind = "load_applet"
	KindUnload   Kind = "unload_applet"
	KindFocus    Kind = "focus_applet"
	KindBlur     Kind = "blur_applet"
	KindMove     Kind = "move_applet"
)

var kinds = map[Kind]struct{}{
	KindRegister: {},
	KindInvoke:   {},
	KindLoad:     {},
	KindUnload:   {},
	KindFocus:    {},
	KindBlur:     {},
	KindMove:     {},
}

// ParseKind converts a wire op name into a Kind.
func ParseKind(op string) (Kind, error) {
	k := Kind(op)
	if !k.Valid() {
		return "", fmt.Errorf("unknown op %q", op)
	}
	return k, nil
}

// Valid reports whether k is a known operation.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// RequestEnvelope is a single request travelling down the chain.
type RequestEnvelope struct {
	RequestID string         `json:"requestId"`
	Kind      Kind           `json:"kind"`
	Target    string         `json:"target"`
	Payload   map[string]any `json:"payload,omitempty"`
	IssuedAt  time.Time      `json:"issuedAt"`
}

// NewRequest builds an envelope with a fresh request id.
func NewRequest(kind Kind, target string, payload map[string]any) *RequestEnvelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return &RequestEnvelope{
		RequestID: id.NewRequestID().String(),
		Kind:      kind,
		Target:    target,
		Payload:   payload,
		IssuedAt:  time.Now(),
	}
}

// ResponseEnvelope is the single answer produced for a RequestEnvelope.
type ResponseEnvelope struct {
	RequestID string    `json:"requestId"`
	Success   bool      `json:"success"`
	Result    any       `json:"result"`
	Error     string    `json:"error,omitempty"`
	Code      ErrorCode `json:"code,omitempty"`
}

// Succeed builds a successful response for requestID.
func Succeed(requestID string, result any) *ResponseEnvelope {
	return &ResponseEnvelope{RequestID: requestID, Success: true, Result: result}
}

// Fail builds a failed response for requestID from err.
func Fail(requestID string, err error) *ResponseEnvelope {
	return &ResponseEnvelope{
		RequestID: requestID,
		Error:     err.Error(),
		Code:      CodeOf(err),
	}
}

// Err reconstructs the error carried by a failed response.
func (r *ResponseEnvelope) Err() error {
	if r.Success {
		return nil
	}
	return ErrorFromCode(r.Code, r.Error)
}

// BridgeMessage is the one-shot message the bridge sends to the relay core.
type BridgeMessage struct {
	Op         Kind           `json:"op"`
	AppletName string         `json:"appletName"`
	Method     string         `json:"method,omitempty"`
	Args       []any          `json:"args,omitempty"`
	RequestID  string         `json:"requestId"`
	Params     map[string]any `json:"params,omitempty"`
	Verbose    bool           `json:"verbose,omitempty"`
	Obfuscate  bool           `json:"obfuscate,omitempty"`
}

// BridgeReply answers a BridgeMessage: either Result or Error is set.
type BridgeReply struct {
	Result any       `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
	Code   ErrorCode `json:"code,omitempty"`
}

// Err reconstructs the error carried by the reply, if any.
func (r BridgeReply) Err() error {
	if r.Error == "" && r.Code == "" {
		return nil
	}
	return ErrorFromCode(r.Code, r.Error)
}

// Methods answered by the page-side components without crossing to the
// backend. isSupported is the capability probe and always reports false.
const (
	MethodThen        = "then"
	MethodCatch       = "catch"
	MethodIsSupported = "isSupported"
)

// IsLocalMethod reports whether method is answered locally.
func IsLocalMethod(method string) bool {
	switch method {
	case MethodThen, MethodCatch, MethodIsSupported:
		return true
	}
	return false
}

// LocalResult is the answer for a local method.
func LocalResult(method string) any {
	if method == MethodIsSupported {
		return false
	}
	return nil
}
