package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout            = errors.New("no response within deadline")
	ErrTransportClosed    = errors.New("transport closed")
	ErrTransportError     = errors.New("transport error")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrDuplicateRequest   = errors.New("request id already pending")
)

// RemoteError is a failure reported explicitly by the backend.
type RemoteError struct {
	Message string
	Code    int
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

// ErrorCode names an error class on the wire between hops.
type ErrorCode string

const (
	CodeTimeout            ErrorCode = "timeout"
	CodeRemote             ErrorCode = "remote"
	CodeTransportClosed    ErrorCode = "transport_closed"
	CodeTransportError     ErrorCode = "transport_error"
	CodeBackendUnavailable ErrorCode = "backend_unavailable"
)

// CodeOf classifies err. Unclassified errors are reported as remote.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrTransportClosed):
		return CodeTransportClosed
	case errors.Is(err, ErrTransportError):
		return CodeTransportError
	case errors.Is(err, ErrBackendUnavailable):
		return CodeBackendUnavailable
	default:
		return CodeRemote
	}
}

// ErrorFromCode rebuilds an error received from another hop so that
// errors.Is and errors.As keep working on the far side.
func ErrorFromCode(code ErrorCode, msg string) error {
	var sentinel error
	switch code {
	case CodeTimeout:
		sentinel = ErrTimeout
	case CodeTransportClosed:
		sentinel = ErrTransportClosed
	case CodeTransportError:
		sentinel = ErrTransportError
	case CodeBackendUnavailable:
		sentinel = ErrBackendUnavailable
	default:
		return &RemoteError{Message: msg}
	}
	if msg == "" || msg == sentinel.Error() {
		return sentinel
	}
	return &wireError{msg: msg, sentinel: sentinel}
}

type wireError struct {
	msg      string
	sentinel error
}

func (e *wireError) Error() string { return e.msg }
func (e *wireError) Unwrap() error { return e.sentinel }
