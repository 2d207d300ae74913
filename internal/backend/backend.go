package backend

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/oprelay/internal/cipher"
	"github.com/GriffinCanCode/oprelay/internal/gateway"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// sessionKeys bounds how many issued session keys stay valid for decryption.
const sessionKeys = 16

// Invoker answers invoke_method calls for a loaded object.
type Invoker interface {
	Invoke(ctx context.Context, name, method string, args []any) (any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, name, method string, args []any) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, name, method string, args []any) (any, error) {
	return f(ctx, name, method, args)
}

// EchoInvoker answers every call with "ok".
var EchoInvoker = InvokerFunc(func(context.Context, string, string, []any) (any, error) {
	return "ok", nil
})

// Config configures a Backend.
type Config struct {
	// ContextRoot and HeartbeatRoot are the HTTP paths served by Router.
	ContextRoot   string
	HeartbeatRoot string
	// TokenHash is the bcrypt hash of the accepted personal token. Empty
	// disables the check.
	TokenHash []byte
	// CipherKey is the static key. Empty means settings.Defaults().CipherKey.
	CipherKey string
	Invoker   Invoker
	Logger    *zap.Logger
	Rand      io.Reader
}

// Backend is a development backend speaking the relay wire contract. It
// does no applet processing: loads are recorded, invocations go to Invoker.
type Backend struct {
	cfg    Config
	logger *zap.Logger

	sessions *lru.Cache[string, struct{}]

	mu     sync.Mutex
	loaded map[string]struct{}
}

// HashToken returns the bcrypt hash of token for Config.TokenHash.
func HashToken(token string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
}

// New creates a backend.
func New(cfg Config) *Backend {
	d := settings.Defaults()
	if cfg.ContextRoot == "" {
		cfg.ContextRoot = d.ContextRoot
	}
	if cfg.HeartbeatRoot == "" {
		cfg.HeartbeatRoot = d.HeartbeatRoot
	}
	if cfg.CipherKey == "" {
		cfg.CipherKey = d.CipherKey
	}
	if cfg.Invoker == nil {
		cfg.Invoker = EchoInvoker
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	sessions, _ := lru.New[string, struct{}](sessionKeys)

	return &Backend{
		cfg:      cfg,
		logger:   logging.OrNop(cfg.Logger).Named("backend"),
		sessions: sessions,
		loaded:   make(map[string]struct{}),
	}
}

// Loaded reports whether name is currently loaded.
func (b *Backend) Loaded(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.loaded[name]
	return ok
}

type failure struct {
	code int
	msg  string
}

func (f *failure) Error() string { return f.msg }

func fail(code int, format string, args ...any) error {
	return &failure{code: code, msg: fmt.Sprintf(format, args...)}
}

// Handle processes one request body. token is the transport-level token,
// e.g. the token header; "" falls back to the payload's _tkn_ field.
func (b *Backend) Handle(ctx context.Context, body []byte, token string) *gateway.Reply {
	payload, err := b.decode(body)
	requestID, _ := payload["requestId"].(string)
	if err == nil {
		err = b.authorize(payload, token)
	}

	var reply *gateway.Reply
	if err == nil {
		reply, err = b.dispatch(ctx, payload)
	}
	if err != nil {
		reply = &gateway.Reply{Message: err.Error(), ErrorCode: gateway.CodeGeneralError}
		var f *failure
		if errors.As(err, &f) {
			reply.ErrorCode = f.code
		}
		b.logger.Info("request rejected",
			zap.String("request_id", requestID),
			zap.String("trace_id", string(tracing.GetTraceID(ctx))),
			zap.Int("error_code", reply.ErrorCode),
			zap.Error(err),
		)
	}
	reply.RequestID = requestID
	return reply
}

// decode parses body and opens the secure envelope when there is one.
func (b *Backend) decode(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := protocol.Unmarshal(body, &raw); err != nil {
		return nil, fail(gateway.CodeMalformedPayload, "malformed payload: %v", err)
	}

	// newest session key first, then the static key
	keys := b.sessions.Keys()
	candidates := make([]string, 0, len(keys)+1)
	for i := len(keys) - 1; i >= 0; i-- {
		candidates = append(candidates, keys[i])
	}
	candidates = append(candidates, b.cfg.CipherKey)

	payload, _, err := cipher.Open(raw, candidates...)
	switch {
	case errors.Is(err, cipher.ErrNotSecure):
		if magic, ok := cipher.ExtractMagic(raw); ok && !cipher.VerifyMagic(magic, cipher.MagicNumber) {
			return raw, fail(gateway.CodeMagicCheckFailed, "magic check failed")
		}
		return raw, nil
	case err != nil:
		return nil, fail(gateway.CodeSecurityError, "cannot open secure payload: %v", err)
	}

	magic, ok := cipher.ExtractMagic(payload)
	if !ok || !cipher.VerifyMagic(magic, cipher.MagicNumber) {
		return payload, fail(gateway.CodeMagicCheckFailed, "magic check failed")
	}
	return payload, nil
}

func (b *Backend) authorize(payload map[string]any, token string) error {
	if len(b.cfg.TokenHash) == 0 {
		return nil
	}
	if token == "" {
		token, _ = payload["_tkn_"].(string)
	}
	if err := bcrypt.CompareHashAndPassword(b.cfg.TokenHash, []byte(token)); err != nil {
		return fail(gateway.CodeTokenRejected, "personal token rejected")
	}
	return nil
}

func (b *Backend) dispatch(ctx context.Context, payload map[string]any) (*gateway.Reply, error) {
	op, _ := payload["op"].(string)
	kind, err := protocol.ParseKind(op)
	if err != nil {
		return nil, fail(gateway.CodeUnsupportedOpcode, "%v", err)
	}
	name, _ := payload["applet_name"].(string)
	if name == "" {
		return nil, fail(gateway.CodeMalformedPayload, "applet_name is required")
	}

	switch kind {
	case protocol.KindLoad:
		key, err := b.issueSessionKey()
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.loaded[name] = struct{}{}
		b.mu.Unlock()
		b.logger.Info("applet loaded", zap.String("applet", name))
		return &gateway.Reply{Succeed: true, Message: key}, nil

	case protocol.KindUnload:
		b.mu.Lock()
		_, ok := b.loaded[name]
		delete(b.loaded, name)
		b.mu.Unlock()
		if !ok {
			return &gateway.Reply{Succeed: true, Message: "not loaded"}, nil
		}
		b.logger.Info("applet unloaded", zap.String("applet", name))
		return &gateway.Reply{Succeed: true, Message: "unloaded"}, nil

	case protocol.KindFocus, protocol.KindBlur, protocol.KindMove:
		return &gateway.Reply{Succeed: true, Message: kind.String()}, nil

	case protocol.KindInvoke:
		method, _ := payload["method"].(string)
		args, _ := payload["params"].([]any)
		result, err := b.cfg.Invoker.Invoke(ctx, name, method, args)
		if err != nil {
			return nil, err
		}
		return &gateway.Reply{Succeed: true, Message: fmt.Sprint(result), Result: result}, nil

	default:
		return nil, fail(gateway.CodeUnsupportedOp, "op %s is not served by the backend", kind)
	}
}

// issueSessionKey returns a fresh random Triple DES key, base64 encoded.
func (b *Backend) issueSessionKey() (string, error) {
	buf := make([]byte, cipher.KeySize)
	if _, err := io.ReadFull(b.cfg.Rand, buf); err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(buf)
	b.sessions.Add(key, struct{}{})
	return key, nil
}
