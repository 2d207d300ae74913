package stub

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/pagebus"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

// Instance is the call proxy for one registered name.
type Instance struct {
	stub *Stub

	Name     string
	HandleID string
	Options  map[string]any
}

// Invoke calls method on the backend instance. Local methods are answered
// in place. Arguments that cannot be serialized are dropped first.
func (i *Instance) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	if protocol.IsLocalMethod(method) {
		return protocol.LocalResult(method), nil
	}

	filtered := FilterArgs(args)
	if len(filtered) != len(args) {
		i.stub.logger.Debug("non-serializable arguments dropped",
			zap.String("applet", i.Name),
			zap.String("method", method),
			zap.Int("dropped", len(args)-len(filtered)),
		)
	}

	resp, err := i.stub.request(ctx, pagebus.Message{
		Type:       pagebus.TypeInvokeRequest,
		RequestID:  id.NewRequestID().String(),
		AppletName: i.Name,
		HandleID:   i.HandleID,
		Method:     method,
		Args:       filtered,
		Options:    callOptions(i.Options),
	})
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", i.Name, method, err)
	}
	return resp.Result, nil
}

// IsSupported is the capability probe. It never leaves the page and always
// reports false.
func (i *Instance) IsSupported() bool {
	return false
}

// IsActive reports whether the backend instance is running.
func (i *Instance) IsActive(ctx context.Context) (bool, error) {
	v, err := i.Invoke(ctx, "isActive")
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strings.EqualFold(t, "true"), nil
	}
	return false, nil
}

// GetVersion returns the runtime version reported by the backend.
func (i *Instance) GetVersion(ctx context.Context) (string, error) {
	return i.invokeString(ctx, "getVersion")
}

// GetVendor returns the runtime vendor reported by the backend.
func (i *Instance) GetVendor(ctx context.Context) (string, error) {
	return i.invokeString(ctx, "getVendor")
}

// GetAppVersion returns the instance's own version.
func (i *Instance) GetAppVersion(ctx context.Context) (string, error) {
	return i.invokeString(ctx, "getAppVersion")
}

// GetProp returns a system property of the backend runtime.
func (i *Instance) GetProp(ctx context.Context, property string) (string, error) {
	return i.invokeString(ctx, "getProp", property)
}

// Statusbar sends a status bar message to the instance.
func (i *Instance) Statusbar(ctx context.Context, message string) error {
	_, err := i.Invoke(ctx, "statusbar", message)
	return err
}

func (i *Instance) invokeString(ctx context.Context, method string, args ...any) (string, error) {
	v, err := i.Invoke(ctx, method, args...)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	default:
		return fmt.Sprint(t), nil
	}
}

// callOptions picks the per-call wire flags out of the instance options.
func callOptions(opts map[string]any) map[string]any {
	var out map[string]any
	for _, key := range []string{"verbose", "obfuscate"} {
		if v, ok := opts[key].(bool); ok {
			if out == nil {
				out = make(map[string]any, 2)
			}
			out[key] = v
		}
	}
	return out
}

// FilterArgs drops arguments that have no serialized form: functions,
// channels and unsafe pointers. The remaining order is preserved.
func FilterArgs(args []any) []any {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			out = append(out, nil)
			continue
		}
		switch reflect.TypeOf(arg).Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			continue
		}
		out = append(out, arg)
	}
	return out
}
