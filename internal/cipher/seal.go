package cipher

import (
	"fmt"
	"io"

	"github.com/GriffinCanCode/oprelay/internal/protocol"
)

// Wrap attaches a magic number to payload and, when cfg is active, replaces
// it with a secure envelope. When cfg is inactive the magic number is only
// attached if obfuscate is set. payload is not modified.
func Wrap(payload map[string]any, cfg Config, f Format, obfuscate bool, r io.Reader) (map[string]any, error) {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}

	if cfg.Active || obfuscate {
		magic, err := MagicToken(r)
		if err != nil {
			return nil, fmt.Errorf("magic token: %w", err)
		}
		out[f.MagicField()] = magic
	}
	if !cfg.Active {
		return out, nil
	}

	plain, err := protocol.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	ct, err := Encrypt(plain, cfg.EffectiveKey())
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}
	return Seal(ct, len(plain), f), nil
}

// Open decrypts a secure envelope with each key in turn and returns the
// plaintext payload and the envelope format. Plain bodies are returned as is
// with ErrNotSecure.
func Open(body map[string]any, keys ...string) (map[string]any, Format, error) {
	ct, size, f, err := ParseSecure(body)
	if err != nil {
		return body, f, err
	}

	var lastErr error
	for _, key := range keys {
		if key == "" {
			continue
		}
		plain, err := Decrypt(ct, key)
		if err != nil {
			lastErr = err
			continue
		}
		if size > 0 && size != len(plain) {
			lastErr = fmt.Errorf("plaintext size mismatch: want %d, got %d", size, len(plain))
			continue
		}
		var payload map[string]any
		if err := protocol.Unmarshal(plain, &payload); err != nil {
			lastErr = fmt.Errorf("decode payload: %w", err)
			continue
		}
		return payload, f, nil
	}
	if lastErr == nil {
		lastErr = ErrInvalidKey
	}
	return nil, f, lastErr
}

// ExtractMagic reads the obfuscation value from a plaintext payload in
// either format.
func ExtractMagic(payload map[string]any) (uint32, bool) {
	for _, f := range []Format{FormatCompact, FormatVerbose} {
		if n, ok := toInt(payload[f.MagicField()]); ok {
			return uint32(n), true
		}
	}
	return 0, false
}
