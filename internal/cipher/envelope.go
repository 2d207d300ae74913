package cipher

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MagicNumber is OR'ed into every obfuscation value.
const MagicNumber uint32 = 0x22E09

// Format selects the wire shape of the secure envelope.
type Format int

const (
	// FormatCompact is protocol v2: {"p", "msz"}.
	FormatCompact Format = iota
	// FormatVerbose is protocol v1: {"payload", "msgsize"}.
	FormatVerbose
)

func (f Format) String() string {
	switch f {
	case FormatCompact:
		return "compact"
	case FormatVerbose:
		return "verbose"
	default:
		return "unknown"
	}
}

// FormatFor maps the per-call verbose flag to a Format.
func FormatFor(verbose bool) Format {
	if verbose {
		return FormatVerbose
	}
	return FormatCompact
}

// MagicField is the plaintext field carrying the obfuscation value.
func (f Format) MagicField() string {
	if f == FormatVerbose {
		return "magicToken"
	}
	return "mgc"
}

func (f Format) fields() (payload, size string) {
	if f == FormatVerbose {
		return "payload", "msgsize"
	}
	return "p", "msz"
}

// ErrNotSecure is returned by ParseSecure for plain payloads.
var ErrNotSecure = errors.New("payload is not a secure envelope")

// Seal wraps ciphertext and the plaintext length in the envelope for f.
func Seal(ciphertext string, plainLen int, f Format) map[string]any {
	pf, sf := f.fields()
	return map[string]any{pf: ciphertext, sf: plainLen}
}

// ParseSecure detects the envelope shape of body and returns its parts.
func ParseSecure(body map[string]any) (ciphertext string, plainLen int, f Format, err error) {
	for _, f := range []Format{FormatCompact, FormatVerbose} {
		pf, sf := f.fields()
		raw, ok := body[pf]
		if !ok {
			continue
		}
		ct, ok := raw.(string)
		if !ok {
			return "", 0, f, fmt.Errorf("%s field must be a string", pf)
		}
		n, _ := toInt(body[sf])
		return ct, n, f, nil
	}
	return "", 0, FormatCompact, ErrNotSecure
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// MagicToken returns a random 32 bit value with every MagicNumber bit set.
func MagicToken(r io.Reader) (uint32, error) {
	if r == nil {
		r = rand.Reader
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]) | MagicNumber, nil
}

// VerifyMagic reports whether every bit of mask is set in n.
func VerifyMagic(n uint32, mask uint32) bool {
	return n&mask == mask
}
