// Package id generates the correlation identifiers used across the relay.
//
// Request and page identifiers are prefixed ULIDs: they sort by creation time,
// which makes relay logs readable in order, and the prefix tells which hop
// issued them (req_*, reg_*, page_*). Instance handles use random UUIDs since
// they are never ordered, only compared.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RequestID correlates one request/response pair on a single hop.
type RequestID string

// RegisterID correlates a register-request with its register-response.
type RegisterID string

// PageID identifies one connected page session.
type PageID string

// HandleID identifies one registered instance handle.
type HandleID string

const (
	RequestPrefix  = "req"
	RegisterPrefix = "reg"
	PagePrefix     = "page"
)

// Generator generates monotonic ULIDs with optional prefixes.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand. Ids issued within
// the same millisecond still sort in issue order.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0)}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRequestID generates a new request id.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewRegisterID generates a new registration id.
func NewRegisterID() RegisterID {
	return RegisterID(Default().GenerateWithPrefix(RegisterPrefix))
}

// NewPageID generates a new page session id.
func NewPageID() PageID {
	return PageID(Default().GenerateWithPrefix(PagePrefix))
}

// NewHandleID generates a new instance handle id.
func NewHandleID() HandleID {
	return HandleID(uuid.NewString())
}

func (id RequestID) String() string  { return string(id) }
func (id RegisterID) String() string { return string(id) }
func (id PageID) String() string     { return string(id) }
func (id HandleID) String() string   { return string(id) }

// IsValid checks if a string is a valid ULID.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}

// Timestamp extracts the creation time of a prefixed or bare ULID.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
