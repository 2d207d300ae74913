package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

// Handle is one registered instance. Registering a name again creates a new
// handle; handles are never merged.
type Handle struct {
	ID        id.HandleID
	Name      string
	Options   map[string]any
	CreatedAt time.Time
	// Auto is set for handles created implicitly by an invoke on an
	// unknown name.
	Auto bool
}

// Registry holds the handles of one page.
type Registry struct {
	mu      sync.RWMutex
	handles map[id.HandleID]*Handle
	byName  map[string][]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[id.HandleID]*Handle),
		byName:  make(map[string][]*Handle),
	}
}

// Add creates a new handle for name.
func (r *Registry) Add(name string, options map[string]any, auto bool, now time.Time) *Handle {
	if options == nil {
		options = map[string]any{}
	}
	h := &Handle{
		ID:        id.NewHandleID(),
		Name:      name,
		Options:   options,
		CreatedAt: now,
		Auto:      auto,
	}

	r.mu.Lock()
	r.handles[h.ID] = h
	r.byName[name] = append(r.byName[name], h)
	r.mu.Unlock()
	return h
}

// Get returns the handle with the given id.
func (r *Registry) Get(hid id.HandleID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[hid]
	return h, ok
}

// Lookup returns the most recent handle registered under name.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.byName[name]
	if len(hs) == 0 {
		return nil, false
	}
	return hs[len(hs)-1], true
}

// ByName returns every handle registered under name, oldest first.
func (r *Registry) ByName(name string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Handle(nil), r.byName[name]...)
}

// Names returns the distinct registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
