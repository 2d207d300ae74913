package resilience

import (
	"sync"
)

// State is the backend readiness state.
type State int

const (
	StateDisconnected State = iota
	StateProbing
	StateReady
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateProbing:
		return "probing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Settings configures the readiness tracker
type Settings struct {
	// OnStateChange is called whenever the state changes, outside the lock
	OnStateChange func(name string, from State, to State)
}

// Snapshot is a point-in-time copy of the readiness state
type Snapshot struct {
	State               State
	Ready               bool
	PollInFlight        bool
	ConsecutiveFailures uint32
}

// Readiness tracks whether the backend has answered a health probe since the
// channel last dropped.
//
//	DISCONNECTED --BeginProbe--> PROBING --MarkReady--> READY
//	      ^                         |                     |
//	      +--------EndProbe---------+                     |
//	      +-----------------Reset-------------------------+
//
// READY is only reachable from PROBING, so no path skips a successful probe.
type Readiness struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	failures uint32
}

// NewReadiness creates a tracker in the disconnected state
func NewReadiness(name string, settings Settings) *Readiness {
	return &Readiness{
		name:     name,
		settings: settings,
		state:    StateDisconnected,
	}
}

// Name returns the name of the tracker
func (r *Readiness) Name() string {
	return r.name
}

// State returns the current state
func (r *Readiness) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Ready reports whether the backend is ready
func (r *Readiness) Ready() bool {
	return r.State() == StateReady
}

// Snapshot returns a copy of the current state
func (r *Readiness) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		State:               r.state,
		Ready:               r.state == StateReady,
		PollInFlight:        r.state == StateProbing,
		ConsecutiveFailures: r.failures,
	}
}

// BeginProbe moves DISCONNECTED to PROBING. It returns false if a probe loop
// is already running or the backend is already ready.
func (r *Readiness) BeginProbe() bool {
	return r.transition(StateProbing, StateDisconnected)
}

// ProbeFailed records a failed probe attempt
func (r *Readiness) ProbeFailed() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	return r.failures
}

// MarkReady moves PROBING to READY after a successful probe
func (r *Readiness) MarkReady() bool {
	r.mu.Lock()
	if r.state != StateProbing {
		r.mu.Unlock()
		return false
	}
	r.failures = 0
	r.mu.Unlock()
	return r.transition(StateReady, StateProbing)
}

// EndProbe abandons a probe loop without reaching READY
func (r *Readiness) EndProbe() bool {
	return r.transition(StateDisconnected, StateProbing)
}

// Reset moves READY back to DISCONNECTED after a transport failure. A
// running probe loop is left alone.
func (r *Readiness) Reset() bool {
	return r.transition(StateDisconnected, StateReady)
}

func (r *Readiness) transition(to State, from ...State) bool {
	r.mu.Lock()
	prev := r.state
	allowed := false
	for _, f := range from {
		if prev == f {
			allowed = true
			break
		}
	}
	if !allowed {
		r.mu.Unlock()
		return false
	}
	r.state = to
	r.mu.Unlock()

	if r.settings.OnStateChange != nil {
		r.settings.OnStateChange(r.name, prev, to)
	}
	return true
}
