package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// PageCounter reports the number of open page sessions.
type PageCounter interface {
	Sessions() int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	relay Relay
	pages PageCounter
}

// NewHandlers creates a new handler set. pages may be nil.
func NewHandlers(relay Relay, pages PageCounter) *Handlers {
	return &Handlers{relay: relay, pages: pages}
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "oprelay",
		"version": Version,
	})
}

// Health handles detailed health check. The relay itself is healthy even
// while the backend is not.
func (h *Handlers) Health(c *gin.Context) {
	snap := h.relay.Readiness()
	body := gin.H{
		"status":    "healthy",
		"transport": h.relay.Transport(),
		"backend": gin.H{
			"state":                snap.State.String(),
			"ready":                snap.Ready,
			"poll_in_flight":       snap.PollInFlight,
			"consecutive_failures": snap.ConsecutiveFailures,
			"session_active":       h.relay.SessionActive(),
		},
	}
	if h.pages != nil {
		body["page_sessions"] = h.pages.Sessions()
	}
	c.JSON(http.StatusOK, body)
}

// Readiness answers 200 only once the backend has passed a health probe.
func (h *Handlers) Readiness(c *gin.Context) {
	snap := h.relay.Readiness()
	status := http.StatusOK
	if !snap.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready": snap.Ready,
		"state": snap.State.String(),
	})
}
