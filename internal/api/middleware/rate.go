package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// MaxClients bounds the number of tracked client addresses.
	MaxClients int
	// IdleTTL forgets a client that has been quiet this long.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns production-ready rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		MaxClients:        4096,
		IdleTTL:           10 * time.Minute,
	}
}

func (cfg RateLimitConfig) withDefaults() RateLimitConfig {
	d := DefaultRateLimitConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = d.MaxClients
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = d.IdleTTL
	}
	return cfg
}

// RateLimit creates a per-IP rate limiting middleware. Idle clients expire
// from the table after IdleTTL.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	cfg = cfg.withDefaults()
	clients := expirable.NewLRU[string, *rate.Limiter](cfg.MaxClients, nil, cfg.IdleTTL)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		limiter, ok := clients.Get(ip)
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		}
		// re-adding refreshes the idle deadline
		clients.Add(ip, limiter)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
