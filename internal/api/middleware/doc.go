// Package middleware provides the HTTP middleware of the relay host and the
// development backend.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing for pages calling the relay
//   - RateLimit: Per-IP token bucket rate limiting
//
// Rate Limiting:
//   - Per-IP tracking; idle clients expire after IdleTTL
//   - Token bucket algorithm
//   - Configurable RPS and burst capacity
//   - Global rate limiting option
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
