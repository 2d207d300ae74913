// Package http provides the REST surface of the relay host.
//
// Endpoints:
//   - Health: /, /health and /readiness
//   - Applets: POST /applets/load, /applets/:name/unload, /applets/:name/invoke,
//     /applets/:name/focus, /applets/:name/blur and /applets/:name/move
//
// Relay failures map to gateway statuses: a timeout is 504, an unavailable
// backend is 503, and transport or backend-reported failures are 502.
//
// Example Usage:
//
//	handlers := http.NewHandlers(core, pages)
//	router.GET("/health", handlers.Health)
//	router.POST("/applets/:name/invoke", handlers.InvokeApplet)
package http
