// Package ws serves page sessions over WebSocket.
//
// A page attaches at /page and exchanges page bus messages as JSON. Each
// connection gets its own bus and context bridge; closing the socket
// unloads every instance the page registered.
//
// Message Types (Page → Relay):
//   - register-request: register a named instance
//   - invoke-request: call a method on an instance
//   - ping: keep-alive ping
//
// Message Types (Relay → Page):
//   - ready: the bridge is serving
//   - register-response, invoke-response: answers, matched by requestId
//   - load-result, unload-result: backend load outcomes for any page
//   - pong, error
//
// Example Usage:
//
//	handler := ws.NewHandler(ws.Config{Upstream: core, Hub: hub})
//	router.GET("/page", handler.HandleConnection)
package ws
