// Package server assembles the relay host.
//
// This package orchestrates all components:
//   - Settings store (static, bbolt, TOML or YAML)
//   - Backend gateway (http, native or websocket)
//   - Relay core with its readiness probe and retry policies
//   - Page sessions over WebSocket, each with its own context bridge
//   - HTTP routing with Gin framework and the middleware stack
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Open the settings store and build the gateway
//  4. Create the relay core and page session handler
//  5. Setup HTTP routes and middleware
//  6. Start probing the backend and serve HTTP
//  7. Graceful shutdown on signal
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg, logging.NewDefault())
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
