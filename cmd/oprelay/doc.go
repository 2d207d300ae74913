// Package main is the entry point for the oprelay host.
//
// The host relays calls from embedded objects on a page to a local backend
// process:
//
//	Page (front stub) → /page websocket → Context Bridge → Relay Core → Backend
//
// Commands:
//   - serve: run the relay host (REST API, page sessions, metrics)
//   - probe: check the backend heartbeat once and exit
//   - settings show|set: inspect or edit the persisted backend settings
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./oprelay serve --port 8700 --transport http --backend-port 7777
//
//	# Development mode (colored logs, debug level)
//	./oprelay serve --dev
//
//	# Persisted settings
//	./oprelay settings set --settings ~/.oprelay/settings.db personalToken=abc
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
