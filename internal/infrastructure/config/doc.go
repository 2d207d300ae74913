// Package config provides 12-factor configuration management for oprelay.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: relay host HTTP settings (port, host)
//   - Backend: transport kind, backend address, native host, timeouts
//   - Cipher: payload encryption switch and static key
//   - Relay: probe, retry and call timing
//   - Settings: optional persisted settings store (bbolt, TOML or YAML)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Relay listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - BACKEND_TRANSPORT, BACKEND_HOST, BACKEND_PORT, BACKEND_TOKEN
//   - NATIVE_SERVICE, NATIVE_HOST_PATH
//   - CIPHER_ACTIVE, CIPHER_KEY
//   - RELAY_SEND_TIMEOUT, RELAY_PROBE_INTERVAL, RELAY_RETRY_ATTEMPTS
//   - SETTINGS_PATH
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
