// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Output defaults to stderr: in native-messaging mode stdout carries the
// framed protocol and must not receive log lines.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	relayLog := logger.Component("relay")
//	relayLog.Warn("stale response discarded", zap.String("request_id", id))
package logging
