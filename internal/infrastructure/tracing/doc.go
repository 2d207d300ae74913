/*
Package tracing provides lightweight request tracing across the relay.

# Overview

A trace follows one request from the HTTP surface through the relay core to
the backend. Spans are buffered and logged through zap; nothing is exported.

# Features

- Trace context propagation via HTTP headers
- Span creation with parent-child relationships
- Gin middleware for the relay host routes
- Trace helper for relay calls
- Trace headers forwarded on backend HTTP requests

# Usage

	tracer := tracing.New("oprelay", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	err := tracing.Trace(ctx, tracer, "relay.load_applet", tags, func(ctx context.Context) error {
	    return doCall(ctx)
	})

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation
*/
package tracing
