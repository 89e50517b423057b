// Package logging provides structured logging for projmetad.
//
// It wraps zap with context-aware methods: every log call extracts trace
// correlation (trace_id, span_id) and request identity from the context
// before emitting. Output goes to stdout (JSON or console) and, optionally,
// to an OpenTelemetry log provider via the otelzap bridge.
//
// Use NewTestLogger in tests to capture and assert on log output.
package logging
