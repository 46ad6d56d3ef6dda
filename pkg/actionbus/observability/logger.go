// Package observability provides structured logging, metrics, and tracing
// for the action bus.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds handler context to a logger.
// Returns a new logger with handler_id and handler fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "9f1c...", "billing")
//	enriched.Info("joined") // includes handler_id, handler
func EnrichLogger(logger *slog.Logger, handlerID, handlerName string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("handler_id", handlerID),
		slog.String("handler", handlerName),
	)
}

// LogHandlerBound logs that a handler started consuming the stream.
func LogHandlerBound(logger *slog.Logger, types []string) {
	if logger == nil {
		return
	}
	logger.Info("handler bound",
		slog.Any("types", types),
	)
}

// LogHandlerStopped logs that a handler's loop exited.
func LogHandlerStopped(logger *slog.Logger, reason string) {
	if logger == nil {
		return
	}
	logger.Info("handler stopped",
		slog.String("reason", reason),
	)
}

// LogJoinCompleted logs a completed correlation join.
func LogJoinCompleted(logger *slog.Logger, correlationID string, types []string) {
	if logger == nil {
		return
	}
	logger.Debug("join completed",
		slog.String("correlation_id", correlationID),
		slog.Any("types", types),
	)
}

// LogGroupsExpired logs pending groups swept by the expiry window.
func LogGroupsExpired(logger *slog.Logger, count, pending int) {
	if logger == nil || count == 0 {
		return
	}
	logger.Debug("pending groups expired",
		slog.Int("expired", count),
		slog.Int("pending", pending),
	)
}

// LogDispatchComplete logs a successful handler dispatch.
func LogDispatchComplete(logger *slog.Logger, correlationID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch completed",
		slog.String("correlation_id", correlationID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchError logs a failed handler dispatch.
func LogDispatchError(logger *slog.Logger, correlationID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("dispatch failed",
		slog.String("correlation_id", correlationID),
		slog.String("error", err.Error()),
	)
}

// LogErrorUndelivered logs an error that could not reach the error sink.
func LogErrorUndelivered(logger *slog.Logger, err error, cause error) {
	if logger == nil {
		return
	}
	logger.Warn("error report undelivered",
		slog.String("error", err.Error()),
		slog.String("cause", cause.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
