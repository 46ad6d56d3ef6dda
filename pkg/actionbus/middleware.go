package actionbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/observability"
)

// Dispatch describes one handler invocation for a completed join.
type Dispatch struct {
	HandlerID   string
	HandlerName string
	// Joined is the synthetic action built from the record.
	Joined action.Action
	// Record holds every member of the join.
	Record action.Record
	// Bus is the derived emission bus scoped to Joined.
	Bus DerivedBus
}

// DispatchFunc runs a dispatch.
type DispatchFunc func(ctx context.Context, d *Dispatch) error

// MiddlewareFunc wraps dispatches to add cross-cutting concerns.
type MiddlewareFunc func(next DispatchFunc) DispatchFunc

// ChainMiddleware applies middleware in order, with first middleware outermost.
func ChainMiddleware(fn DispatchFunc, middleware ...MiddlewareFunc) DispatchFunc {
	for i := len(middleware) - 1; i >= 0; i-- {
		fn = middleware[i](fn)
	}
	return fn
}

// TracingMiddleware starts a span per dispatch.
func TracingMiddleware(spans observability.SpanManager) MiddlewareFunc {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, d *Dispatch) error {
			ctx, span := spans.StartDispatchSpan(ctx, d.HandlerName, d.Joined.Meta.CorrelationID, d.Record.Types())
			err := next(ctx, d)
			spans.EndSpanWithError(span, err)
			return err
		}
	}
}

// MetricsMiddleware records dispatch count, latency, and errors.
func MetricsMiddleware(metrics observability.MetricsRecorder) MiddlewareFunc {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, d *Dispatch) error {
			start := time.Now()
			err := next(ctx, d)
			metrics.RecordDispatch(ctx, d.HandlerName, time.Since(start), err)
			return err
		}
	}
}

// LoggingMiddleware logs each dispatch outcome.
func LoggingMiddleware(logger *slog.Logger) MiddlewareFunc {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, d *Dispatch) error {
			done := observability.TimedOperation()
			err := next(ctx, d)

			log := observability.EnrichLogger(logger, d.HandlerID, d.HandlerName)
			if err != nil {
				observability.LogDispatchError(log, d.Joined.Meta.CorrelationID, err)
			} else {
				observability.LogDispatchComplete(log, d.Joined.Meta.CorrelationID, done())
			}
			return err
		}
	}
}
