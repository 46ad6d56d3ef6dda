package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records action bus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordFold records one action folded into a handler's accumulator,
	// along with the number of groups still pending afterwards.
	RecordFold(ctx context.Context, handler string, pending int)

	// RecordCompletion records a completed join.
	RecordCompletion(ctx context.Context, handler string)

	// RecordExpired records pending groups removed by the expiry window.
	RecordExpired(ctx context.Context, handler string, count int)

	// RecordDispatch records a handler dispatch with its duration and error status.
	RecordDispatch(ctx context.Context, handler string, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	folds           metric.Int64Counter
	pending         metric.Int64Histogram
	completions     metric.Int64Counter
	expirations     metric.Int64Counter
	dispatches      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	dispatchErrors  metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("actionbus")

	folds, err := meter.Int64Counter("actionbus.accumulator.folds",
		metric.WithDescription("Number of actions folded into accumulators"),
	)
	if err != nil {
		return nil, err
	}

	pending, err := meter.Int64Histogram("actionbus.accumulator.pending",
		metric.WithDescription("Pending correlation groups observed after each fold"),
	)
	if err != nil {
		return nil, err
	}

	completions, err := meter.Int64Counter("actionbus.join.completions",
		metric.WithDescription("Number of completed correlation joins"),
	)
	if err != nil {
		return nil, err
	}

	expirations, err := meter.Int64Counter("actionbus.join.expirations",
		metric.WithDescription("Number of pending groups expired before completion"),
	)
	if err != nil {
		return nil, err
	}

	dispatches, err := meter.Int64Counter("actionbus.dispatch.count",
		metric.WithDescription("Number of handler dispatches"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("actionbus.dispatch.latency_ms",
		metric.WithDescription("Handler dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("actionbus.dispatch.errors",
		metric.WithDescription("Number of failed handler dispatches"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		folds:           folds,
		pending:         pending,
		completions:     completions,
		expirations:     expirations,
		dispatches:      dispatches,
		dispatchLatency: dispatchLatency,
		dispatchErrors:  dispatchErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func handlerAttrs(handler string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("handler", handler))
}

// RecordFold records a fold.
func (m *otelMetrics) RecordFold(ctx context.Context, handler string, pending int) {
	attrs := handlerAttrs(handler)
	m.folds.Add(ctx, 1, attrs)
	m.pending.Record(ctx, int64(pending), attrs)
}

// RecordCompletion records a completed join.
func (m *otelMetrics) RecordCompletion(ctx context.Context, handler string) {
	m.completions.Add(ctx, 1, handlerAttrs(handler))
}

// RecordExpired records expired groups.
func (m *otelMetrics) RecordExpired(ctx context.Context, handler string, count int) {
	if count <= 0 {
		return
	}
	m.expirations.Add(ctx, int64(count), handlerAttrs(handler))
}

// RecordDispatch records a dispatch.
func (m *otelMetrics) RecordDispatch(ctx context.Context, handler string, duration time.Duration, err error) {
	attrs := handlerAttrs(handler)

	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		m.dispatchErrors.Add(ctx, 1, attrs)
	}
}
