package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a test meter provider and returns its reader.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for a handler attribute.
func sumFor(t *testing.T, rm *metricdata.ResourceMetrics, name, handler string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type for %s", name)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value("handler"); ok && v.AsString() == handler {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordJoinMetrics(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordFold(ctx, "billing", 2)
	m.RecordFold(ctx, "billing", 1)
	m.RecordCompletion(ctx, "billing")
	m.RecordExpired(ctx, "billing", 3)
	m.RecordExpired(ctx, "billing", 0)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumFor(t, rm, "actionbus.accumulator.folds", "billing"))
	assert.Equal(t, int64(1), sumFor(t, rm, "actionbus.join.completions", "billing"))
	assert.Equal(t, int64(3), sumFor(t, rm, "actionbus.join.expirations", "billing"))

	pending := findMetric(rm, "actionbus.accumulator.pending")
	require.NotNil(t, pending)
	hist, ok := pending.Data.(metricdata.Histogram[int64])
	require.True(t, ok, "Expected Histogram type")
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestRecordDispatch(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDispatch(ctx, "ok", 10*time.Millisecond, nil)
	m.RecordDispatch(ctx, "failing", 5*time.Millisecond, errors.New("boom"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumFor(t, rm, "actionbus.dispatch.count", "ok"))
	assert.Equal(t, int64(1), sumFor(t, rm, "actionbus.dispatch.count", "failing"))
	assert.Equal(t, int64(1), sumFor(t, rm, "actionbus.dispatch.errors", "failing"))
	assert.Equal(t, int64(0), sumFor(t, rm, "actionbus.dispatch.errors", "ok"))

	latency := findMetric(rm, "actionbus.dispatch.latency_ms")
	require.NotNil(t, latency)
	_, ok := latency.Data.(metricdata.Histogram[float64])
	assert.True(t, ok, "Expected Histogram type")
}
