package actionbus_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/actionbus/pkg/actionbus"
	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/observability"
)

func testDispatch() *actionbus.Dispatch {
	a := action.New("a", nil, action.WithCorrelationID("C"))
	record := action.Record{"a": a}
	return &actionbus.Dispatch{
		HandlerID:   "h-1",
		HandlerName: "handler",
		Joined:      action.Merge(record, "a"),
		Record:      record,
	}
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) actionbus.MiddlewareFunc {
		return func(next actionbus.DispatchFunc) actionbus.DispatchFunc {
			return func(ctx context.Context, d *actionbus.Dispatch) error {
				order = append(order, name+":before")
				err := next(ctx, d)
				order = append(order, name+":after")
				return err
			}
		}
	}

	fn := actionbus.ChainMiddleware(func(ctx context.Context, d *actionbus.Dispatch) error {
		order = append(order, "handler")
		return nil
	}, tag("outer"), tag("inner"))

	require.NoError(t, fn(context.Background(), testDispatch()))
	assert.Equal(t, []string{
		"outer:before", "inner:before", "handler", "inner:after", "outer:after",
	}, order)
}

func TestChainMiddlewareNone(t *testing.T) {
	called := false
	fn := actionbus.ChainMiddleware(func(ctx context.Context, d *actionbus.Dispatch) error {
		called = true
		return nil
	})
	require.NoError(t, fn(context.Background(), testDispatch()))
	assert.True(t, called)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	boom := errors.New("boom")
	fn := actionbus.LoggingMiddleware(logger)(func(ctx context.Context, d *actionbus.Dispatch) error {
		return boom
	})

	err := fn(context.Background(), testDispatch())
	assert.ErrorIs(t, err, boom)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "h-1", rec["handler_id"])
	assert.Equal(t, "handler", rec["handler"])
	assert.Equal(t, "C", rec["correlation_id"])
	assert.Equal(t, "boom", rec["error"])
}

func TestMetricsAndTracingMiddlewarePassThrough(t *testing.T) {
	boom := errors.New("boom")
	fn := actionbus.ChainMiddleware(
		func(ctx context.Context, d *actionbus.Dispatch) error { return boom },
		actionbus.TracingMiddleware(observability.NoopSpanManager{}),
		actionbus.MetricsMiddleware(observability.NoopMetrics{}),
	)
	assert.ErrorIs(t, fn(context.Background(), testDispatch()), boom)
}
