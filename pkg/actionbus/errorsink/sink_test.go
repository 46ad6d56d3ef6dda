package errorsink_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/errorsink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFailure carries dispatch context like the bus's dispatch errors do.
type testFailure struct {
	act action.Action
	err error
}

func (f *testFailure) Error() string { return "dispatch: " + f.err.Error() }

func (f *testFailure) Unwrap() error { return f.err }

func (f *testFailure) FailedAction() action.Action { return f.act }

func (f *testFailure) FailedHandler() (string, string) { return "h-1", "billing" }

func newFailure(correlationID, msg string) error {
	return &testFailure{
		act: action.New("order.paid", nil, action.WithCorrelationID(correlationID)),
		err: errors.New(msg),
	}
}

func TestNewFailedDispatch(t *testing.T) {
	t.Run("with dispatch context", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", newFailure("c1", "boom"))
		fd := errorsink.NewFailedDispatch(err)

		assert.Equal(t, "order.paid", fd.ActionType)
		assert.Equal(t, "c1", fd.CorrelationID)
		assert.Equal(t, "h-1", fd.HandlerID)
		assert.Equal(t, "billing", fd.HandlerName)
		assert.Contains(t, fd.ErrorMessage, "boom")
		assert.False(t, fd.FailedAt.IsZero())
	})

	t.Run("plain error", func(t *testing.T) {
		fd := errorsink.NewFailedDispatch(errors.New("plain"))
		assert.Equal(t, "plain", fd.ErrorMessage)
		assert.Empty(t, fd.HandlerID)
	})
}

func TestChannelSink(t *testing.T) {
	sink := errorsink.NewChannelSink(1, nil)
	want := errors.New("boom")

	sink.Report(context.Background(), want)
	sink.Report(context.Background(), nil) // ignored

	select {
	case got := <-sink.Errors():
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("expected error on channel")
	}

	select {
	case got := <-sink.Errors():
		t.Fatalf("unexpected error %v", got)
	default:
	}
}

func TestChannelSinkLogsWhenFull(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	sink := errorsink.NewChannelSink(1, logger)

	sink.Report(context.Background(), errors.New("kept"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.Report(context.Background(), errors.New("lost"))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a full buffer")
	}

	assert.Contains(t, buf.String(), "error report undelivered")
	assert.Contains(t, buf.String(), "lost")
	assert.Contains(t, buf.String(), errorsink.ErrSinkFull.Error())
	require.Len(t, sink.Errors(), 1)
	assert.EqualError(t, <-sink.Errors(), "kept")
}

func TestChannelSinkIgnoresCancellation(t *testing.T) {
	sink := errorsink.NewChannelSink(1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink.Report(ctx, errors.New("kept"))
	require.Len(t, sink.Errors(), 1)
	assert.EqualError(t, <-sink.Errors(), "kept")
}

func TestMulti(t *testing.T) {
	first := errorsink.NewMemoryJournal(10)
	second := errorsink.NewMemoryJournal(10)

	errorsink.Multi(first, nil, second).Report(context.Background(), errors.New("x"))

	n, _ := first.Count(context.Background())
	assert.Equal(t, 1, n)
	n, _ = second.Count(context.Background())
	assert.Equal(t, 1, n)
}

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := errorsink.NewMemoryJournal(2)

	j.Report(ctx, newFailure("c1", "one"))
	j.Report(ctx, newFailure("c2", "two"))
	j.Report(ctx, newFailure("c3", "three"))
	j.Report(ctx, nil)

	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(1), j.Evicted())

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c2", all[0].CorrelationID)
	assert.Equal(t, "c3", all[1].CorrelationID)

	limited, err := j.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteJournal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "failures.db")

	j, err := errorsink.NewSQLiteJournal(path, nil)
	require.NoError(t, err)

	j.Report(ctx, newFailure("c1", "one"))
	j.Report(ctx, newFailure("c2", "two"))
	j.Report(ctx, newFailure("c1", "three"))

	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Contains(t, all[0].ErrorMessage, "one")
	assert.Equal(t, "billing", all[0].HandlerName)

	limited, err := j.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byCorr, err := j.ListByCorrelation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, byCorr, 2)

	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	// Reopen: failures survive.
	reopened, err := errorsink.NewSQLiteJournal(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	n, err = reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteJournalRecordsAfterCancellation(t *testing.T) {
	j, err := errorsink.NewSQLiteJournal(":memory:", nil)
	require.NoError(t, err)
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Report(ctx, newFailure("c1", "late"))

	n, err := j.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteJournalClosed(t *testing.T) {
	j, err := errorsink.NewSQLiteJournal(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = j.Count(context.Background())
	assert.ErrorIs(t, err, errorsink.ErrJournalClosed)

	err = j.Save(context.Background(), errorsink.NewFailedDispatch(errors.New("x")))
	assert.ErrorIs(t, err, errorsink.ErrJournalClosed)
}
