// Package errorsink receives errors reported by handler dispatches.
//
// Every dispatch failure is reported to a Sink; none is dropped silently.
// ChannelSink hands errors to a consumer over a channel and logs what the
// consumer has no room for. The journals keep a queryable record of failures
// for later inspection. Report never blocks the dispatch that failed.
package errorsink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/observability"
)

// ErrSinkFull is the logged cause when a ChannelSink buffer has no room.
var ErrSinkFull = errors.New("error buffer full")

// Sink receives dispatch errors.
// Implementations must be safe for concurrent use.
type Sink interface {
	Report(ctx context.Context, err error)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, err error)

// Report implements Sink.
func (f SinkFunc) Report(ctx context.Context, err error) {
	f(ctx, err)
}

// Failure is implemented by errors that know which dispatch failed.
type Failure interface {
	error
	FailedAction() action.Action
	FailedHandler() (id, name string)
}

// FailedDispatch is the journaled form of a dispatch error.
type FailedDispatch struct {
	ActionID      string    `json:"action_id"`
	ActionType    string    `json:"action_type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	HandlerID     string    `json:"handler_id,omitempty"`
	HandlerName   string    `json:"handler,omitempty"`
	ErrorMessage  string    `json:"error_message"`
	FailedAt      time.Time `json:"failed_at"`
}

// NewFailedDispatch describes err. Dispatch context is filled in when err
// (or an error it wraps) implements Failure.
func NewFailedDispatch(err error) *FailedDispatch {
	fd := &FailedDispatch{
		ErrorMessage: err.Error(),
		FailedAt:     time.Now().UTC(),
	}

	var f Failure
	if errors.As(err, &f) {
		a := f.FailedAction()
		fd.ActionID = a.ID
		fd.ActionType = a.Type
		fd.CorrelationID = a.Meta.CorrelationID
		fd.HandlerID, fd.HandlerName = f.FailedHandler()
	}
	return fd
}

// ChannelSink delivers errors on a channel.
type ChannelSink struct {
	ch     chan error
	logger *slog.Logger
}

// NewChannelSink creates a channel sink with the given buffer size.
// Errors arriving while the buffer is full are logged to logger
// (slog.Default() when nil) instead of delivered.
func NewChannelSink(buffer int, logger *slog.Logger) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelSink{
		ch:     make(chan error, buffer),
		logger: logger,
	}
}

// Errors returns the channel errors are delivered on.
func (s *ChannelSink) Errors() <-chan error {
	return s.ch
}

// Report delivers err if the buffer has room and logs it at WARN otherwise.
// It never waits for a reader.
func (s *ChannelSink) Report(_ context.Context, err error) {
	if err == nil {
		return
	}
	select {
	case s.ch <- err:
	default:
		observability.LogErrorUndelivered(s.logger, err, ErrSinkFull)
	}
}

// Multi fans a report out to every sink in order. Put durable sinks first.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, err error) {
		for _, s := range sinks {
			if s != nil {
				s.Report(ctx, err)
			}
		}
	})
}
