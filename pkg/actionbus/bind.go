package actionbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/correlate"
	"github.com/randalmurphal/actionbus/pkg/actionbus/observability"
	"github.com/randalmurphal/actionbus/pkg/actionbus/stream"
)

// Injects are the dependencies passed to every handler invocation.
// T is the handler family's own dependency struct, fixed at bind time.
type Injects[T any] struct {
	// Emit publishes onto the raw action stream.
	Emit func(ctx context.Context, a action.Action) error
	// EmitError reports an error to the bus error sink.
	EmitError func(ctx context.Context, err error)
	// Deps holds caller-supplied dependencies.
	Deps T
}

// Handler runs once per completed join. joined is the synthetic action for
// the join; action.RecordOf(joined) returns every member.
type Handler[T any] func(ctx context.Context, joined action.Action, bus DerivedBus, in Injects[T]) error

// HandlerSpec declares the action types a handler joins on.
type HandlerSpec[T any] struct {
	// Name identifies the handler in logs, metrics and errors.
	// Default: the declared types joined with "+".
	Name string

	// Types is the set of action types that must all arrive with the same
	// correlation ID. Duplicates are ignored.
	Types []string

	// Primary selects the member the joined action is built from.
	// Default: Types[0].
	Primary string

	Handle Handler[T]
}

// HandlerInfo describes a bound handler.
type HandlerInfo struct {
	ID    string
	Name  string
	Types []string
}

// BindOption configures Bind.
type BindOption func(*bindConfig)

type bindConfig struct {
	middleware []MiddlewareFunc
}

// WithMiddleware adds dispatch middleware, applied inside the bus's
// tracing, metrics and logging middleware.
func WithMiddleware(mw ...MiddlewareFunc) BindOption {
	return func(c *bindConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// Binding is a set of running handlers.
type Binding struct {
	cancel   context.CancelFunc
	group    *errgroup.Group
	inflight sync.WaitGroup
	handlers []HandlerInfo
}

// Bind starts one correlation loop per handler spec against the bus.
//
// Each loop owns its accumulator and reads the handler's types from a single
// subscription, so joins see actions in stream order. Completed joins are
// dispatched on their own goroutine; a handler error or panic is reported to
// the bus error sink and the loop keeps running. Loops run until ctx is
// cancelled, Stop is called, or the bus is closed.
//
// All specs are validated before any loop starts.
func Bind[T any](ctx context.Context, bus *Bus, specs []HandlerSpec[T], deps T, opts ...BindOption) (*Binding, error) {
	if bus == nil {
		return nil, ErrNilBus
	}

	cfg := &bindConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	for i, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return nil, &SpecError{Index: i, Name: spec.Name, Err: err}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	binding := &Binding{cancel: cancel, group: group}

	injects := Injects[T]{
		Emit:      bus.Emit,
		EmitError: bus.EmitError,
		Deps:      deps,
	}

	bound := make([]*boundHandler[T], 0, len(specs))
	for _, spec := range specs {
		h := newBoundHandler(bus, binding, spec, injects, cfg)
		if h.sub == nil {
			for _, b := range bound {
				b.sub.Unsubscribe()
			}
			cancel()
			return nil, ErrBusClosed
		}
		bound = append(bound, h)
		binding.handlers = append(binding.handlers, HandlerInfo{
			ID:    h.id,
			Name:  h.name,
			Types: h.acc.Types(),
		})
	}

	for _, h := range bound {
		group.Go(func() error {
			return h.run(ctx)
		})
	}

	return binding, nil
}

func validateSpec[T any](spec HandlerSpec[T]) error {
	if len(spec.Types) == 0 {
		return ErrNoTypes
	}
	for _, t := range spec.Types {
		if t == "" {
			return fmt.Errorf("%w: empty type", ErrNoTypes)
		}
	}
	if spec.Handle == nil {
		return ErrNilHandler
	}
	if spec.Primary != "" {
		for _, t := range spec.Types {
			if t == spec.Primary {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrPrimaryNotDeclared, spec.Primary)
	}
	return nil
}

// Handlers returns the bound handlers.
func (b *Binding) Handlers() []HandlerInfo {
	return append([]HandlerInfo(nil), b.handlers...)
}

// Wait blocks until every loop has exited and in-flight dispatches finish.
func (b *Binding) Wait() error {
	err := b.group.Wait()
	b.inflight.Wait()
	return err
}

// Stop cancels every loop and waits for them to finish.
func (b *Binding) Stop() error {
	b.cancel()
	return b.Wait()
}

// boundHandler is one handler's correlation loop.
type boundHandler[T any] struct {
	id      string
	name    string
	primary string

	bus      *Bus
	binding  *Binding
	sub      *stream.Subscription
	acc      *correlate.Accumulator
	injects  Injects[T]
	dispatch DispatchFunc
	logger   *slog.Logger
}

func newBoundHandler[T any](bus *Bus, binding *Binding, spec HandlerSpec[T], injects Injects[T], cfg *bindConfig) *boundHandler[T] {
	id := uuid.NewString()
	name := spec.Name
	if name == "" {
		name = strings.Join(spec.Types, "+")
	}
	primary := spec.Primary
	if primary == "" {
		primary = spec.Types[0]
	}

	h := &boundHandler[T]{
		id:      id,
		name:    name,
		primary: primary,
		bus:     bus,
		binding: binding,
		sub:     bus.Stream().Subscribe(spec.Types),
		acc:     correlate.New(id, spec.Types),
		injects: injects,
		logger:  observability.EnrichLogger(bus.logger, id, name),
	}

	handle := spec.Handle
	final := func(ctx context.Context, d *Dispatch) error {
		return callHandler(ctx, handle, d, h.injects)
	}

	mw := []MiddlewareFunc{
		TracingMiddleware(bus.spans),
		MetricsMiddleware(bus.metrics),
		LoggingMiddleware(bus.logger),
	}
	h.dispatch = ChainMiddleware(final, append(mw, cfg.middleware...)...)

	return h
}

// run folds the handler's sub-stream until ctx ends or the stream closes.
// Fold is never interleaved with itself: this goroutine is the only writer.
func (h *boundHandler[T]) run(ctx context.Context) error {
	defer h.sub.Unsubscribe()

	observability.LogHandlerBound(h.logger, h.acc.Types())

	for {
		select {
		case <-ctx.Done():
			observability.LogHandlerStopped(h.logger, context.Cause(ctx).Error())
			return nil

		case <-h.sub.Done():
			observability.LogHandlerStopped(h.logger, "stream closed")
			return nil

		case a := <-h.sub.Actions():
			res := h.acc.Fold(a)

			h.bus.metrics.RecordFold(ctx, h.name, h.acc.Pending())
			if res.Expired > 0 {
				h.bus.metrics.RecordExpired(ctx, h.name, res.Expired)
				observability.LogGroupsExpired(h.logger, res.Expired, h.acc.Pending())
			}

			if res.Complete {
				h.bus.metrics.RecordCompletion(ctx, h.name)
				observability.LogJoinCompleted(h.logger, res.Record.CorrelationID(), res.Record.Types())
				h.spawn(ctx, res.Record)
			}
		}
	}
}

// spawn dispatches a completed record without blocking the loop.
func (h *boundHandler[T]) spawn(ctx context.Context, record action.Record) {
	h.binding.inflight.Add(1)
	go func() {
		defer h.binding.inflight.Done()
		h.run1(ctx, record)
	}()
}

// run1 performs a single dispatch and reports its failure, if any.
func (h *boundHandler[T]) run1(ctx context.Context, record action.Record) {
	joined := action.Merge(record, h.primary)
	d := &Dispatch{
		HandlerID:   h.id,
		HandlerName: h.name,
		Joined:      joined,
		Record:      record,
		Bus:         h.bus.Derive(joined),
	}

	err := h.invoke(ctx, d)
	if err == nil {
		return
	}

	derr := &DispatchError{
		HandlerID:   h.id,
		HandlerName: h.name,
		Action:      joined,
		Err:         err,
	}
	var p *panicError
	if errors.As(err, &p) {
		derr.Panic = p.value
	}
	h.bus.EmitError(ctx, derr)
}

// invoke runs the middleware chain, converting a panic anywhere in it
// into an error.
func (h *boundHandler[T]) invoke(ctx context.Context, d *Dispatch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return h.dispatch(ctx, d)
}

// callHandler invokes the user handler, converting a panic into an error so
// the surrounding middleware observes it as a failure.
func callHandler[T any](ctx context.Context, handle Handler[T], d *Dispatch, in Injects[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return handle(ctx, d.Joined, d.Bus, in)
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrHandlerPanic, e.value)
}

func (e *panicError) Unwrap() error {
	return ErrHandlerPanic
}
