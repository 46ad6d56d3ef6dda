package actionbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/config"
	"github.com/randalmurphal/actionbus/pkg/actionbus/errorsink"
	"github.com/randalmurphal/actionbus/pkg/actionbus/observability"
	"github.com/randalmurphal/actionbus/pkg/actionbus/stream"
)

// Prefix declares a derived emission namespace. Actions emitted through it
// are typed "{Name}.{type}" and carry DefaultCheckin unless overridden.
type Prefix struct {
	Name           string
	DefaultCheckin string
}

// Bus is the shared action stream plus its derived emitters and error sink.
type Bus struct {
	stream   *stream.LocalStream
	prefixes map[string]*PrefixEmitter
	order    []string

	sink     errorsink.Sink
	channel  *errorsink.ChannelSink
	closers  []func() error
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	streamCf stream.Config
	errBuf   int
}

// Option configures a Bus.
type Option func(*Bus)

// WithStreamConfig sets the underlying stream configuration.
func WithStreamConfig(cfg stream.Config) Option {
	return func(b *Bus) {
		b.streamCf = cfg
	}
}

// WithErrorSink replaces the default channel sink.
// Errors() returns nil when a custom sink is installed.
func WithErrorSink(sink errorsink.Sink) Option {
	return func(b *Bus) {
		b.sink = sink
	}
}

// WithErrorBuffer sets the buffer of the default channel sink. Errors
// reported while the buffer is full are logged rather than delivered.
// Default: 64
func WithErrorBuffer(n int) Option {
	return func(b *Bus) {
		b.errBuf = n
	}
}

// WithLogger sets the structured logger.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithSpanManager sets the tracing span manager.
// Default: observability.NoopSpanManager{}
func WithSpanManager(s observability.SpanManager) Option {
	return func(b *Bus) {
		if s != nil {
			b.spans = s
		}
	}
}

// Make builds a bus with one derived emitter per prefix.
//
// Example:
//
//	bus, err := actionbus.Make([]actionbus.Prefix{
//	    {Name: "billing", DefaultCheckin: "billing"},
//	})
func Make(prefixes []Prefix, opts ...Option) (*Bus, error) {
	b := &Bus{
		prefixes: make(map[string]*PrefixEmitter, len(prefixes)),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		streamCf: stream.DefaultConfig,
		errBuf:   config.DefaultErrorBuffer,
	}

	for _, opt := range opts {
		opt(b)
	}

	for _, p := range prefixes {
		if p.Name == "" {
			return nil, ErrEmptyPrefix
		}
		if _, dup := b.prefixes[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePrefix, p.Name)
		}
		b.prefixes[p.Name] = &PrefixEmitter{
			name:           p.Name,
			defaultCheckin: p.DefaultCheckin,
			bus:            b,
		}
		b.order = append(b.order, p.Name)
	}

	if b.sink == nil {
		b.channel = errorsink.NewChannelSink(b.errBuf, b.logger)
		b.sink = b.channel
	}

	b.stream = stream.New(b.streamCf)
	return b, nil
}

// MakeFromSettings builds a bus from loaded settings. When a journal path is
// configured, failures are also recorded in a SQLite journal that is closed
// with the bus.
func MakeFromSettings(s config.Settings, opts ...Option) (*Bus, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	prefixes := make([]Prefix, 0, len(s.Prefixes))
	for _, p := range s.Prefixes {
		prefixes = append(prefixes, Prefix{Name: p.Name, DefaultCheckin: p.Checkin})
	}

	base := []Option{
		WithStreamConfig(stream.Config{BufferSize: s.BufferSize}),
		WithErrorBuffer(s.ErrorBuffer),
	}
	b, err := Make(prefixes, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	if s.JournalPath != "" {
		journal, err := errorsink.NewSQLiteJournal(s.JournalPath, b.logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open error journal: %w", err)
		}
		// Journal first: the channel sink may be full.
		b.sink = errorsink.Multi(journal, b.sink)
		b.closers = append(b.closers, journal.Close)
	}

	return b, nil
}

// Emit publishes an action onto the stream.
func (b *Bus) Emit(ctx context.Context, a action.Action) error {
	return b.stream.Publish(ctx, a)
}

// EmitError reports an error to the bus error sink.
func (b *Bus) EmitError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	b.sink.Report(ctx, err)
}

// Errors returns the default error channel, or nil if a custom sink is set.
func (b *Bus) Errors() <-chan error {
	if b.channel == nil {
		return nil
	}
	return b.channel.Errors()
}

// Stream returns the underlying action stream.
func (b *Bus) Stream() *stream.LocalStream {
	return b.stream
}

// Prefixes returns the derived emitters keyed by prefix name.
func (b *Bus) Prefixes() map[string]*PrefixEmitter {
	out := make(map[string]*PrefixEmitter, len(b.prefixes))
	for k, v := range b.prefixes {
		out[k] = v
	}
	return out
}

// Prefix returns the derived emitter for a prefix name.
func (b *Bus) Prefix(name string) (*PrefixEmitter, bool) {
	p, ok := b.prefixes[name]
	return p, ok
}

// Logger returns the bus logger.
func (b *Bus) Logger() *slog.Logger {
	return b.logger
}

// Derive builds the derived bus for a trigger: one emitter per prefix.
func (b *Bus) Derive(trigger action.Action, opts ...DeriveOption) DerivedBus {
	derived := make(DerivedBus, len(b.order))
	for _, name := range b.order {
		derived[name] = b.prefixes[name].Derive(trigger, opts...)
	}
	return derived
}

// Close shuts down the stream, ending every bound handler, and releases
// any resources opened by MakeFromSettings.
func (b *Bus) Close() error {
	errs := []error{b.stream.Close()}
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
