// Package natsbridge mirrors a bus's local action stream onto NATS and
// ingests actions published by other processes.
//
// Mirrored actions are published as JSON on "{subject}.{type}". Ingested
// actions are read from "{subject}.>" and emitted onto the local stream,
// where they join like any locally emitted action. Correlation state stays
// per process: a join completes only when every member reaches the same
// bus, whether emitted locally or ingested.
package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/randalmurphal/actionbus/pkg/actionbus"
	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/config"
)

// OriginHeader names the NATS header carrying the publishing bridge's ID.
const OriginHeader = "Actionbus-Origin"

// Sentinel errors.
var (
	// ErrNilConn indicates the bridge was created without a connection.
	ErrNilConn = errors.New("nats connection is nil")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("bridge already started")

	// ErrBridgeClosed indicates the bridge has been closed.
	ErrBridgeClosed = errors.New("bridge closed")
)

// Subscription is an active NATS subscription.
type Subscription interface {
	Unsubscribe() error
}

// Conn is the subset of a NATS connection the bridge uses.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	Subscribe(subject string, handler func(*nats.Msg)) (Subscription, error)
}

// natsConn adapts *nats.Conn to Conn.
type natsConn struct {
	conn *nats.Conn
}

// FromNATS adapts a NATS connection.
func FromNATS(conn *nats.Conn) Conn {
	return natsConn{conn: conn}
}

func (c natsConn) PublishMsg(msg *nats.Msg) error {
	return c.conn.PublishMsg(msg)
}

func (c natsConn) Subscribe(subject string, handler func(*nats.Msg)) (Subscription, error) {
	return c.conn.Subscribe(subject, handler)
}

// Config configures a bridge.
type Config struct {
	// Subject is the root subject for mirrored actions.
	// Default: "actions"
	Subject string

	// Types limits mirroring to these action types. Empty mirrors everything.
	Types []string

	// DisableIngest stops the bridge from reading remote actions.
	DisableIngest bool

	// IngestTimeout bounds how long an ingested action may wait on a full
	// local stream before it is dropped and logged.
	// Default: 5s
	IngestTimeout time.Duration
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	Subject:       config.DefaultNATSSubject,
	IngestTimeout: config.DefaultNATSIngestTimeout,
}

// ConfigFrom builds a bridge config from loaded settings.
func ConfigFrom(s config.Settings) Config {
	return Config{
		Subject:       s.NATSSubject,
		DisableIngest: !s.NATSIngest,
		IngestTimeout: s.NATSIngestTimeout,
	}
}

// Bridge connects one bus to NATS.
type Bridge struct {
	id     string
	bus    *actionbus.Bus
	conn   Conn
	config Config
	types  map[string]struct{}
	logger *slog.Logger

	// ingested holds IDs of actions received from NATS so the mirror does
	// not publish them back.
	ingested sync.Map

	mu      sync.Mutex
	sub     Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  atomic.Bool

	mirrored atomic.Int64
	received atomic.Int64
}

// New creates a bridge between bus and conn. Call Start to begin.
func New(bus *actionbus.Bus, conn Conn, cfg Config) (*Bridge, error) {
	if bus == nil {
		return nil, actionbus.ErrNilBus
	}
	if conn == nil {
		return nil, ErrNilConn
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultConfig.Subject
	}
	if cfg.IngestTimeout <= 0 {
		cfg.IngestTimeout = DefaultConfig.IngestTimeout
	}

	types := make(map[string]struct{}, len(cfg.Types))
	for _, t := range cfg.Types {
		types[t] = struct{}{}
	}

	id := uuid.NewString()
	return &Bridge{
		id:     id,
		bus:    bus,
		conn:   conn,
		config: cfg,
		types:  types,
		logger: bus.Logger().With(slog.String("bridge_id", id), slog.String("subject", cfg.Subject)),
	}, nil
}

// ID returns the origin ID stamped on published messages.
func (b *Bridge) ID() string {
	return b.id
}

// Mirrored returns how many actions have been published to NATS.
func (b *Bridge) Mirrored() int64 {
	return b.mirrored.Load()
}

// Received returns how many remote actions have been emitted locally.
func (b *Bridge) Received() int64 {
	return b.received.Load()
}

// Subject returns the NATS subject an action type is mirrored on.
func (b *Bridge) Subject(actionType string) string {
	return b.config.Subject + "." + actionType
}

// Start installs the mirror and, unless disabled, subscribes for remote
// actions. Ingestion stops when ctx is cancelled or Close is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return ErrBridgeClosed
	}
	if b.started {
		return ErrAlreadyStarted
	}

	b.ctx, b.cancel = context.WithCancel(ctx)

	if !b.config.DisableIngest {
		sub, err := b.conn.Subscribe(b.config.Subject+".>", b.ingest)
		if err != nil {
			b.cancel()
			return fmt.Errorf("subscribe %s.>: %w", b.config.Subject, err)
		}
		b.sub = sub
	}

	b.bus.Stream().Tap(b.mirror)
	b.started = true

	b.logger.Info("nats bridge started", slog.Bool("ingest", !b.config.DisableIngest))
	return nil
}

// Close stops mirroring and ingestion. The connection is left open.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}

	b.logger.Info("nats bridge stopped",
		slog.Int64("mirrored", b.mirrored.Load()),
		slog.Int64("received", b.received.Load()),
	)
	return nil
}

// mirror runs synchronously on the stream's publish path and must not block.
func (b *Bridge) mirror(a action.Action) {
	if b.closed.Load() {
		return
	}
	if _, ok := b.ingested.LoadAndDelete(a.ID); ok {
		return
	}
	if len(b.types) > 0 {
		if _, ok := b.types[a.Type]; !ok {
			return
		}
	}

	data, err := json.Marshal(a)
	if err != nil {
		b.logger.Warn("mirror encode failed",
			slog.String("action_id", a.ID),
			slog.String("action_type", a.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	msg := nats.NewMsg(b.Subject(a.Type))
	msg.Header.Set(OriginHeader, b.id)
	msg.Data = data

	if err := b.conn.PublishMsg(msg); err != nil {
		b.logger.Warn("mirror publish failed",
			slog.String("action_id", a.ID),
			slog.String("action_type", a.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	b.mirrored.Add(1)
}

// ingest handles one message from NATS.
func (b *Bridge) ingest(msg *nats.Msg) {
	if b.closed.Load() {
		return
	}
	if msg.Header.Get(OriginHeader) == b.id {
		return
	}

	var a action.Action
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		b.logger.Warn("ingest decode failed",
			slog.String("nats_subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return
	}
	if a.Type == "" {
		a.Type = strings.TrimPrefix(msg.Subject, b.config.Subject+".")
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.config.IngestTimeout)
	defer cancel()

	b.ingested.Store(a.ID, struct{}{})
	if err := b.bus.Emit(ctx, a); err != nil {
		b.ingested.Delete(a.ID)
		b.logger.Warn("ingest emit failed",
			slog.String("action_id", a.ID),
			slog.String("action_type", a.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	b.received.Add(1)
}
