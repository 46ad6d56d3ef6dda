// Package action defines the typed actions that flow through an action bus.
//
// An Action is a value: it is copied on derivation and never mutated after
// it has been emitted. Correlation and causation are carried in Meta so that
// actions derived from a trigger can be joined downstream.
package action

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Action is a typed event flowing through the bus.
type Action struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Meta    Meta   `json:"meta"`
}

// Meta carries correlation and routing metadata.
type Meta struct {
	// CorrelationID groups actions belonging to one causal chain.
	// Empty means the action is uncorrelated and never joins.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID is the ID of the action that directly caused this one.
	CausationID string `json:"causationId,omitempty"`

	// AppID identifies the emitting application.
	AppID string `json:"appId,omitempty"`

	// Checkin is a free-form progress marker attached by prefixed emitters.
	Checkin string `json:"checkin,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// HasCorrelation reports whether the action carries a correlation id.
func (a Action) HasCorrelation() bool {
	return a.Meta.CorrelationID != ""
}

// Option configures action creation.
type Option func(*config)

type config struct {
	id             string
	correlationID  string
	causationID    string
	appID          string
	checkin        string
	timestamp      time.Time
	newCorrelation bool
}

// WithActionID sets a specific action ID (default: auto-generated UUID).
func WithActionID(id string) Option {
	return func(cfg *config) {
		cfg.id = id
	}
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(cfg *config) {
		cfg.correlationID = id
	}
}

// WithNewCorrelation makes the action the root of a new correlation chain:
// its correlation ID is set to its own ID.
func WithNewCorrelation() Option {
	return func(cfg *config) {
		cfg.newCorrelation = true
	}
}

// WithCausationID sets the ID of the causing action.
func WithCausationID(id string) Option {
	return func(cfg *config) {
		cfg.causationID = id
	}
}

// WithAppID sets the emitting application ID.
func WithAppID(id string) Option {
	return func(cfg *config) {
		cfg.appID = id
	}
}

// WithCheckin sets the checkin marker.
func WithCheckin(checkin string) Option {
	return func(cfg *config) {
		cfg.checkin = checkin
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(cfg *config) {
		cfg.timestamp = t
	}
}

// New creates an action with the given type and payload.
// Unlike Next, New does not invent a correlation ID unless
// WithCorrelationID or WithNewCorrelation is given.
func New(actionType string, payload any, opts ...Option) Action {
	cfg := &config{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.newCorrelation && cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return Action{
		ID:      cfg.id,
		Type:    actionType,
		Payload: payload,
		Meta: Meta{
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			AppID:         cfg.appID,
			Checkin:       cfg.checkin,
			Timestamp:     cfg.timestamp,
		},
	}
}

// Next creates an action caused by prev. It inherits the correlation ID and
// app ID of prev and records prev as its cause. opts may override either.
func Next(prev Action, actionType string, payload any, opts ...Option) Action {
	parentOpts := []Option{
		WithCorrelationID(prev.Meta.CorrelationID),
		WithCausationID(prev.ID),
		WithAppID(prev.Meta.AppID),
	}
	return New(actionType, payload, append(parentOpts, opts...)...)
}

// Record maps each declared action type to the action that satisfied it.
type Record map[string]Action

// Types returns the record's action types in sorted order.
func (r Record) Types() []string {
	types := make([]string, 0, len(r))
	for t := range r {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CorrelationID returns the correlation ID shared by the record's members.
func (r Record) CorrelationID() string {
	for _, a := range r {
		return a.Meta.CorrelationID
	}
	return ""
}

// Merge builds the synthetic action representing a completed join.
// The result takes its identity, type and metadata from the member of the
// given primary type and carries the whole record as payload. If primary is
// not in the record, the member with the lexically first type is used.
func Merge(r Record, primary string) Action {
	base, ok := r[primary]
	if !ok {
		types := r.Types()
		if len(types) == 0 {
			return Action{}
		}
		base = r[types[0]]
	}

	joined := base
	joined.Payload = r
	return joined
}

// RecordOf returns the record carried by an action built with Merge.
func RecordOf(a Action) (Record, bool) {
	r, ok := a.Payload.(Record)
	return r, ok
}

// PayloadAs decodes an action payload into T. Payloads that already have
// type T are returned directly; anything else goes through a JSON round trip,
// which covers payloads decoded from the wire as map[string]any.
func PayloadAs[T any](a Action) (T, error) {
	var out T
	if v, ok := a.Payload.(T); ok {
		return v, nil
	}
	data, err := json.Marshal(a.Payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
