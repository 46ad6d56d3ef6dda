package actionbus

import (
	"context"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
)

// PrefixEmitter constructs emitters for one prefix.
type PrefixEmitter struct {
	name           string
	defaultCheckin string
	bus            *Bus
}

// Name returns the prefix name.
func (p *PrefixEmitter) Name() string {
	return p.name
}

// DefaultCheckin returns the checkin applied when callers give none.
func (p *PrefixEmitter) DefaultCheckin() string {
	return p.defaultCheckin
}

// Type returns the prefixed action type for typ.
func (p *PrefixEmitter) Type(typ string) string {
	return p.name + "." + typ
}

// DeriveOption configures a derived emitter.
type DeriveOption func(*Emitter)

// WithAppID stamps emitted actions with an app ID instead of inheriting
// the trigger's.
func WithAppID(appID string) DeriveOption {
	return func(e *Emitter) {
		e.appID = appID
	}
}

// Derive returns an emitter whose actions are caused by trigger.
func (p *PrefixEmitter) Derive(trigger action.Action, opts ...DeriveOption) Emitter {
	e := Emitter{prefix: p, trigger: trigger}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Emitter publishes prefixed actions derived from a trigger action.
// The zero value is not usable.
type Emitter struct {
	prefix  *PrefixEmitter
	trigger action.Action
	appID   string
}

// Emit publishes "{prefix}.{typ}" with the prefix's default checkin.
func (e Emitter) Emit(ctx context.Context, typ string, payload any) error {
	return e.EmitCheckin(ctx, typ, payload, "")
}

// EmitCheckin publishes "{prefix}.{typ}" with the given checkin.
// An empty checkin falls back to the prefix default.
func (e Emitter) EmitCheckin(ctx context.Context, typ string, payload any, checkin string) error {
	if checkin == "" {
		checkin = e.prefix.defaultCheckin
	}

	opts := []action.Option{action.WithCheckin(checkin)}
	if e.appID != "" {
		opts = append(opts, action.WithAppID(e.appID))
	}

	next := action.Next(e.trigger, e.prefix.Type(typ), payload, opts...)
	return e.prefix.bus.Emit(ctx, next)
}

// Trigger returns the action emitted actions are derived from.
func (e Emitter) Trigger() action.Action {
	return e.trigger
}

// DerivedBus holds one emitter per configured prefix.
type DerivedBus map[string]Emitter

// Get returns the emitter for a prefix name.
func (d DerivedBus) Get(name string) (Emitter, bool) {
	e, ok := d[name]
	return e, ok
}
