// Package correlate implements the correlation join: a per-handler state
// machine that buffers actions by correlation ID until every declared
// action type has been seen, then yields the completed record once.
//
// An Accumulator is owned by exactly one goroutine. Fold never blocks and
// takes no locks; callers must not invoke it concurrently.
//
// Partial groups expire ExpiryWindow after they were created. Expiry is
// swept at the start of every Fold, so a handler whose types stop arriving
// keeps its stale groups until the next matching action.
package correlate

import (
	"time"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
)

// ExpiryWindow is how long a partial group may wait for its missing types.
const ExpiryWindow = 10 * time.Second

// GroupKey identifies one pending join.
type GroupKey struct {
	CorrelationID string
	HandlerID     string
}

// PendingGroup is an in-flight, not yet complete join.
type PendingGroup struct {
	// Actions holds the latest action received per declared type.
	Actions map[string]action.Action

	// CreatedAt is when the first action of the group arrived.
	CreatedAt time.Time
}

// Result is the outcome of folding one action.
type Result struct {
	// Record is set when Complete is true.
	Record action.Record

	// Complete reports that the action finished a join.
	Complete bool

	// Expired is the number of groups swept before this action was applied.
	Expired int
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		if now != nil {
			a.now = now
		}
	}
}

// Accumulator joins actions of a fixed type set by correlation ID.
type Accumulator struct {
	handlerID string
	types     map[string]struct{}
	order     []string
	now       func() time.Time

	seeds map[GroupKey]*PendingGroup
}

// New creates an accumulator for the given handler and declared types.
// Duplicate types are ignored; the join completes once every distinct
// type has been seen.
func New(handlerID string, types []string, opts ...Option) *Accumulator {
	a := &Accumulator{
		handlerID: handlerID,
		types:     make(map[string]struct{}, len(types)),
		now:       time.Now,
		seeds:     make(map[GroupKey]*PendingGroup),
	}

	for _, t := range types {
		if _, ok := a.types[t]; ok {
			continue
		}
		a.types[t] = struct{}{}
		a.order = append(a.order, t)
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// HandlerID returns the owning handler's ID.
func (a *Accumulator) HandlerID() string {
	return a.handlerID
}

// Types returns the declared types in declaration order.
func (a *Accumulator) Types() []string {
	return append([]string(nil), a.order...)
}

// Pending returns the number of groups currently waiting.
func (a *Accumulator) Pending() int {
	return len(a.seeds)
}

// Group returns a copy of the pending group for a correlation ID.
func (a *Accumulator) Group(correlationID string) (PendingGroup, bool) {
	g, ok := a.seeds[a.key(correlationID)]
	if !ok {
		return PendingGroup{}, false
	}
	return PendingGroup{Actions: copyActions(g.Actions, 0), CreatedAt: g.CreatedAt}, true
}

// Fold applies one action to the accumulator.
func (a *Accumulator) Fold(act action.Action) Result {
	now := a.now()
	res := Result{Expired: a.expire(now)}

	if !act.HasCorrelation() {
		return res
	}
	if _, ok := a.types[act.Type]; !ok {
		return res
	}

	n := len(a.types)
	key := a.key(act.Meta.CorrelationID)
	group, exists := a.seeds[key]

	if !exists {
		if n == 1 {
			res.Record = action.Record{act.Type: act}
			res.Complete = true
			return res
		}
		a.seeds[key] = &PendingGroup{
			Actions:   map[string]action.Action{act.Type: act},
			CreatedAt: now,
		}
		return res
	}

	// Last write wins per type; a repeat does not advance the count.
	merged := copyActions(group.Actions, 1)
	merged[act.Type] = act

	if len(merged) == n {
		delete(a.seeds, key)
		res.Record = merged
		res.Complete = true
		return res
	}

	a.seeds[key] = &PendingGroup{Actions: merged, CreatedAt: group.CreatedAt}
	return res
}

// expire removes every group older than ExpiryWindow.
func (a *Accumulator) expire(now time.Time) int {
	expired := 0
	for key, g := range a.seeds {
		if now.Sub(g.CreatedAt) > ExpiryWindow {
			delete(a.seeds, key)
			expired++
		}
	}
	return expired
}

func (a *Accumulator) key(correlationID string) GroupKey {
	return GroupKey{CorrelationID: correlationID, HandlerID: a.handlerID}
}

func copyActions(src map[string]action.Action, extra int) action.Record {
	dst := make(action.Record, len(src)+extra)
	for t, act := range src {
		dst[t] = act
	}
	return dst
}
