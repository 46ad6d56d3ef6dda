// Package stream provides the in-process action stream: an ordered,
// multi-subscriber sequence of actions with type-filtered subscriptions.
//
// Every subscription observes published actions in the same global order.
// Publishers are serialized and block while a subscriber's buffer is full,
// so a slow consumer applies backpressure instead of losing actions.
//
// The stream does not interpret correlation metadata. Callers must publish
// well-formed actions; an action without a type is rejected.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
)

// Sentinel errors.
var (
	// ErrClosed indicates the stream has been closed.
	ErrClosed = errors.New("stream closed")

	// ErrMalformedAction indicates an action without a type was published.
	ErrMalformedAction = errors.New("action has no type")
)

// Config configures stream behavior.
type Config struct {
	// BufferSize is the channel buffer size per subscription.
	// Default: 256
	BufferSize int
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	BufferSize: 256,
}

// LocalStream is an in-memory action stream.
type LocalStream struct {
	config Config

	// publishMu serializes publishers so all subscriptions see one order.
	publishMu sync.Mutex

	mu            sync.RWMutex
	subscriptions map[int64]*Subscription
	byType        map[string]map[int64]*Subscription
	wildcards     map[int64]*Subscription
	taps          []func(action.Action)

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// New creates a new local stream.
func New(config Config) *LocalStream {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig.BufferSize
	}

	return &LocalStream{
		config:        config,
		subscriptions: make(map[int64]*Subscription),
		byType:        make(map[string]map[int64]*Subscription),
		wildcards:     make(map[int64]*Subscription),
		closeCh:       make(chan struct{}),
	}
}

// Subscription is a type-filtered view of the stream.
type Subscription struct {
	id      int64
	types   []string // empty = all types
	actions chan action.Action
	done    chan struct{}
	once    sync.Once
	stream  *LocalStream
}

// Publish delivers an action to every matching subscription, blocking while
// a subscription's buffer is full.
//
// If ctx is already done Publish delivers nothing and returns ctx.Err().
// A cancellation that lands during fan-out stops it there, leaving the action
// delivered to only the subscriptions reached so far.
func (s *LocalStream) Publish(ctx context.Context, a action.Action) error {
	if a.Type == "" {
		return ErrMalformedAction
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	subs := s.matching(a.Type)
	taps := s.taps
	s.mu.RUnlock()

	for _, tap := range taps {
		tap(a)
	}

	for _, sub := range subs {
		select {
		case sub.actions <- a:
			continue
		default:
		}
		select {
		case sub.actions <- a:
		case <-sub.done:
			// Unsubscribed while we were delivering.
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closeCh:
			return ErrClosed
		}
	}

	return nil
}

// Subscribe creates a subscription receiving actions whose type is in types,
// in publish order. An empty types slice subscribes to every action.
// Subscribe returns nil if the stream is closed.
func (s *LocalStream) Subscribe(types []string) *Subscription {
	if s.closed.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{
		id:      s.nextID.Add(1),
		types:   dedupe(types),
		actions: make(chan action.Action, s.config.BufferSize),
		done:    make(chan struct{}),
		stream:  s,
	}

	s.subscriptions[sub.id] = sub

	if len(sub.types) == 0 {
		s.wildcards[sub.id] = sub
	} else {
		for _, t := range sub.types {
			if s.byType[t] == nil {
				s.byType[t] = make(map[int64]*Subscription)
			}
			s.byType[t][sub.id] = sub
		}
	}

	return sub
}

// Tap registers an observer called synchronously for every published
// action, before delivery to subscriptions. Taps must not block.
func (s *LocalStream) Tap(fn func(action.Action)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taps = append(s.taps, fn)
}

// matching returns all subscriptions for an action type. Callers hold mu.
func (s *LocalStream) matching(actionType string) []*Subscription {
	subs := make([]*Subscription, 0, len(s.byType[actionType])+len(s.wildcards))

	for _, sub := range s.byType[actionType] {
		subs = append(subs, sub)
	}
	for _, sub := range s.wildcards {
		subs = append(subs, sub)
	}

	return subs
}

// Close shuts down the stream and ends every subscription.
func (s *LocalStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(s.closeCh)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		sub.close()
	}

	return nil
}

// Actions returns the channel on which matching actions arrive.
func (sub *Subscription) Actions() <-chan action.Action {
	return sub.actions
}

// Done is closed when the subscription ends.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Types returns the subscribed action types (nil for all).
func (sub *Subscription) Types() []string {
	return sub.types
}

// Unsubscribe removes the subscription from its stream.
func (sub *Subscription) Unsubscribe() {
	s := sub.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subscriptions, sub.id)
	delete(s.wildcards, sub.id)

	for _, t := range sub.types {
		if typeSubs, ok := s.byType[t]; ok {
			delete(typeSubs, sub.id)
		}
	}

	sub.close()
}

func (sub *Subscription) close() {
	sub.once.Do(func() { close(sub.done) })
}

func dedupe(types []string) []string {
	if len(types) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
