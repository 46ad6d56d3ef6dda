package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/actionbus/pkg/actionbus"
	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/stream"
)

// BenchmarkPublish_NoSubscribers measures publish overhead alone.
func BenchmarkPublish_NoSubscribers(b *testing.B) {
	s := stream.New(stream.DefaultConfig)
	defer s.Close()
	ctx := context.Background()
	act := action.New("a", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Publish(ctx, act)
	}
}

// BenchmarkPublish_Subscribers measures fan-out to drained subscribers.
func BenchmarkPublish_Subscribers(b *testing.B) {
	s := stream.New(stream.DefaultConfig)
	defer s.Close()

	for i := 0; i < 10; i++ {
		sub := s.Subscribe([]string{"a"})
		go func() {
			for range sub.Actions() {
			}
		}()
	}
	ctx := context.Background()
	act := action.New("a", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Publish(ctx, act)
	}
}

// BenchmarkBind_JoinDispatch measures emit-to-dispatch for a two-type join.
func BenchmarkBind_JoinDispatch(b *testing.B) {
	bus, err := actionbus.Make(nil)
	if err != nil {
		b.Fatal(err)
	}
	defer bus.Close()

	done := make(chan struct{}, 1)
	binding, err := actionbus.Bind(context.Background(), bus, []actionbus.HandlerSpec[struct{}]{{
		Types: []string{"a", "b"},
		Handle: func(context.Context, action.Action, actionbus.DerivedBus, actionbus.Injects[struct{}]) error {
			done <- struct{}{}
			return nil
		},
	}}, struct{}{})
	if err != nil {
		b.Fatal(err)
	}
	defer binding.Stop()

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		corr := corrID(i)
		_ = bus.Emit(ctx, action.New("a", nil, action.WithCorrelationID(corr)))
		_ = bus.Emit(ctx, action.New("b", nil, action.WithCorrelationID(corr)))
		<-done
	}
}
