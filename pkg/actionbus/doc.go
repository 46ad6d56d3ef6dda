// Package actionbus joins typed actions by correlation ID and dispatches
// handlers once every action type they declared has arrived.
//
// A Bus wraps one in-process action stream. Handlers are bound to it with
// Bind; each declares a set of action types and fires exactly once per
// correlation ID when one action of every declared type has been seen
// within correlate.ExpiryWindow of the first.
//
// # Quick Start
//
//	bus, err := actionbus.Make([]actionbus.Prefix{
//	    {Name: "billing", DefaultCheckin: "billing-svc"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer bus.Close()
//
//	binding, err := actionbus.Bind(ctx, bus, []actionbus.HandlerSpec[Deps]{{
//	    Name:  "charge",
//	    Types: []string{"order.placed", "payment.authorized"},
//	    Handle: func(ctx context.Context, joined action.Action, out actionbus.DerivedBus, in actionbus.Injects[Deps]) error {
//	        record, _ := action.RecordOf(joined)
//	        return out["billing"].Emit(ctx, "charged", record["order.placed"].Payload)
//	    },
//	}}, deps)
//
// # Derived Emission
//
// Every dispatch receives a DerivedBus with one Emitter per configured
// prefix. An emitter publishes "{prefix}.{type}" actions that inherit the
// joined action's correlation ID and record it as their cause, so handlers
// can chain into further joins.
//
// # Errors
//
// A handler error or panic never stops its loop. It is wrapped in a
// DispatchError and reported to the bus error sink. By default that is a
// channel read through Bus.Errors; see package errorsink for journals.
//
// # Concurrency
//
// Each bound handler owns one goroutine that folds its sub-stream into its
// accumulator. Dispatches run on their own goroutines and are not ordered
// with respect to each other.
package actionbus
