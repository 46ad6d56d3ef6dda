package actionbus

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/actionbus/pkg/actionbus/action"
	"github.com/randalmurphal/actionbus/pkg/actionbus/errorsink"
)

// Sentinel errors for bus construction.
var (
	// ErrEmptyPrefix indicates a prefix with no name.
	ErrEmptyPrefix = errors.New("prefix name is empty")

	// ErrDuplicatePrefix indicates two prefixes share a name.
	ErrDuplicatePrefix = errors.New("duplicate prefix")
)

// Sentinel errors for binding handlers.
var (
	// ErrNilBus indicates Bind was called without a bus.
	ErrNilBus = errors.New("bus is nil")

	// ErrNoTypes indicates a handler spec declared no action types.
	ErrNoTypes = errors.New("handler declares no action types")

	// ErrNilHandler indicates a handler spec has no handler function.
	ErrNilHandler = errors.New("handler function is nil")

	// ErrPrimaryNotDeclared indicates the primary type is not one of the declared types.
	ErrPrimaryNotDeclared = errors.New("primary type not declared")

	// ErrBusClosed indicates the bus was closed before the handler could subscribe.
	ErrBusClosed = errors.New("bus closed")
)

// Sentinel errors for dispatch.
var (
	// ErrHandlerPanic indicates a handler panicked during dispatch.
	ErrHandlerPanic = errors.New("handler panicked")
)

// SpecError wraps a validation error with the offending handler spec.
type SpecError struct {
	// Index is the position of the spec passed to Bind.
	Index int
	// Name is the spec's name, if any.
	Name string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SpecError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("handler %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("handler %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SpecError) Unwrap() error {
	return e.Err
}

// DispatchError wraps an error returned (or a panic raised) by a handler.
type DispatchError struct {
	// HandlerID is the bind-time identifier of the handler.
	HandlerID string
	// HandlerName is the spec's name.
	HandlerName string
	// Action is the joined action the handler was invoked with.
	Action action.Action
	// Err is the underlying error.
	Err error
	// Panic holds the recovered value when the handler panicked.
	Panic any
}

// Compile-time interface check.
var _ errorsink.Failure = (*DispatchError)(nil)

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s (correlation %s): %v", e.HandlerName, e.Action.Meta.CorrelationID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// FailedAction returns the action the failing dispatch was given.
func (e *DispatchError) FailedAction() action.Action {
	return e.Action
}

// FailedHandler returns the failing handler's ID and name.
func (e *DispatchError) FailedHandler() (string, string) {
	return e.HandlerID, e.HandlerName
}
