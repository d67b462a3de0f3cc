package state

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownField is returned when a name does not refer to a declared field.
	ErrUnknownField = errors.New("unknown field")

	// ErrComputedAssign is returned when assigning to a computed field.
	ErrComputedAssign = errors.New("cannot assign computed field")

	// ErrDuplicateName is returned by Build when two members of a class share a name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrInvalidName is returned by Build for empty or dotted names.
	ErrInvalidName = errors.New("invalid name")

	// ErrMissingArgument is returned when a handler is invoked without a
	// declared parameter.
	ErrMissingArgument = errors.New("missing argument")

	// ErrIndexOutOfRange is returned by tracked list operations.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrKeyNotFound is returned by tracked map operations.
	ErrKeyNotFound = errors.New("key not found")

	// ErrValueNotFound is returned by TrackedList.Remove.
	ErrValueNotFound = errors.New("value not found")
)

// RoutingError is returned when an event name does not resolve to a handler.
type RoutingError struct {
	Name string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no handler found for event %q", e.Name)
}

// OwnerDetachedError is returned when mutating a field or container whose
// owning state instance has been detached from its session.
type OwnerDetachedError struct {
	Path  string
	Field string
}

func (e *OwnerDetachedError) Error() string {
	return fmt.Sprintf("state %s detached: cannot mutate field %s", e.Path, e.Field)
}

// DependencyCycleError is returned by Build when computed fields depend on
// themselves, directly or through other computed fields.
type DependencyCycleError struct {
	Class string
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("class %s: computed field dependency cycle: %s", e.Class, strings.Join(e.Cycle, " -> "))
}

// TypeError is returned when a value cannot be coerced to a declared kind.
type TypeError struct {
	Want Kind
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("cannot use %v (%T) as %s", e.Got, e.Got, e.Want)
}

// ComputeError wraps a failure evaluating a computed field.
type ComputeError struct {
	Path  string
	Field string
	Err   error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute %s.%s: %v", e.Path, e.Field, e.Err)
}

// Unwrap enables error unwrapping for errors.Is and errors.As.
func (e *ComputeError) Unwrap() error {
	return e.Err
}
