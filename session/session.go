// Package session maps client tokens to their root state instances and
// serializes event processing per token.
package session

import (
	"context"

	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/state"
)

// Manager stores one root state per session token. GetState never returns
// a nil state: a missing session is created with every field at its
// default. Implementations must be safe for concurrent use with distinct
// tokens; callers serialize access to a single token through a Gate.
type Manager interface {
	// GetState returns the root state for token, creating it if absent.
	GetState(ctx context.Context, token string) (*state.State, error)
	// SetState stores the root state for token. Calling it repeatedly with
	// the same token and instance is safe.
	SetState(ctx context.Context, token string, s *state.State) error
	// DeleteState removes the session for token. Deleting a missing
	// session is not an error.
	DeleteState(ctx context.Context, token string) error
	// Tokens returns the tokens of the stored sessions, sorted.
	Tokens(ctx context.Context) ([]string, error)
}

// Event types emitted by session managers.
const (
	EventCreated  observability.EventType = "session.created"
	EventRestored observability.EventType = "session.restored"
	EventSaved    observability.EventType = "session.saved"
	EventEvicted  observability.EventType = "session.evicted"
	EventDeleted  observability.EventType = "session.deleted"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	observer observability.Observer
}

// WithObserver sets the observer receiving session events.
func WithObserver(observer observability.Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

func applyOptions(opts []Option) options {
	o := options{observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
