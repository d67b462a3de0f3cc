// Package protocol defines the wire-level values exchanged between clients
// and the state synchronization core: events submitted by clients, the
// state updates streamed back, uploaded files, and the router metadata
// attached to every event.
package protocol

import (
	"fmt"
	"maps"
	"strings"
)

// Event is a client request to invoke a named handler with a payload.
// Name is the dot-qualified handler path (e.g. "state.sub.handler").
// RouterData carries request-derived metadata (see the Route* keys).
//
// Events are treated as immutable once constructed; the With* helpers
// return modified copies.
type Event struct {
	Token      string         `json:"token"`
	Name       string         `json:"name"`
	Payload    map[string]any `json:"payload"`
	RouterData map[string]any `json:"router_data"`
}

// NewEvent creates an Event with empty payload and router metadata maps.
//
// Example:
//
//	ev := protocol.NewEvent("token", "state.set_count", map[string]any{"value": 5})
func NewEvent(token, name string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		Token:      token,
		Name:       name,
		Payload:    payload,
		RouterData: map[string]any{},
	}
}

// Clone returns a copy of the event with its own top-level maps.
func (e Event) Clone() Event {
	clone := e
	clone.Payload = maps.Clone(e.Payload)
	clone.RouterData = maps.Clone(e.RouterData)
	if clone.Payload == nil {
		clone.Payload = map[string]any{}
	}
	if clone.RouterData == nil {
		clone.RouterData = map[string]any{}
	}
	return clone
}

// WithRouterData returns a copy of the event carrying the given metadata.
func (e Event) WithRouterData(data map[string]any) Event {
	clone := e.Clone()
	clone.RouterData = maps.Clone(data)
	if clone.RouterData == nil {
		clone.RouterData = map[string]any{}
	}
	return clone
}

// Validate reports whether the event carries the fields required for
// dispatch.
func (e Event) Validate() error {
	if e.Token == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidEvent)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidEvent)
	}
	return nil
}

// String returns a compact description for logging.
func (e Event) String() string {
	return fmt.Sprintf("Event{Token: %s, Name: %s, Payload: %d keys}", e.Token, e.Name, len(e.Payload))
}

// SplitHandlerPath splits a dot-qualified handler path into its state path
// segments and the final handler name.
func SplitHandlerPath(name string) ([]string, string) {
	parts := strings.Split(name, ".")
	if len(parts) == 1 {
		return nil, parts[0]
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}
