package protocol

import "errors"

// ErrInvalidEvent is returned when an event lacks required fields.
var ErrInvalidEvent = errors.New("invalid event")

// Delta maps a state path to the changed fields of that state instance.
// Path order carries no meaning; recipients treat it as an unordered map.
type Delta map[string]map[string]any

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d) == 0
}

// StateUpdate is the result of one handler invocation: the delta it
// produced, the follow-up events it enqueued, and whether more updates
// for the current chain will follow.
type StateUpdate struct {
	Delta  Delta   `json:"delta"`
	Events []Event `json:"events"`
	Final  bool    `json:"final"`
}

// NewStateUpdate creates an update with non-nil delta and events.
func NewStateUpdate(delta Delta, events ...Event) StateUpdate {
	if delta == nil {
		delta = Delta{}
	}
	if events == nil {
		events = []Event{}
	}
	return StateUpdate{Delta: delta, Events: events, Final: true}
}
