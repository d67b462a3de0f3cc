package middleware

import (
	"context"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/state"
)

// Event types emitted by Logging.
const (
	EventReceived observability.EventType = "middleware.event"
	EventUpdate   observability.EventType = "middleware.update"
)

// Logging reports every event and update to an observer without altering
// either.
type Logging struct {
	events observability.Scope
}

// NewLogging creates the logging middleware.
func NewLogging(observer observability.Observer) *Logging {
	return &Logging{events: observability.NewScope(observer, "middleware.Logging")}
}

func (l *Logging) Preprocess(ctx context.Context, _ *state.State, ev protocol.Event) (*protocol.StateUpdate, error) {
	l.events.Emit(ctx, EventReceived, observability.LevelVerbose, map[string]any{
		"token":   ev.Token,
		"event":   ev.Name,
		"payload": len(ev.Payload),
	})
	return nil, nil
}

func (l *Logging) Postprocess(ctx context.Context, _ *state.State, ev protocol.Event, upd protocol.StateUpdate) (*protocol.StateUpdate, error) {
	l.events.Emit(ctx, EventUpdate, observability.LevelVerbose, map[string]any{
		"token":   ev.Token,
		"event":   ev.Name,
		"changed": !upd.Delta.Empty(),
		"paths":   len(upd.Delta),
		"events":  len(upd.Events),
		"final":   upd.Final,
	})
	return nil, nil
}
