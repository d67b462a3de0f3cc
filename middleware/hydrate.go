package middleware

import (
	"context"
	"fmt"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/state"
)

// HydrateEvent is the local handler name clients send on first load.
const HydrateEvent = "hydrate"

// LoadEventSource returns the full handler paths to run when a route is
// first loaded, in order. Routes are normalized with protocol.FormatRoute.
type LoadEventSource interface {
	LoadEvents(route string) []string
}

// LoadEventFunc adapts a function to LoadEventSource.
type LoadEventFunc func(route string) []string

func (f LoadEventFunc) LoadEvents(route string) []string { return f(route) }

// Hydrate answers "<root>.hydrate" with the full state of the session and
// schedules the route's load events followed by "<root>.set_is_hydrated".
type Hydrate struct {
	source LoadEventSource
}

// NewHydrate creates the hydration middleware. A nil source schedules no
// load events.
func NewHydrate(source LoadEventSource) *Hydrate {
	return &Hydrate{source: source}
}

func (h *Hydrate) Preprocess(_ context.Context, s *state.State, ev protocol.Event) (*protocol.StateUpdate, error) {
	root := s.Root()
	if ev.Name != root.Name()+"."+HydrateEvent {
		return nil, nil
	}

	if err := root.Set(state.HydratedField, false); err != nil {
		return nil, fmt.Errorf("hydrate: %w", err)
	}
	delta, err := root.Dict()
	if err != nil {
		return nil, fmt.Errorf("hydrate: %w", err)
	}
	root.Clean()

	var handlers []string
	if h.source != nil {
		pathname, _ := ev.RouterData[protocol.RoutePathname].(string)
		handlers = h.source.LoadEvents(protocol.FormatRoute(pathname))
	}

	events := make([]protocol.Event, 0, len(handlers)+1)
	for _, name := range handlers {
		events = append(events, protocol.NewEvent(ev.Token, name, nil).WithRouterData(ev.RouterData))
	}
	events = append(events, protocol.NewEvent(
		ev.Token,
		root.Name()+"."+state.SetterPrefix+state.HydratedField,
		map[string]any{"value": true},
	).WithRouterData(ev.RouterData))

	upd := protocol.NewStateUpdate(delta, events...)
	return &upd, nil
}

func (h *Hydrate) Postprocess(context.Context, *state.State, protocol.Event, protocol.StateUpdate) (*protocol.StateUpdate, error) {
	return nil, nil
}
