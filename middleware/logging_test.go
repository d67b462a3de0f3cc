package middleware_test

import (
	"context"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/middleware"
	"github.com/tailored-agentic-units/statesync/observability"
)

type recorder struct {
	mu     sync.Mutex
	events []observability.Event
}

func (r *recorder) OnEvent(_ context.Context, e observability.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestLogging(t *testing.T) {
	s := newState(t)
	rec := &recorder{}
	m := middleware.NewLogging(rec)
	ev := protocol.NewEvent("tok", "app.set_count", map[string]any{"value": 1})

	if upd, err := m.Preprocess(context.Background(), s, ev); upd != nil || err != nil {
		t.Errorf("Preprocess() = %v, %v, want nil, nil", upd, err)
	}
	upd := protocol.NewStateUpdate(protocol.Delta{"app": {"count": 1}})
	if out, err := m.Postprocess(context.Background(), s, ev, upd); out != nil || err != nil {
		t.Errorf("Postprocess() = %v, %v, want nil, nil", out, err)
	}

	if len(rec.events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(rec.events))
	}
	if rec.events[0].Type != middleware.EventReceived {
		t.Errorf("events[0].Type = %q, want %q", rec.events[0].Type, middleware.EventReceived)
	}
	if rec.events[1].Type != middleware.EventUpdate {
		t.Errorf("events[1].Type = %q, want %q", rec.events[1].Type, middleware.EventUpdate)
	}
	if got := rec.events[1].Data["paths"]; got != 1 {
		t.Errorf("paths = %v, want 1", got)
	}
	if got := rec.events[1].Data["changed"]; got != true {
		t.Errorf("changed = %v, want true", got)
	}

	m.Postprocess(context.Background(), s, ev, protocol.NewStateUpdate(nil))
	if got := rec.events[2].Data["changed"]; got != false {
		t.Errorf("changed for empty delta = %v, want false", got)
	}
	if got := rec.events[0].Source; got != "middleware.Logging" {
		t.Errorf("Source = %q, want %q", got, "middleware.Logging")
	}
}
