// Package middleware defines the hooks run around every event and the
// built-in hydration middleware.
package middleware

import (
	"context"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/state"
)

// Middleware intercepts event processing. A nil update from either hook
// means "no opinion".
type Middleware interface {
	// Preprocess runs before dispatch. A non-nil update short-circuits the
	// handler and is emitted as-is.
	Preprocess(ctx context.Context, s *state.State, ev protocol.Event) (*protocol.StateUpdate, error)
	// Postprocess runs for every update produced by a handler. A non-nil
	// update replaces the original.
	Postprocess(ctx context.Context, s *state.State, ev protocol.Event, upd protocol.StateUpdate) (*protocol.StateUpdate, error)
}

// Chain runs middleware in registration order.
type Chain []Middleware

// Preprocess returns the first non-nil pre-hook result. Remaining pre-hooks
// are skipped once one answers.
func (c Chain) Preprocess(ctx context.Context, s *state.State, ev protocol.Event) (*protocol.StateUpdate, error) {
	for _, m := range c {
		upd, err := m.Preprocess(ctx, s, ev)
		if err != nil {
			return nil, err
		}
		if upd != nil {
			return upd, nil
		}
	}
	return nil, nil
}

// Postprocess returns the first non-nil post-hook result, or upd when every
// hook declines.
func (c Chain) Postprocess(ctx context.Context, s *state.State, ev protocol.Event, upd protocol.StateUpdate) (protocol.StateUpdate, error) {
	for _, m := range c {
		out, err := m.Postprocess(ctx, s, ev, upd)
		if err != nil {
			return protocol.StateUpdate{}, err
		}
		if out != nil {
			return *out, nil
		}
	}
	return upd, nil
}

// PreFunc is the function form of Middleware.Preprocess.
type PreFunc func(ctx context.Context, s *state.State, ev protocol.Event) (*protocol.StateUpdate, error)

// PostFunc is the function form of Middleware.Postprocess.
type PostFunc func(ctx context.Context, s *state.State, ev protocol.Event, upd protocol.StateUpdate) (*protocol.StateUpdate, error)

// Funcs adapts a pair of functions to Middleware. Either may be nil.
type Funcs struct {
	Pre  PreFunc
	Post PostFunc
}

func (f Funcs) Preprocess(ctx context.Context, s *state.State, ev protocol.Event) (*protocol.StateUpdate, error) {
	if f.Pre == nil {
		return nil, nil
	}
	return f.Pre(ctx, s, ev)
}

func (f Funcs) Postprocess(ctx context.Context, s *state.State, ev protocol.Event, upd protocol.StateUpdate) (*protocol.StateUpdate, error) {
	if f.Post == nil {
		return nil, nil
	}
	return f.Post(ctx, s, ev, upd)
}
