package main

import (
	"context"
	"time"

	"github.com/tailored-agentic-units/statesync/app"
	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/state"
)

// counterApp builds the demo application: a counter with a derived value,
// a per-page visit log, and an upload target.
func counterApp() (*state.Class, *app.Routes, error) {
	uploads := state.NewBuilder("uploads").
		Field("names", []any{}).
		Computed("total", "len(names)").
		Handler("add", handleUpload, state.Param{Name: "files", Kind: state.KindFiles})

	class, err := state.NewBuilder("counter").
		Field("count", 0).
		Field("visits", []any{}).
		Backend("started", time.Now().UTC().Format(time.RFC3339)).
		Computed("double", "count * 2").
		Handler("increment", handleIncrement).
		Handler("increment_twice", handleIncrementTwice).
		Handler("reset", handleReset).
		Handler("load_page", handleLoadPage).
		Child(uploads).
		Build()
	if err != nil {
		return nil, nil, err
	}

	routes := app.NewRoutes().
		Add("/", "counter.load_page").
		Add("/uploads", "counter.load_page")
	return class, routes, nil
}

func handleIncrement(_ context.Context, s *state.State, _ state.Args) ([]state.Call, error) {
	return nil, s.Set("count", s.Int("count")+1)
}

func handleIncrementTwice(context.Context, *state.State, state.Args) ([]state.Call, error) {
	return []state.Call{{Name: "increment"}, {Name: "increment"}}, nil
}

func handleReset(_ context.Context, s *state.State, _ state.Args) ([]state.Call, error) {
	return nil, s.Set("count", 0)
}

func handleLoadPage(_ context.Context, s *state.State, _ state.Args) ([]state.Call, error) {
	page, _ := s.RouterData()[protocol.RoutePathname].(string)
	return nil, s.List("visits").Append(protocol.FormatRoute(page))
}

func handleUpload(_ context.Context, s *state.State, args state.Args) ([]state.Call, error) {
	for _, f := range args.Files("files") {
		if err := s.List("names").Append(f.Filename); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
