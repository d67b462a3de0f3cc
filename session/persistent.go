package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/state"
	"github.com/tailored-agentic-units/statesync/store"
)

type storeManager struct {
	class  *state.Class
	store  store.Store
	events observability.Scope
}

// NewStoreManager creates a Manager that persists sessions through st as
// JSON snapshots keyed by token. Each GetState restores a fresh instance;
// a token with no stored snapshot yields a new default state.
func NewStoreManager(class *state.Class, st store.Store, opts ...Option) Manager {
	o := applyOptions(opts)
	return &storeManager{
		class:  class,
		store:  st,
		events: observability.NewScope(o.observer, "session.store"),
	}
}

func (m *storeManager) GetState(ctx context.Context, token string) (*state.State, error) {
	entries, err := m.store.Load(ctx, token)
	if errors.Is(err, store.ErrKeyNotFound) {
		m.events.Emit(ctx, EventCreated, observability.LevelVerbose, map[string]any{"token": token})
		return m.class.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", token, err)
	}

	var snap state.Snapshot
	if err := json.Unmarshal(entries[0].Value, &snap); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", token, err)
	}
	s, err := m.class.Restore(snap)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", token, err)
	}

	m.events.Emit(ctx, EventRestored, observability.LevelVerbose, map[string]any{
		"token": token,
		"bytes": len(entries[0].Value),
	})
	return s, nil
}

func (m *storeManager) SetState(ctx context.Context, token string, s *state.State) error {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("encode session %s: %w", token, err)
	}
	if err := m.store.Save(ctx, store.Entry{Key: token, Value: data}); err != nil {
		return fmt.Errorf("save session %s: %w", token, err)
	}

	m.events.Emit(ctx, EventSaved, observability.LevelVerbose, map[string]any{
		"token": token,
		"bytes": len(data),
	})
	return nil
}

func (m *storeManager) DeleteState(ctx context.Context, token string) error {
	if err := m.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("delete session %s: %w", token, err)
	}
	m.events.Emit(ctx, EventDeleted, observability.LevelVerbose, map[string]any{"token": token})
	return nil
}

func (m *storeManager) Tokens(ctx context.Context) ([]string, error) {
	tokens, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	slices.Sort(tokens)
	return tokens, nil
}
