package session

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/state"
)

type memoryManager struct {
	class  *state.Class
	states map[string]*state.State
	events observability.Scope
	mu     sync.RWMutex
}

// NewMemoryManager creates a Manager that keeps every session in process
// memory for the lifetime of the manager.
func NewMemoryManager(class *state.Class, opts ...Option) Manager {
	o := applyOptions(opts)
	return &memoryManager{
		class:  class,
		states: make(map[string]*state.State),
		events: observability.NewScope(o.observer, "session.memory"),
	}
}

func (m *memoryManager) GetState(ctx context.Context, token string) (*state.State, error) {
	m.mu.RLock()
	s, ok := m.states[token]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[token]; ok {
		return s, nil
	}
	s = m.class.New()
	m.states[token] = s
	m.events.Emit(ctx, EventCreated, observability.LevelVerbose, map[string]any{"token": token})
	return s, nil
}

func (m *memoryManager) SetState(_ context.Context, token string, s *state.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.states[token]; ok && prev != s {
		prev.Detach()
	}
	m.states[token] = s
	return nil
}

func (m *memoryManager) DeleteState(ctx context.Context, token string) error {
	m.mu.Lock()
	if s, ok := m.states[token]; ok {
		s.Detach()
		delete(m.states, token)
	}
	m.mu.Unlock()

	m.events.Emit(ctx, EventDeleted, observability.LevelVerbose, map[string]any{"token": token})
	return nil
}

func (m *memoryManager) Tokens(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.states)), nil
}
