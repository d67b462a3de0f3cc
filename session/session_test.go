package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/session"
	"github.com/tailored-agentic-units/statesync/state"
	"github.com/tailored-agentic-units/statesync/store"
)

func counterClass(t *testing.T) *state.Class {
	t.Helper()
	class, err := state.NewBuilder("counter").
		Field("count", 0).
		Child(state.NewBuilder("sub").Field("names", []string{})).
		Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return class
}

func managers(t *testing.T, class *state.Class) map[string]session.Manager {
	t.Helper()
	ttl := session.NewTTLManager(class, time.Minute, 0)
	t.Cleanup(func() { ttl.Close() })

	return map[string]session.Manager{
		"memory": session.NewMemoryManager(class),
		"ttl":    ttl,
		"store":  session.NewStoreManager(class, store.NewFileStore(t.TempDir())),
	}
}

func TestManager_GetStateCreatesDefaults(t *testing.T) {
	class := counterClass(t)

	for name, m := range managers(t, class) {
		t.Run(name, func(t *testing.T) {
			s, err := m.GetState(context.Background(), "token")
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if s == nil {
				t.Fatal("GetState() returned nil state")
			}
			if s.Int("count") != 0 {
				t.Errorf("count = %d, want 0", s.Int("count"))
			}
			if s.Class() != class {
				t.Error("state created from wrong class")
			}
		})
	}
}

func TestManager_SetStatePersistsMutations(t *testing.T) {
	class := counterClass(t)
	ctx := context.Background()

	for name, m := range managers(t, class) {
		t.Run(name, func(t *testing.T) {
			s, err := m.GetState(ctx, "token")
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			_ = s.Set("count", 7)
			_ = s.Child("sub").List("names").Append("a")

			if err := m.SetState(ctx, "token", s); err != nil {
				t.Fatalf("SetState() error = %v", err)
			}
			if err := m.SetState(ctx, "token", s); err != nil {
				t.Fatalf("repeated SetState() error = %v", err)
			}

			got, err := m.GetState(ctx, "token")
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if got.Int("count") != 7 {
				t.Errorf("count = %d, want 7", got.Int("count"))
			}
			if n := got.Child("sub").List("names").Len(); n != 1 {
				t.Errorf("names length = %d, want 1", n)
			}
			if got.Detached() {
				t.Error("stored state should not be detached")
			}

			other, err := m.GetState(ctx, "other")
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if other.Int("count") != 0 {
				t.Errorf("other session count = %d, want 0", other.Int("count"))
			}
		})
	}
}

func TestMemoryManager_SameInstance(t *testing.T) {
	m := session.NewMemoryManager(counterClass(t))
	ctx := context.Background()

	a, _ := m.GetState(ctx, "token")
	b, _ := m.GetState(ctx, "token")
	if a != b {
		t.Error("GetState() returned different instances for the same token")
	}
}

func TestMemoryManager_ReplaceDetachesPrevious(t *testing.T) {
	class := counterClass(t)
	m := session.NewMemoryManager(class)
	ctx := context.Background()

	prev, _ := m.GetState(ctx, "token")
	if err := m.SetState(ctx, "token", class.New()); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	if !prev.Detached() {
		t.Error("replaced state should be detached")
	}
}

// evictionObserver signals each eviction event.
type evictionObserver chan struct{}

func (o evictionObserver) OnEvent(_ context.Context, event observability.Event) {
	if event.Type != session.EventEvicted {
		return
	}
	select {
	case o <- struct{}{}:
	default:
	}
}

func (o evictionObserver) wait(t *testing.T) {
	t.Helper()
	select {
	case <-o:
	case <-time.After(2 * time.Second):
		t.Fatal("no eviction observed")
	}
}

func TestTTLManager_Expiry(t *testing.T) {
	evicted := make(evictionObserver, 1)
	m := session.NewTTLManager(counterClass(t), 20*time.Millisecond, 0, session.WithObserver(evicted))
	defer m.Close()

	s, _ := m.GetState(context.Background(), "token")
	evicted.wait(t)

	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
	if s.Detached() {
		t.Error("expired state should stay usable by its holder")
	}
}

func TestTTLManager_EvictionDuringEvent(t *testing.T) {
	evicted := make(evictionObserver, 1)
	m := session.NewTTLManager(counterClass(t), time.Minute, 1, session.WithObserver(evicted))
	defer m.Close()
	ctx := context.Background()

	// An event for "a" is in flight when "b" pushes it out of the cache.
	a, _ := m.GetState(ctx, "a")
	_, _ = m.GetState(ctx, "b")
	evicted.wait(t)

	if err := a.Set("count", 3); err != nil {
		t.Fatalf("Set() after eviction error = %v", err)
	}
	if err := m.SetState(ctx, "a", a); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	got, err := m.GetState(ctx, "a")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got.Detached() {
		t.Fatal("GetState() returned a detached state")
	}
	if got.Int("count") != 3 {
		t.Errorf("count = %d, want 3", got.Int("count"))
	}
	if err := got.Set("count", 4); err != nil {
		t.Errorf("Set() on stored state error = %v", err)
	}
}

func TestTTLManager_SetStateDetached(t *testing.T) {
	m := session.NewTTLManager(counterClass(t), time.Minute, 0)
	defer m.Close()
	ctx := context.Background()

	s, _ := m.GetState(ctx, "token")
	_ = s.Set("count", 5)
	s.Detach()

	if err := m.SetState(ctx, "token", s); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	got, _ := m.GetState(ctx, "token")
	if got.Detached() {
		t.Fatal("detached state was stored")
	}
	if got.Int("count") != 5 {
		t.Errorf("count = %d, want 5", got.Int("count"))
	}
	if diff := cmp.Diff([]string{"count"}, got.DirtyFields()); diff != "" {
		t.Errorf("DirtyFields() mismatch (-want +got):\n%s", diff)
	}
}

func TestTTLManager_GetStateReplacesDetached(t *testing.T) {
	m := session.NewTTLManager(counterClass(t), time.Minute, 0)
	defer m.Close()
	ctx := context.Background()

	s, _ := m.GetState(ctx, "token")
	_ = s.Set("count", 2)
	s.Detach()

	got, err := m.GetState(ctx, "token")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got.Detached() {
		t.Fatal("GetState() returned a detached state")
	}
	if got.Int("count") != 2 {
		t.Errorf("count = %d, want 2", got.Int("count"))
	}
}

func TestManager_DeleteStateAndTokens(t *testing.T) {
	class := counterClass(t)
	ctx := context.Background()

	for name, m := range managers(t, class) {
		t.Run(name, func(t *testing.T) {
			for _, token := range []string{"b", "a", "c"} {
				s, _ := m.GetState(ctx, token)
				_ = s.Set("count", 1)
				if err := m.SetState(ctx, token, s); err != nil {
					t.Fatalf("SetState() error = %v", err)
				}
			}

			tokens, err := m.Tokens(ctx)
			if err != nil {
				t.Fatalf("Tokens() error = %v", err)
			}
			if diff := cmp.Diff([]string{"a", "b", "c"}, tokens); diff != "" {
				t.Errorf("Tokens() mismatch (-want +got):\n%s", diff)
			}

			if err := m.DeleteState(ctx, "b"); err != nil {
				t.Fatalf("DeleteState() error = %v", err)
			}
			if err := m.DeleteState(ctx, "missing"); err != nil {
				t.Errorf("DeleteState(missing) error = %v", err)
			}

			tokens, _ = m.Tokens(ctx)
			if diff := cmp.Diff([]string{"a", "c"}, tokens); diff != "" {
				t.Errorf("Tokens() after delete mismatch (-want +got):\n%s", diff)
			}

			s, _ := m.GetState(ctx, "b")
			if s.Int("count") != 0 {
				t.Errorf("deleted session count = %d, want 0", s.Int("count"))
			}
		})
	}
}

func TestStoreManager_FreshInstancePerGet(t *testing.T) {
	m := session.NewStoreManager(counterClass(t), store.NewFileStore(t.TempDir()))
	ctx := context.Background()

	s, _ := m.GetState(ctx, "token")
	_ = s.Set("count", 3)

	// Unsaved mutations are not visible to the next load.
	again, _ := m.GetState(ctx, "token")
	if again.Int("count") != 0 {
		t.Errorf("count = %d, want 0 before SetState", again.Int("count"))
	}
}

func TestStoreManager_CorruptSnapshot(t *testing.T) {
	st := store.NewFileStore(t.TempDir())
	if err := st.Save(context.Background(), store.Entry{Key: "token", Value: []byte("not json")}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	m := session.NewStoreManager(counterClass(t), st)
	if _, err := m.GetState(context.Background(), "token"); err == nil {
		t.Error("expected decode error for corrupt snapshot")
	}
}
