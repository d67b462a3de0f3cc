package session_test

import (
	"testing"

	"github.com/tailored-agentic-units/statesync/session"
	"github.com/tailored-agentic-units/statesync/store"
)

func TestConfig_Merge(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.Merge(&session.Config{TTL: 60, Capacity: 100})

	if cfg.TTL != 60 {
		t.Errorf("got TTL %d, want 60", cfg.TTL)
	}
	if cfg.Capacity != 100 {
		t.Errorf("got Capacity %d, want 100", cfg.Capacity)
	}

	cfg.Merge(&session.Config{})
	if cfg.TTL != 60 {
		t.Errorf("got TTL %d, want 60 (preserved)", cfg.TTL)
	}
}

func TestNew_FromConfig(t *testing.T) {
	class := counterClass(t)

	tests := []struct {
		name  string
		cfg   session.Config
		store store.Store
		check func(session.Manager) bool
	}{
		{
			name:  "memory",
			cfg:   session.Config{},
			check: func(m session.Manager) bool { _, ok := m.(*session.TTLManager); return !ok },
		},
		{
			name:  "ttl",
			cfg:   session.Config{TTL: 30},
			check: func(m session.Manager) bool { _, ok := m.(*session.TTLManager); return ok },
		},
		{
			name:  "store wins over ttl",
			cfg:   session.Config{TTL: 30},
			store: store.NewFileStore(t.TempDir()),
			check: func(m session.Manager) bool { _, ok := m.(*session.TTLManager); return !ok },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := session.New(&tt.cfg, class, tt.store)
			if closer, ok := m.(interface{ Close() error }); ok {
				defer closer.Close()
			}
			if !tt.check(m) {
				t.Errorf("New() returned %T", m)
			}
		})
	}
}
