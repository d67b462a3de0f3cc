package session

import (
	"time"

	"github.com/tailored-agentic-units/statesync/state"
	"github.com/tailored-agentic-units/statesync/store"
)

// Config holds session manager parameters. TTL is in seconds; zero keeps
// in-memory sessions for the lifetime of the process.
type Config struct {
	TTL      int    `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Capacity uint64 `json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.TTL > 0 {
		c.TTL = source.TTL
	}
	if source.Capacity > 0 {
		c.Capacity = source.Capacity
	}
}

// New creates a Manager from configuration. A non-nil store selects the
// persistent manager; otherwise a positive TTL selects the expiring
// in-memory manager and the plain in-memory manager is used last.
func New(cfg *Config, class *state.Class, st store.Store, opts ...Option) Manager {
	switch {
	case st != nil:
		return NewStoreManager(class, st, opts...)
	case cfg.TTL > 0:
		return NewTTLManager(class, time.Duration(cfg.TTL)*time.Second, cfg.Capacity, opts...)
	default:
		return NewMemoryManager(class, opts...)
	}
}
