package store

import (
	"context"
	"fmt"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config holds store initialization parameters.
type Config struct {
	Backend string      `json:"backend,omitempty" yaml:"backend,omitempty"`
	Path    string      `json:"path,omitempty" yaml:"path,omitempty"` // FileStore root directory.
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig holds Redis connection parameters. Durations are in seconds.
type RedisConfig struct {
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
	Prefix       string `json:"prefix,omitempty" yaml:"prefix,omitempty" split_words:"true"`
	TTL          int    `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	ReadTimeout  int    `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty" split_words:"true"`
	WriteTimeout int    `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty" split_words:"true"`
	DialTimeout  int    `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty" split_words:"true"`
}

// DefaultConfig returns the default store configuration (in-memory, no
// external store).
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Redis: RedisConfig{
			Prefix:       "statesync:state:",
			TTL:          3600,
			ReadTimeout:  3,
			WriteTimeout: 3,
			DialTimeout:  5,
		},
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Backend != "" {
		c.Backend = source.Backend
	}
	if source.Path != "" {
		c.Path = source.Path
	}
	c.Redis.Merge(&source.Redis)
}

// Merge applies non-zero values from source into c.
func (c *RedisConfig) Merge(source *RedisConfig) {
	if source.URL != "" {
		c.URL = source.URL
	}
	if source.Prefix != "" {
		c.Prefix = source.Prefix
	}
	if source.TTL > 0 {
		c.TTL = source.TTL
	}
	if source.ReadTimeout > 0 {
		c.ReadTimeout = source.ReadTimeout
	}
	if source.WriteTimeout > 0 {
		c.WriteTimeout = source.WriteTimeout
	}
	if source.DialTimeout > 0 {
		c.DialTimeout = source.DialTimeout
	}
}

// New creates a Store from configuration. It returns a nil Store for the
// memory backend, indicating sessions live only in process memory.
func New(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return nil, nil
	case BackendFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file store: path is required")
		}
		return NewFileStore(cfg.Path), nil
	case BackendRedis:
		return NewRedisStore(ctx, &cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
