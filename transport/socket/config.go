package socket

import "time"

// Config holds socket server parameters. Durations are in seconds.
type Config struct {
	// BufferSize is the capacity of each connection's outbound and inbound
	// queues.
	BufferSize int `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty" split_words:"true"`
	// ReadLimit is the maximum size in bytes of an inbound message.
	ReadLimit int64 `json:"read_limit,omitempty" yaml:"read_limit,omitempty" split_words:"true"`
	// WriteTimeout bounds a single frame write.
	WriteTimeout int `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty" split_words:"true"`
	// PongTimeout closes a connection that sends nothing, including
	// keepalive pongs, for this long.
	PongTimeout int `json:"pong_timeout,omitempty" yaml:"pong_timeout,omitempty" split_words:"true"`
	// PingInterval is the period of keepalive pings sent to the client.
	PingInterval int `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty" split_words:"true"`
	// AllowedOrigins restricts the Origin header of upgrade requests.
	// Empty allows every origin.
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty" split_words:"true"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:   100,
		ReadLimit:    1 << 20,
		WriteTimeout: 10,
		PongTimeout:  60,
		PingInterval: 25,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.BufferSize > 0 {
		c.BufferSize = source.BufferSize
	}
	if source.ReadLimit > 0 {
		c.ReadLimit = source.ReadLimit
	}
	if source.WriteTimeout > 0 {
		c.WriteTimeout = source.WriteTimeout
	}
	if source.PongTimeout > 0 {
		c.PongTimeout = source.PongTimeout
	}
	if source.PingInterval > 0 {
		c.PingInterval = source.PingInterval
	}
	if len(source.AllowedOrigins) > 0 {
		c.AllowedOrigins = source.AllowedOrigins
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
