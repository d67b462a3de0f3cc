package upload

const defaultMaxMemory = 32 << 20

// Config holds upload endpoint parameters.
type Config struct {
	// MaxMemory is the number of bytes of a multipart body kept in memory;
	// the remainder spills to temporary files.
	MaxMemory int64 `json:"max_memory,omitempty" yaml:"max_memory,omitempty" split_words:"true"`
	// MaxBodySize rejects request bodies larger than this many bytes.
	// Zero disables the limit.
	MaxBodySize int64 `json:"max_body_size,omitempty" yaml:"max_body_size,omitempty" split_words:"true"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemory: defaultMaxMemory,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.MaxMemory > 0 {
		c.MaxMemory = source.MaxMemory
	}
	if source.MaxBodySize > 0 {
		c.MaxBodySize = source.MaxBodySize
	}
}
