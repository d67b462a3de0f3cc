package processor

const defaultMaxChainLength = 1000

// Config holds event processing parameters.
type Config struct {
	// MaxChainLength bounds the handler invocations per submitted event,
	// counting every drained follow-up.
	MaxChainLength int `json:"max_chain_length,omitempty" yaml:"max_chain_length,omitempty" split_words:"true"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxChainLength: defaultMaxChainLength,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.MaxChainLength > 0 {
		c.MaxChainLength = source.MaxChainLength
	}
}
