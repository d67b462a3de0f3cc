package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/statesync/processor"
	"github.com/tailored-agentic-units/statesync/session"
	"github.com/tailored-agentic-units/statesync/store"
	"github.com/tailored-agentic-units/statesync/transport/socket"
	"github.com/tailored-agentic-units/statesync/transport/upload"
)

// EnvPrefix is the default prefix of environment overrides.
const EnvPrefix = "STATESYNC"

// Config holds initialization parameters for every subsystem. Each section
// delegates to that subsystem's Config.
type Config struct {
	Addr            string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Observer        string `json:"observer,omitempty" yaml:"observer,omitempty"` // comma-separated registry names
	ShutdownTimeout int    `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty" split_words:"true"`
	DisableHydrate  bool   `json:"disable_hydrate,omitempty" yaml:"disable_hydrate,omitempty" split_words:"true"`

	Processor processor.Config `json:"processor" yaml:"processor"`
	Session   session.Config   `json:"session" yaml:"session"`
	Store     store.Config     `json:"store" yaml:"store"`
	Socket    socket.Config    `json:"socket" yaml:"socket"`
	Upload    upload.Config    `json:"upload" yaml:"upload"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		Observer:        "slog",
		ShutdownTimeout: 10,
		Processor:       processor.DefaultConfig(),
		Session:         session.DefaultConfig(),
		Store:           store.DefaultConfig(),
		Socket:          socket.DefaultConfig(),
		Upload:          upload.DefaultConfig(),
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.ShutdownTimeout > 0 {
		c.ShutdownTimeout = source.ShutdownTimeout
	}
	if source.DisableHydrate {
		c.DisableHydrate = true
	}

	c.Processor.Merge(&source.Processor)
	c.Session.Merge(&source.Session)
	c.Store.Merge(&source.Store)
	c.Socket.Merge(&source.Socket)
	c.Upload.Merge(&source.Upload)
}

// LoadConfig reads a JSON or YAML config file, chosen by extension, merges
// it with defaults, and returns the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &loaded)
	default:
		err = json.Unmarshal(data, &loaded)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}

// LoadEnv merges environment overrides into cfg. Variables are read from
// the process environment after loading the given dotenv files (".env"
// when none are named); missing files are skipped. Variable names follow
// the field path: PREFIX_ADDR, PREFIX_STORE_REDIS_URL,
// PREFIX_SOCKET_BUFFER_SIZE.
func LoadEnv(cfg *Config, prefix string, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var env Config
	if err := envconfig.Process(prefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.Merge(&env)
	return nil
}
