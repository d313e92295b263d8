// Package config loads intcode.toml configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fortiblox/intcode/pkg/logging"
	"github.com/fortiblox/intcode/pkg/progstore"
)

// Default configuration values.
const (
	// DefaultStepLimit bounds local runs; zero would mean unlimited.
	DefaultStepLimit = 100_000_000

	// DefaultMaxCells bounds memory growth of a single machine (512 MiB).
	DefaultMaxCells = 64 * 1024 * 1024

	// DefaultListen is the address of the remote execution service.
	DefaultListen = "127.0.0.1:7070"

	// DefaultMaxMessageSize is the largest gRPC message accepted (16 MiB).
	DefaultMaxMessageSize = 16 * 1024 * 1024
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the contents of an intcode.toml file.
type Config struct {
	Log     Log     `toml:"log"`
	Machine Machine `toml:"machine"`
	Store   Store   `toml:"store"`
	Server  Server  `toml:"server"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Machine configures local machines.
type Machine struct {
	StepLimit uint64 `toml:"step_limit"`
	MaxCells  int    `toml:"max_cells"`
}

// Store configures the program library.
type Store struct {
	Path     string `toml:"path"`
	Backend  string `toml:"backend"`
	Compress bool   `toml:"compress"`
}

// Server configures the remote execution service.
type Server struct {
	Listen         string `toml:"listen"`
	MaxMessageSize int    `toml:"max_message_size"`
	MaxStepLimit   uint64 `toml:"max_step_limit"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Log: Log{Level: "info"},
		Machine: Machine{
			StepLimit: DefaultStepLimit,
			MaxCells:  DefaultMaxCells,
		},
		Store: Store{
			Path:     defaultStorePath(),
			Backend:  progstore.BackendBolt,
			Compress: true,
		},
		Server: Server{
			Listen:         DefaultListen,
			MaxMessageSize: DefaultMaxMessageSize,
			MaxStepLimit:   DefaultStepLimit,
		},
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "intcode", "programs.db")
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Store.Backend {
	case progstore.BackendBolt, progstore.BackendBadger:
	default:
		return fmt.Errorf("%w: store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store path is required", ErrInvalidConfig)
	}
	if c.Machine.MaxCells < 0 {
		return fmt.Errorf("%w: max_cells must not be negative", ErrInvalidConfig)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("%w: server listen address is required", ErrInvalidConfig)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max_message_size must be positive", ErrInvalidConfig)
	}
	if c.Server.MaxStepLimit == 0 {
		return fmt.Errorf("%w: server max_step_limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// StoreConfig converts the store section for progstore.Open.
func (c *Config) StoreConfig() progstore.Config {
	sc := progstore.DefaultConfig(c.Store.Path)
	sc.Backend = c.Store.Backend
	sc.Compress = c.Store.Compress
	return sc
}

// LogConfig converts the log section for logging.New.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, File: c.Log.File}
}
