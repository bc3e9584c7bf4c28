package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openpacer/openpacer/pkg/telemetry"
)

// Config is the daemon configuration.
type Config struct {
	// Node identifies this cluster node.
	Node NodeConfig `yaml:"node"`

	// Engine tunes the transition engine.
	Engine EngineConfig `yaml:"engine"`

	// Spool configures the graph hand-off directory.
	Spool SpoolConfig `yaml:"spool"`

	// History configures the transition history store.
	History HistoryConfig `yaml:"history"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// NodeConfig identifies the node the daemon runs on.
type NodeConfig struct {
	// Name is this node's cluster name.
	Name string `yaml:"name" validate:"required"`

	// Coordinator marks this node as the cluster coordinator. The engine
	// refuses to start on a non-coordinator node.
	Coordinator bool `yaml:"coordinator"`
}

// EngineConfig tunes the transition engine.
type EngineConfig struct {
	// MailboxSize bounds the engine's inbound message queue.
	MailboxSize int `yaml:"mailbox_size" validate:"omitempty,min=1"`
}

// SpoolConfig configures the graph intake directory.
type SpoolConfig struct {
	// Dir is the directory planned graphs are dropped into.
	Dir string `yaml:"dir" validate:"required"`
}

// HistoryConfig configures the transition history store.
type HistoryConfig struct {
	// Path is the SQLite database path.
	Path string `yaml:"path" validate:"required"`

	// Retention is how long completed transitions are kept. Zero disables
	// pruning.
	Retention time.Duration `yaml:"retention"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name:        hostname(),
			Coordinator: true,
		},
		Engine: EngineConfig{
			MailboxSize: 256,
		},
		Spool: SpoolConfig{
			Dir: "/var/lib/openpacer/spool",
		},
		History: HistoryConfig{
			Path:      "/var/lib/openpacer/history.db",
			Retention: 30 * 24 * time.Hour,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file over the defaults and validates the
// result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}
