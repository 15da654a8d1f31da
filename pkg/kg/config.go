package kg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds engine tuning knobs. Zero values fall back to defaults when
// loaded from a file.
type Config struct {
	// DBPath is the SQLite file path; ":memory:" or empty keeps everything
	// in memory.
	DBPath string `yaml:"db_path"`

	// MaxTraversalDepth bounds Traverse when the caller does not.
	MaxTraversalDepth int `yaml:"max_traversal_depth"`

	// TopConnected is the N of the top-connected analytics ranking.
	TopConnected int `yaml:"top_connected"`

	// SuggestLimit bounds Suggest when the caller does not.
	SuggestLimit int `yaml:"suggest_limit"`

	// AsyncIndexing routes index maintenance through a bounded queue and a
	// dedicated goroutine instead of the writer's call stack. Callers that
	// need immediate search consistency use ReindexNow.
	AsyncIndexing bool `yaml:"async_indexing"`

	// IndexQueueSize bounds the async indexing queue; writers block when it
	// is full, which caps index lag.
	IndexQueueSize int `yaml:"index_queue_size"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		DBPath:            ":memory:",
		MaxTraversalDepth: 10,
		TopConnected:      10,
		SuggestLimit:      10,
		IndexQueueSize:    256,
	}
}

// LoadConfig reads a YAML config file, applying defaults for absent fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.MaxTraversalDepth <= 0 {
		c.MaxTraversalDepth = d.MaxTraversalDepth
	}
	if c.TopConnected <= 0 {
		c.TopConnected = d.TopConnected
	}
	if c.SuggestLimit <= 0 {
		c.SuggestLimit = d.SuggestLimit
	}
	if c.IndexQueueSize <= 0 {
		c.IndexQueueSize = d.IndexQueueSize
	}
	return c
}
