// Package config loads runtime parameters for the service from an
// optional file (yaml/json/toml by extension) with environment variable
// overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/internal/catalog"
	"inferd/pkg/types"
)

// ModelConfig describes one catalogued model.
type ModelConfig struct {
	Name        string         `json:"name" yaml:"name" toml:"name"`
	Version     string         `json:"version" yaml:"version" toml:"version"`
	Type        string         `json:"type" yaml:"type" toml:"type"`
	Description string         `json:"description" yaml:"description" toml:"description"`
	ModelRef    string         `json:"model_ref" yaml:"model_ref" toml:"model_ref"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters" toml:"parameters"`
}

// Config holds runtime parameters for the service. File values overlay
// the defaults; INFERD_* environment variables overlay the file.
type Config struct {
	Addr           string        `json:"addr" yaml:"addr" toml:"addr" env:"INFERD_ADDR"`
	DefaultModel   string        `json:"default_model" yaml:"default_model" toml:"default_model" env:"INFERD_DEFAULT_MODEL"`
	DefaultVersion string        `json:"default_version" yaml:"default_version" toml:"default_version" env:"INFERD_DEFAULT_VERSION"`
	MaxBatchSize   int           `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size" env:"INFERD_MAX_BATCH_SIZE"`
	BatchTimeoutMS int           `json:"batch_timeout_ms" yaml:"batch_timeout_ms" toml:"batch_timeout_ms" env:"INFERD_BATCH_TIMEOUT_MS"`
	MaxQueueDepth  int           `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth" env:"INFERD_MAX_QUEUE_DEPTH"`
	LoadWarmupMS   int           `json:"load_warmup_ms" yaml:"load_warmup_ms" toml:"load_warmup_ms" env:"INFERD_LOAD_WARMUP_MS"`
	PreloadDefault bool          `json:"preload_default" yaml:"preload_default" toml:"preload_default" env:"INFERD_PRELOAD_DEFAULT"`
	LogLevel       string        `json:"log_level" yaml:"log_level" toml:"log_level" env:"INFERD_LOG_LEVEL"`
	CORSEnabled    bool          `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"INFERD_CORS_ENABLED"`
	CORSOrigins    []string      `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"INFERD_CORS_ORIGINS"`
	Models         []ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Addr:           ":8000",
		DefaultModel:   "summarizer",
		DefaultVersion: "v1",
		MaxBatchSize:   8,
		BatchTimeoutMS: 100,
		LoadWarmupMS:   50,
		PreloadDefault: true,
		LogLevel:       "info",
	}
}

// Load builds the effective configuration: defaults, then the file at
// path (if non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, err
			}
		case ".json":
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, err
			}
		case ".toml":
			if err := toml.Unmarshal(b, &cfg); err != nil {
				return cfg, err
			}
		default:
			return cfg, fmt.Errorf("unsupported config extension: %s", ext)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the batching and serving invariants.
func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", c.MaxBatchSize)
	}
	if c.BatchTimeoutMS < 0 {
		return fmt.Errorf("batch_timeout_ms must be non-negative, got %d", c.BatchTimeoutMS)
	}
	if c.MaxQueueDepth < 0 {
		return fmt.Errorf("max_queue_depth must be non-negative, got %d", c.MaxQueueDepth)
	}
	if c.LoadWarmupMS < 0 {
		return fmt.Errorf("load_warmup_ms must be non-negative, got %d", c.LoadWarmupMS)
	}
	return nil
}

// Catalog builds the descriptor catalog from the configured models, or
// the built-in default set when none are configured.
func (c Config) Catalog() (*catalog.Catalog, error) {
	if len(c.Models) == 0 {
		return catalog.Default(), nil
	}
	descs := make([]catalog.Descriptor, 0, len(c.Models))
	for _, m := range c.Models {
		version := m.Version
		if version == "" {
			version = "v1"
		}
		descs = append(descs, catalog.Descriptor{
			Key:         types.Key(m.Name, version),
			Type:        types.ModelType(m.Type),
			Description: m.Description,
			ModelRef:    m.ModelRef,
			Parameters:  m.Parameters,
		})
	}
	return catalog.New(descs)
}
