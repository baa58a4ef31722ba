package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the main configuration file inside the config directory.
const ConfigFileName = "argus.yaml"

// argusYAMLConfig represents the complete argus.yaml file structure.
type argusYAMLConfig struct {
	Server    *ServerConfig              `yaml:"server"`
	Search    *SearchConfig              `yaml:"search"`
	Deep      *DeepConfig                `yaml:"deep"`
	Retention *RetentionConfig           `yaml:"retention"`
	Providers map[string]*ProviderConfig `yaml:"providers"`
	Sources   map[string]*SourceConfig   `yaml:"sources"`
	Routes    map[string][]string        `yaml:"routes"`
}

// Initialize loads, merges, and validates configuration from configDir.
// A missing argus.yaml is not an error: built-in defaults apply and the
// provider registry is empty (the corpus is then the only search source).
func Initialize(_ context.Context, configDir string) (*Config, error) {
	raw := &argusYAMLConfig{}

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Warn("No configuration file found, using built-in defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg, err := buildConfig(configDir, raw)
	if err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded",
		"config_dir", configDir,
		"providers", cfg.Providers.Len(),
		"sources", len(cfg.Providers.EnabledSources()),
		"event_buffer_size", cfg.Search.EventBufferSize)
	return cfg, nil
}

// buildConfig merges file values over defaults and validates the result.
func buildConfig(configDir string, raw *argusYAMLConfig) (*Config, error) {
	server := orDefault(raw.Server, DefaultServerConfig())
	search := orDefault(raw.Search, DefaultSearchConfig())
	deep := orDefault(raw.Deep, DefaultDeepConfig())
	retention := orDefault(raw.Retention, DefaultRetentionConfig())

	if err := mergo.Merge(server, DefaultServerConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge server defaults: %w", err)
	}
	if err := mergo.Merge(search, DefaultSearchConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge search defaults: %w", err)
	}
	if err := mergo.Merge(deep, DefaultDeepConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge deep defaults: %w", err)
	}
	if err := mergo.Merge(retention, DefaultRetentionConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge retention defaults: %w", err)
	}

	providers := raw.Providers
	if providers == nil {
		providers = map[string]*ProviderConfig{}
	}
	sources := raw.Sources
	if sources == nil {
		sources = map[string]*SourceConfig{}
	}
	routes := raw.Routes
	if routes == nil {
		routes = map[string][]string{}
	}
	registry, err := NewProviderRegistry(providers, sources, routes)
	if err != nil {
		return nil, fmt.Errorf("invalid provider configuration: %w", err)
	}

	cfg := &Config{
		configDir: configDir,
		Server:    server,
		Search:    search,
		Deep:      deep,
		Retention: retention,
		Providers: registry,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Search.OverallTimeout <= 0 {
		return fmt.Errorf("search.overall_timeout must be positive")
	}
	if c.Search.PerSourceTimeout <= 0 {
		return fmt.Errorf("search.per_source_timeout must be positive")
	}
	if c.Search.PerSourceTimeout > c.Search.OverallTimeout {
		return fmt.Errorf("search.per_source_timeout must not exceed search.overall_timeout")
	}
	if c.Search.EventBufferSize < 2 {
		return fmt.Errorf("search.event_buffer_size must be at least 2")
	}
	if c.Deep.OverallTimeout <= 0 || c.Deep.PerSubTaskTimeout <= 0 {
		return fmt.Errorf("deep timeouts must be positive")
	}
	if c.Deep.PerSubTaskTimeout > c.Deep.OverallTimeout {
		return fmt.Errorf("deep.per_subtask_timeout must not exceed deep.overall_timeout")
	}
	if c.Deep.MaxSubTaskRetries < 0 {
		return fmt.Errorf("deep.max_subtask_retries must not be negative")
	}
	if c.Retention.SweeperInterval <= 0 {
		return fmt.Errorf("retention.sweeper_interval must be positive")
	}
	if c.Retention.RetentionWindow <= 0 {
		return fmt.Errorf("retention.retention_window must be positive")
	}
	return nil
}

func orDefault[T any](v *T, def *T) *T {
	if v == nil {
		return def
	}
	return v
}
