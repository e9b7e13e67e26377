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

// ConfigFileName is the expected configuration file inside the config dir.
const ConfigFileName = "kestrel.yaml"

// configFile mirrors the on-disk YAML layout.
type configFile struct {
	Defaults     *Defaults                     `yaml:"defaults"`
	LLMProviders map[string]*LLMProviderConfig `yaml:"llm_providers"`
	Search       *SearchConfig                 `yaml:"search"`
	Queue        *QueueConfig                  `yaml:"queue"`
	Retention    *RetentionConfig              `yaml:"retention"`
}

// Initialize loads kestrel.yaml from configDir, expands environment
// variables, merges built-in defaults and validates the result.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	path := filepath.Join(configDir, ConfigFileName)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg, err := Load(raw)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.configDir = configDir

	slog.InfoContext(ctx, "Configuration initialized",
		"config_dir", configDir,
		"llm_providers", len(cfg.LLMProviderRegistry.Names()),
		"lead_provider", cfg.Defaults.LeadProvider,
		"subagent_provider", cfg.Defaults.SubagentProvider,
		"max_concurrent", cfg.Defaults.MaxConcurrent)

	return cfg, nil
}

// Load parses raw YAML content into a validated Config. Split out from
// Initialize so tests can feed YAML directly.
func Load(raw []byte) (*Config, error) {
	expanded, err := ExpandEnv(raw)
	if err != nil {
		return nil, err
	}

	var file configFile
	if err := yaml.Unmarshal(expanded, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	if file.Defaults == nil {
		file.Defaults = &Defaults{}
	}
	if err := mergo.Merge(file.Defaults, builtinDefaults()); err != nil {
		return nil, fmt.Errorf("merging default limits: %w", err)
	}
	if file.Search == nil {
		file.Search = &SearchConfig{}
	}
	if err := mergo.Merge(file.Search, builtinSearchDefaults()); err != nil {
		return nil, fmt.Errorf("merging search defaults: %w", err)
	}
	if file.Queue == nil {
		file.Queue = &QueueConfig{}
	}
	if err := mergo.Merge(file.Queue, builtinQueueDefaults()); err != nil {
		return nil, fmt.Errorf("merging queue defaults: %w", err)
	}
	if file.Retention == nil {
		file.Retention = &RetentionConfig{}
	}
	if err := mergo.Merge(file.Retention, builtinRetentionDefaults()); err != nil {
		return nil, fmt.Errorf("merging retention defaults: %w", err)
	}

	if file.Defaults.CitationProvider == "" {
		file.Defaults.CitationProvider = file.Defaults.SubagentProvider
	}

	cfg := &Config{
		Defaults:            file.Defaults,
		Search:              file.Search,
		Queue:               file.Queue,
		Retention:           file.Retention,
		LLMProviderRegistry: NewLLMProviderRegistry(file.LLMProviders),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
