// Package config loads and validates Kestrel configuration from YAML.
// Configuration lives in a single kestrel.yaml inside the config directory;
// environment variables are expanded before parsing and built-in defaults
// are merged underneath user values.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize().
type Config struct {
	configDir string

	Defaults  *Defaults
	Search    *SearchConfig
	Queue     *QueueConfig
	Retention *RetentionConfig

	LLMProviderRegistry *LLMProviderRegistry
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// BudgetCaps maps budget hints to tool-call caps.
type BudgetCaps struct {
	Light  int `yaml:"light"`
	Medium int `yaml:"medium"`
	Heavy  int `yaml:"heavy"`
}

// Defaults holds the system-wide research limits. All durations are stored
// as seconds in YAML (matching the external configuration contract) and
// exposed as time.Duration via accessors.
type Defaults struct {
	LeadProvider     string `yaml:"lead_provider"`
	SubagentProvider string `yaml:"subagent_provider"`

	// CitationProvider defaults to SubagentProvider when empty.
	CitationProvider string `yaml:"citation_provider,omitempty"`

	MaxSubagents             int `yaml:"max_subagents"`
	MaxConcurrent            int `yaml:"max_concurrent"`
	MaxRounds                int `yaml:"max_rounds"`
	MaxLeadToolCallsPerRound int `yaml:"max_lead_tool_calls_per_round"`

	SessionDeadlineSec  int `yaml:"session_deadline_sec"`
	SubagentDeadlineSec int `yaml:"subagent_deadline_sec"`
	ToolDeadlineSec     int `yaml:"tool_deadline_sec"`

	Budgets BudgetCaps `yaml:"budgets"`

	SourceCapPerSubagent   int `yaml:"source_cap_per_subagent"`
	TokenBudgetPerSubagent int `yaml:"token_budget_per_subagent"`

	CitationStyle CitationStyle `yaml:"citation_style"`
}

// SessionDeadline returns the per-session wall-clock limit.
func (d *Defaults) SessionDeadline() time.Duration {
	return time.Duration(d.SessionDeadlineSec) * time.Second
}

// SubagentDeadline returns the per-subagent wall-clock limit.
func (d *Defaults) SubagentDeadline() time.Duration {
	return time.Duration(d.SubagentDeadlineSec) * time.Second
}

// ToolDeadline returns the per-tool-call timeout.
func (d *Defaults) ToolDeadline() time.Duration {
	return time.Duration(d.ToolDeadlineSec) * time.Second
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	Backend    string `yaml:"backend"`
	APIKeyEnv  string `yaml:"api_key_env"`
	MaxResults int    `yaml:"max_results"`

	// BaseURL overrides the provider endpoint (tests, proxies).
	BaseURL string `yaml:"base_url,omitempty"`
}

// QueueConfig configures the session worker pool.
type QueueConfig struct {
	WorkerCount  int    `yaml:"worker_count"`
	PollInterval string `yaml:"poll_interval"`
}

// PollEvery returns the parsed poll interval, falling back to 2s.
func (q *QueueConfig) PollEvery() time.Duration {
	if d, err := time.ParseDuration(q.PollInterval); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

// RetentionConfig controls how long finished sessions and their events are
// kept in the store.
type RetentionConfig struct {
	SessionRetentionDays int    `yaml:"session_retention_days"`
	CleanupInterval      string `yaml:"cleanup_interval"`
}

// CleanupEvery returns the parsed cleanup interval, falling back to 1h.
func (r *RetentionConfig) CleanupEvery() time.Duration {
	if d, err := time.ParseDuration(r.CleanupInterval); err == nil && d > 0 {
		return d
	}
	return time.Hour
}
