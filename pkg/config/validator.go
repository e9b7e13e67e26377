package config

import "fmt"

// Validate performs semantic validation across the whole configuration.
func (c *Config) Validate() error {
	d := c.Defaults

	for _, name := range c.LLMProviderRegistry.Names() {
		p, _ := c.LLMProviderRegistry.Get(name)
		if err := p.Validate(name); err != nil {
			return err
		}
	}

	for role, name := range map[string]string{
		"lead_provider":     d.LeadProvider,
		"subagent_provider": d.SubagentProvider,
		"citation_provider": d.CitationProvider,
	} {
		if name == "" {
			return fmt.Errorf("%w: defaults.%s is required", ErrInvalidConfig, role)
		}
		if _, err := c.LLMProviderRegistry.Get(name); err != nil {
			return fmt.Errorf("defaults.%s: %w", role, err)
		}
	}

	if d.MaxSubagents < 1 {
		return fmt.Errorf("%w: max_subagents must be at least 1", ErrInvalidConfig)
	}
	if d.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max_concurrent must be at least 1", ErrInvalidConfig)
	}
	if d.MaxConcurrent > d.MaxSubagents {
		return fmt.Errorf("%w: max_concurrent (%d) exceeds max_subagents (%d)",
			ErrInvalidConfig, d.MaxConcurrent, d.MaxSubagents)
	}
	if d.MaxRounds < 1 {
		return fmt.Errorf("%w: max_rounds must be at least 1", ErrInvalidConfig)
	}
	if d.Budgets.Light < 1 || d.Budgets.Medium < 1 || d.Budgets.Heavy < 1 {
		return fmt.Errorf("%w: budget caps must be at least 1", ErrInvalidConfig)
	}
	if err := d.CitationStyle.Validate(); err != nil {
		return err
	}

	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("%w: queue.worker_count must be at least 1", ErrInvalidConfig)
	}
	return nil
}
