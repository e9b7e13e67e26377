package config

// builtinDefaults returns the fallback values merged underneath user
// configuration. A kestrel.yaml only needs to name providers; every limit
// below can be overridden per deployment.
func builtinDefaults() *Defaults {
	return &Defaults{
		MaxSubagents:             20,
		MaxConcurrent:            5,
		MaxRounds:                5,
		MaxLeadToolCallsPerRound: 3,

		SessionDeadlineSec:  1800,
		SubagentDeadlineSec: 300,
		ToolDeadlineSec:     30,

		Budgets: BudgetCaps{
			Light:  5,
			Medium: 10,
			Heavy:  15,
		},

		SourceCapPerSubagent:   100,
		TokenBudgetPerSubagent: 60000,

		CitationStyle: CitationStyleNumeric,
	}
}

// builtinSearchDefaults returns the fallback search configuration.
func builtinSearchDefaults() *SearchConfig {
	return &SearchConfig{
		Backend:    "brave",
		APIKeyEnv:  "BRAVE_API_KEY",
		MaxResults: 10,
	}
}

// builtinQueueDefaults returns the fallback queue configuration.
func builtinQueueDefaults() *QueueConfig {
	return &QueueConfig{
		WorkerCount:  4,
		PollInterval: "2s",
	}
}

// builtinRetentionDefaults returns the fallback retention policy.
func builtinRetentionDefaults() *RetentionConfig {
	return &RetentionConfig{
		SessionRetentionDays: 30,
		CleanupInterval:      "1h",
	}
}
