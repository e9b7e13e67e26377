package research

import (
	"time"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/config"
)

// runSettings are the fully-resolved limits for one session: configured
// defaults with per-request overrides applied.
type runSettings struct {
	leadProvider     string
	subagentProvider string
	citationProvider string

	maxSubagents     int
	maxConcurrent    int
	maxRounds        int
	maxLeadToolCalls int

	sessionDeadline  time.Duration
	subagentDeadline time.Duration
	toolDeadline     time.Duration

	budgets     config.BudgetCaps
	sourceCap   int
	tokenBudget int

	citationStyle config.CitationStyle
}

func (e *Executor) resolve(ov Overrides) runSettings {
	d := e.Config.Defaults

	s := runSettings{
		leadProvider:     d.LeadProvider,
		subagentProvider: d.SubagentProvider,
		citationProvider: d.CitationProvider,
		maxSubagents:     d.MaxSubagents,
		maxConcurrent:    d.MaxConcurrent,
		maxRounds:        d.MaxRounds,
		maxLeadToolCalls: d.MaxLeadToolCallsPerRound,
		sessionDeadline:  d.SessionDeadline(),
		subagentDeadline: d.SubagentDeadline(),
		toolDeadline:     d.ToolDeadline(),
		budgets:          d.Budgets,
		sourceCap:        d.SourceCapPerSubagent,
		tokenBudget:      d.TokenBudgetPerSubagent,
		citationStyle:    d.CitationStyle,
	}

	if ov.LeadProvider != "" {
		s.leadProvider = ov.LeadProvider
	}
	if ov.SubagentProvider != "" {
		s.subagentProvider = ov.SubagentProvider
	}
	if ov.MaxSubagents > 0 {
		s.maxSubagents = ov.MaxSubagents
	}
	if ov.MaxConcurrent > 0 {
		s.maxConcurrent = ov.MaxConcurrent
	}
	if ov.MaxRounds > 0 {
		s.maxRounds = ov.MaxRounds
	}
	if ov.SessionDeadline > 0 {
		s.sessionDeadline = ov.SessionDeadline
	}
	if ov.CitationStyle != "" {
		s.citationStyle = ov.CitationStyle
	}

	// The citation pass defaults to the subagent provider.
	if s.citationProvider == "" {
		s.citationProvider = s.subagentProvider
	}
	return s
}

// snapshot renders the effective limits for the session record.
func (s runSettings) snapshot() map[string]any {
	return map[string]any{
		"lead_provider":                 s.leadProvider,
		"subagent_provider":             s.subagentProvider,
		"citation_provider":             s.citationProvider,
		"max_subagents":                 s.maxSubagents,
		"max_concurrent":                s.maxConcurrent,
		"max_rounds":                    s.maxRounds,
		"max_lead_tool_calls_per_round": s.maxLeadToolCalls,
		"session_deadline_sec":          int(s.sessionDeadline.Seconds()),
		"subagent_deadline_sec":         int(s.subagentDeadline.Seconds()),
		"tool_deadline_sec":             int(s.toolDeadline.Seconds()),
		"budgets": map[string]int{
			"light":  s.budgets.Light,
			"medium": s.budgets.Medium,
			"heavy":  s.budgets.Heavy,
		},
		"source_cap_per_subagent":   s.sourceCap,
		"token_budget_per_subagent": s.tokenBudget,
		"citation_style":            string(s.citationStyle),
	}
}

// runConfig builds the resolved per-agent configuration for one provider.
func (s runSettings) runConfig(name string, provider *config.LLMProviderConfig) *agent.ResolvedRunConfig {
	return &agent.ResolvedRunConfig{
		ProviderName:             name,
		Provider:                 provider,
		MaxRounds:                s.maxRounds,
		MaxLeadToolCallsPerRound: s.maxLeadToolCalls,
		SubagentDeadline:         s.subagentDeadline,
		ToolDeadline:             s.toolDeadline,
		TokenBudget:              s.tokenBudget,
		SourceCap:                s.sourceCap,
		CitationStyle:            s.citationStyle,
	}
}
