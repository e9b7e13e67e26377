package models

// SubagentStatus is the terminal status of one subagent run.
type SubagentStatus string

const (
	SubagentStatusPending         SubagentStatus = "pending"
	SubagentStatusRunning         SubagentStatus = "running"
	SubagentStatusOK              SubagentStatus = "ok"
	SubagentStatusBudgetExhausted SubagentStatus = "budget_exhausted"
	SubagentStatusTimeout         SubagentStatus = "timeout"
	SubagentStatusError           SubagentStatus = "error"
	SubagentStatusCancelled       SubagentStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s SubagentStatus) Terminal() bool {
	switch s {
	case SubagentStatusOK, SubagentStatusBudgetExhausted, SubagentStatusTimeout,
		SubagentStatusError, SubagentStatusCancelled:
		return true
	}
	return false
}

// SubagentResult is the single outcome record of one subagent run.
// Sources are normalized URLs referencing the run's SourceTable.
type SubagentResult struct {
	ID            string         `json:"id"`
	Task          TaskSpec       `json:"task"`
	Status        SubagentStatus `json:"status"`
	FindingsText  string         `json:"findings_text,omitempty"`
	Sources       []string       `json:"sources,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolCallsMade int            `json:"tool_calls_made"`
	TokensUsed    int            `json:"tokens_used"`
	DurationMS    int64          `json:"duration_ms"`
}

// FailedTask records a task whose subagent did not finish with status ok.
// Surfaced as metadata on partial success.
type FailedTask struct {
	SubagentID string         `json:"subagent_id"`
	Task       string         `json:"task"`
	Status     SubagentStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}
