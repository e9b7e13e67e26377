// Package agent provides the core framework shared by the Kestrel lead
// and its research subagents: LLM client and tool executor abstractions,
// per-run budgets and the execution context threaded through controllers.
package agent

import "context"

// Controller runs one agent's loop to completion. Controllers are created
// per execution and never shared between sessions.
type Controller interface {
	// Run drives the agent until it produces a result or the context is
	// cancelled.
	//
	// Returns (*ExecutionResult, nil) on completion; check Result.Status
	// and Result.Error for agent-level failures (LLM errors, exhausted
	// budgets). Returns (nil, error) only for infrastructure failures
	// where no meaningful result exists.
	Run(ctx context.Context, execCtx *ExecutionContext) (*ExecutionResult, error)
}

// ExecutionResult is returned by Controller.Run().
type ExecutionResult struct {
	Status        string // terminal models.SubagentStatus value
	FindingsText  string
	SourceURLs    []string // normalized URLs the agent actually drew on
	Error         error
	ToolCallsMade int
	TokensUsed    TokenUsage
}

// TokenUsage aggregates token consumption across multiple LLM calls.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another call's usage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
