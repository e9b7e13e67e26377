package agent

import (
	"time"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/session"
)

// LeadAgentID is the SubagentID used for lead-issued LLM calls and tool
// calls in events and transcripts.
const LeadAgentID = "lead"

// ExecutionContext carries all dependencies and state needed by a
// controller during execution. Created by the research executor for the
// lead and by the orchestrator for each subagent.
type ExecutionContext struct {
	// Identity
	SessionID  string
	SubagentID string // LeadAgentID for the lead
	Round      int    // 1-based, 0 for the lead

	// The user's research query.
	Query string

	// Task assigned by the lead. Zero value for the lead itself.
	Task models.TaskSpec

	// Configuration (resolved from kestrel.yaml defaults)
	Config *ResolvedRunConfig

	// Budget for this agent's tool calls and token spend.
	Budget *Budget

	// Dependencies (injected by the executor / orchestrator)
	LLMClient    LLMClient
	ToolExecutor ToolExecutor
	Bus          *events.Bus

	// Prompt builder (stateless, shared across executions).
	// Implemented by prompt.Builder; interface avoids an agent↔prompt
	// import cycle.
	PromptBuilder PromptBuilder

	// Shared session state.
	Sources    *session.SourceTable
	Transcript *session.Transcript

	// Token estimator for providers that do not report usage.
	Tokens *TokenCounter
}

// PublishTokenDelta emits a streaming text delta for this agent.
func (e *ExecutionContext) PublishTokenDelta(delta string) {
	if e.Bus == nil || delta == "" {
		return
	}
	e.Bus.Publish(e.SessionID, events.EventTypeTokenDelta, events.TokenDeltaPayload{
		SubagentID: e.SubagentID,
		Delta:      delta,
	})
}

// ResolvedRunConfig is the fully-resolved configuration for one agent
// execution: the provider to call plus every limit that applies to it.
type ResolvedRunConfig struct {
	ProviderName string
	Provider     *config.LLMProviderConfig

	MaxRounds                int
	MaxLeadToolCallsPerRound int

	SubagentDeadline time.Duration
	ToolDeadline     time.Duration

	TokenBudget int
	SourceCap   int

	CitationStyle config.CitationStyle
}

// PromptBuilder builds all prompt text for controllers. Implemented by
// prompt.Builder; defined as an interface here to avoid a circular import
// between pkg/agent and pkg/agent/prompt.
type PromptBuilder interface {
	// Classification.
	BuildClassifierMessages(query string) []ConversationMessage

	// Lead loop.
	BuildLeadMessages(execCtx *ExecutionContext, classification models.Classification, rounds []models.Round) []ConversationMessage
	BuildReflectionPrompt(round models.Round) string
	BuildSynthesisPrompt(execCtx *ExecutionContext, rounds []models.Round, sources []models.Source) string

	// Subagent loop.
	BuildSubagentMessages(execCtx *ExecutionContext) []ConversationMessage
	BuildFinalizePrompt(attempt int) string
	BuildSummarizeInstruction() string

	// Citation pass.
	BuildCitationMessages(draft string, sources []models.Source, strict bool) []ConversationMessage
}
