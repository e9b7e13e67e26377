package events

import "github.com/kestrelhq/kestrel/pkg/models"

// SessionStatusPayload is the payload for session.started and
// session.status events.
type SessionStatusPayload struct {
	Status models.SessionStatus `json:"status"`
	Error  string               `json:"error,omitempty"` // set on failed / timed_out
}

// QueryClassifiedPayload is the payload for query.classified events.
type QueryClassifiedPayload struct {
	QueryType  models.QueryType  `json:"query_type"`
	Complexity models.Complexity `json:"complexity"`
	Rationale  string            `json:"rationale,omitempty"`
}

// PlanCreatedPayload is the payload for plan.created events.
type PlanCreatedPayload struct {
	Round     int      `json:"round"` // 1-based
	QueryType string   `json:"query_type"`
	Tasks     []string `json:"tasks"` // task prompts in dispatch order
}

// SubagentSpawnedPayload is the payload for subagent.spawned events.
type SubagentSpawnedPayload struct {
	SubagentID string `json:"subagent_id"`
	Round      int    `json:"round"`
	Task       string `json:"task"`
	BudgetHint string `json:"budget_hint"`
}

// SubagentFinishedPayload is the payload for subagent.finished events.
type SubagentFinishedPayload struct {
	SubagentID    string                `json:"subagent_id"`
	Status        models.SubagentStatus `json:"status"`
	ToolCallsMade int                   `json:"tool_calls_made"`
	TokensUsed    int                   `json:"tokens_used"`
	DurationMS    int64                 `json:"duration_ms"`
	Error         string                `json:"error,omitempty"`
}

// ToolCallStartedPayload is the payload for tool_call.started events.
type ToolCallStartedPayload struct {
	SubagentID string `json:"subagent_id"` // "lead" for lead-issued calls
	CallID     string `json:"call_id"`
	Tool       string `json:"tool"`
	Arguments  string `json:"arguments,omitempty"` // raw JSON
}

// ToolCallFinishedPayload is the payload for tool_call.finished events.
type ToolCallFinishedPayload struct {
	SubagentID string `json:"subagent_id"`
	CallID     string `json:"call_id"`
	Tool       string `json:"tool"`
	IsError    bool   `json:"is_error"`
	ErrorKind  string `json:"error_kind,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// TokenDeltaPayload is the payload for token.delta transient events.
// Published per streamed LLM text chunk.
type TokenDeltaPayload struct {
	SubagentID string `json:"subagent_id"` // "lead" during lead turns
	Delta      string `json:"delta"`
}

// RoundCompletePayload is the payload for round.complete events.
type RoundCompletePayload struct {
	Round      int    `json:"round"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Reflection string `json:"reflection"` // continue or synthesize
}

// SynthesisCompletePayload is the payload for synthesis.complete events.
type SynthesisCompletePayload struct {
	DraftChars  int `json:"draft_chars"`
	SourceCount int `json:"source_count"`
}

// CitationCompletePayload is the payload for citation.complete and
// citation.degraded events.
type CitationCompletePayload struct {
	Report models.CitationReport `json:"report"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Stage   string `json:"stage"` // classify, plan, subagent, synthesis, citation
	Message string `json:"message"`
}

// DroppedPayload is the payload for dropped events. Count is the number of
// consecutive events lost on this subscriber before delivery resumed.
type DroppedPayload struct {
	Count    int    `json:"count"`
	FirstSeq uint64 `json:"first_seq"`
	LastSeq  uint64 `json:"last_seq"`
}
