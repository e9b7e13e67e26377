// Package events provides the in-process event bus that carries every
// observable state change of a research session: lifecycle transitions,
// plan and round progress, tool calls, streaming token deltas and
// citation results.
//
// Delivery contract: subscribers receive events in global sequence order.
// Publishing never blocks on a slow subscriber; when a subscriber's buffer
// is full, events are dropped and later summarized with a single
// "dropped" event carrying the count, so consumers always know a gap
// occurred and how wide it was.
package events

// Event types published on the bus.
const (
	// Session lifecycle.
	EventTypeSessionStarted = "session.started"
	EventTypeSessionStatus  = "session.status"

	// Lead progress.
	EventTypeQueryClassified = "query.classified"
	EventTypePlanCreated     = "plan.created"
	EventTypeRoundComplete   = "round.complete"

	// Subagent lifecycle.
	EventTypeSubagentSpawned  = "subagent.spawned"
	EventTypeSubagentFinished = "subagent.finished"

	// Tool execution.
	EventTypeToolCallStarted  = "tool_call.started"
	EventTypeToolCallFinished = "tool_call.finished"

	// LLM streaming chunks, high frequency and ephemeral.
	EventTypeTokenDelta = "token.delta"

	// Synthesis and citation.
	EventTypeSynthesisStarted  = "synthesis.started"
	EventTypeSynthesisComplete = "synthesis.complete"
	EventTypeCitationComplete  = "citation.complete"
	EventTypeCitationDegraded  = "citation.degraded"

	// Errors surfaced to observers (the session may still continue).
	EventTypeError = "error"

	// Emitted in place of events lost to a full subscriber buffer.
	EventTypeDropped = "dropped"
)

// Event is the envelope delivered to subscribers. Seq is a bus-global,
// strictly increasing sequence number assigned at publish time.
type Event struct {
	Seq       uint64 `json:"seq"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}
