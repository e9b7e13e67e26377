package models

import "time"

// TranscriptEntry is one append-only audit record in a subagent transcript.
// Entries mirror the conversation (LLM turns and tool traffic) but are never
// summarized away: summarization only affects the LLM-visible window.
type TranscriptEntry struct {
	Role    string    `json:"role"` // system, user, assistant, tool
	Content string    `json:"content,omitempty"`
	At      time.Time `json:"at"`

	// Tool call fields, set on assistant entries that requested tools.
	ToolCalls []TranscriptToolCall `json:"tool_calls,omitempty"`

	// Tool result fields, set on tool entries.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// TranscriptToolCall records an LLM-requested tool invocation.
type TranscriptToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}
