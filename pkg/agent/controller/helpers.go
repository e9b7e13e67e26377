// Package controller implements the agent loops: the research subagent's
// search/fetch/complete cycle. Controllers speak to the LLM through
// agent.LLMClient and to tools through agent.ToolExecutor, so every
// backend gets identical loop semantics.
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// StreamError is an LLM stream failure surfaced as a chunk.
type StreamError struct {
	Message   string
	Code      string
	Retryable bool
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("llm stream error (%s): %s", e.Code, e.Message)
	}
	return "llm stream error: " + e.Message
}

// Turn is one collected LLM response: the full text, any tool calls,
// and the usage reported (or estimated) for the call.
type Turn struct {
	Text      string
	ToolCalls []agent.ToolCall
	Usage     agent.TokenUsage
}

// CallLLM runs one Generate call and collects the stream. Text deltas are
// republished on the event bus as they arrive. Usage is charged to the
// agent's budget; when the provider reports none, it is estimated from
// the conversation.
func CallLLM(ctx context.Context, execCtx *agent.ExecutionContext, input *agent.GenerateInput) (*Turn, error) {
	chunks, err := execCtx.LLMClient.Generate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("llm generate: %w", err)
	}

	turn := &Turn{}
	var sb strings.Builder
	var streamErr *StreamError
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			sb.WriteString(c.Content)
			execCtx.PublishTokenDelta(c.Content)
		case *agent.ToolCallChunk:
			turn.ToolCalls = append(turn.ToolCalls, agent.ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: c.Arguments,
			})
		case *agent.UsageChunk:
			turn.Usage.Add(agent.TokenUsage{
				InputTokens:  c.InputTokens,
				OutputTokens: c.OutputTokens,
				TotalTokens:  c.TotalTokens,
			})
		case *agent.ErrorChunk:
			streamErr = &StreamError{Message: c.Message, Code: c.Code, Retryable: c.Retryable}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if streamErr != nil {
		return nil, streamErr
	}

	turn.Text = sb.String()
	if turn.Usage.TotalTokens == 0 && execCtx.Tokens != nil {
		est := execCtx.Tokens.CountMessages(input.Messages) + execCtx.Tokens.Count(turn.Text)
		turn.Usage = agent.TokenUsage{TotalTokens: est}
	}
	if execCtx.Budget != nil {
		execCtx.Budget.AddTokens(turn.Usage.TotalTokens)
	}
	return turn, nil
}

// DispatchToolCalls executes every call of one assistant turn in
// parallel and returns results in call order. Budget and duplicate-query
// enforcement happen inside the executor.
func DispatchToolCalls(ctx context.Context, execCtx *agent.ExecutionContext, calls []agent.ToolCall) []*agent.ToolResult {
	results := make([]*agent.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call agent.ToolCall) {
			defer wg.Done()
			result, err := execCtx.ToolExecutor.Execute(ctx, call)
			if err != nil {
				result = agent.ErrorResult(call, agent.ErrorKindExecutionFailure, err.Error())
			}
			results[i] = result
		}(i, call)
	}
	wg.Wait()
	return results
}

// RetryMessage crafts the user turn appended after a failed LLM call.
func RetryMessage(err error) string {
	return fmt.Sprintf("Error from previous attempt: %s. Please try again.", err.Error())
}

// RecordMessage appends one conversation message to the audit transcript.
func RecordMessage(execCtx *agent.ExecutionContext, msg agent.ConversationMessage) {
	if execCtx.Transcript == nil {
		return
	}
	entry := models.TranscriptEntry{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		ToolName:   msg.ToolName,
		IsError:    msg.IsError,
	}
	for _, tc := range msg.ToolCalls {
		entry.ToolCalls = append(entry.ToolCalls, models.TranscriptToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
		})
	}
	execCtx.Transcript.Append(entry)
}

// RecordMessages transcribes a batch in order.
func RecordMessages(execCtx *agent.ExecutionContext, msgs []agent.ConversationMessage) {
	for _, m := range msgs {
		RecordMessage(execCtx, m)
	}
}

// AppendMessage grows the working conversation and the transcript together.
func AppendMessage(execCtx *agent.ExecutionContext, messages []agent.ConversationMessage, msg agent.ConversationMessage) []agent.ConversationMessage {
	RecordMessage(execCtx, msg)
	return append(messages, msg)
}

// ToolResultMessage converts an executor result into the conversation
// message sent back to the LLM.
func ToolResultMessage(result *agent.ToolResult) agent.ConversationMessage {
	return agent.ConversationMessage{
		Role:       agent.RoleTool,
		Content:    result.Content,
		ToolCallID: result.CallID,
		ToolName:   result.Name,
		IsError:    result.IsError,
	}
}

// lastAssistantText returns the most recent non-empty assistant text in
// the working conversation.
func lastAssistantText(messages []agent.ConversationMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agent.RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
