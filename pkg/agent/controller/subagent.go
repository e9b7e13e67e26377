package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/tools"
)

const (
	// llmRetryLimit bounds consecutive failed LLM calls before the run is
	// marked failed.
	llmRetryLimit = 2

	// finalizeAttemptLimit bounds how many times the subagent is nudged to
	// call complete_task before a result is fabricated from the transcript.
	finalizeAttemptLimit = 2

	// summarizePressure is the token-budget fraction at which the working
	// conversation is compacted.
	summarizePressure = 0.8
)

// SubagentController drives one research subagent: a tool-calling loop
// over web_search and web_fetch that terminates when the agent calls
// complete_task, its budget runs out, or its deadline expires.
type SubagentController struct{}

func NewSubagentController() *SubagentController {
	return &SubagentController{}
}

// completeTaskArgs mirrors the complete_task tool schema.
type completeTaskArgs struct {
	Findings       string `json:"findings"`
	SourceIndices  []int  `json:"source_indices"`
	NoSearchNeeded bool   `json:"no_search_needed"`
}

// Run executes the subagent loop to a terminal result. Context
// cancellation and deadline expiry come back as cancelled/timeout
// results, not error returns.
func (c *SubagentController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	messages := execCtx.PromptBuilder.BuildSubagentMessages(execCtx)
	RecordMessages(execCtx, messages)

	toolDefs, err := execCtx.ToolExecutor.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	var totalUsage agent.TokenUsage
	llmFailures := 0
	finalizeAttempts := 0
	searchesSucceeded := 0
	budgetExhausted := false
	summarized := false

	// A hard turn bound so a model that never calls complete_task cannot
	// loop past its budget plus the finalize protocol.
	maxTurns := execCtx.Budget.ToolCallCap() + 8

	for turnNum := 1; turnNum <= maxTurns; turnNum++ {
		if ctx.Err() != nil {
			return c.terminalFromContext(ctx, messages, totalUsage, execCtx), nil
		}

		turn, err := CallLLM(ctx, execCtx, &agent.GenerateInput{
			SessionID:  execCtx.SessionID,
			SubagentID: execCtx.SubagentID,
			Messages:   messages,
			Config:     execCtx.Config.Provider,
			Tools:      toolDefs,
		})
		if err != nil {
			if ctx.Err() != nil {
				return c.terminalFromContext(ctx, messages, totalUsage, execCtx), nil
			}
			llmFailures++
			if llmFailures > llmRetryLimit {
				return &agent.ExecutionResult{
					Status:        string(models.SubagentStatusError),
					Error:         fmt.Errorf("llm failed %d times: %w", llmFailures, err),
					ToolCallsMade: execCtx.Budget.ToolCallsUsed(),
					TokensUsed:    totalUsage,
				}, nil
			}
			slog.WarnContext(ctx, "Subagent LLM call failed, retrying",
				slog.String("session_id", execCtx.SessionID),
				slog.String("subagent_id", execCtx.SubagentID),
				slog.Any("error", err))
			messages = AppendMessage(execCtx, messages, agent.ConversationMessage{
				Role: agent.RoleUser, Content: RetryMessage(err),
			})
			continue
		}
		llmFailures = 0
		totalUsage.Add(turn.Usage)

		if len(turn.ToolCalls) == 0 {
			// Text without complete_task is not a valid ending. Nudge, then
			// fabricate from what we have.
			messages = AppendMessage(execCtx, messages, agent.ConversationMessage{
				Role: agent.RoleAssistant, Content: turn.Text,
			})
			finalizeAttempts++
			if finalizeAttempts > finalizeAttemptLimit {
				return c.fabricate(execCtx, messages, totalUsage, budgetExhausted), nil
			}
			messages = AppendMessage(execCtx, messages, agent.ConversationMessage{
				Role: agent.RoleUser, Content: execCtx.PromptBuilder.BuildFinalizePrompt(finalizeAttempts),
			})
			continue
		}

		messages = AppendMessage(execCtx, messages, agent.ConversationMessage{
			Role:      agent.RoleAssistant,
			Content:   turn.Text,
			ToolCalls: turn.ToolCalls,
		})

		// complete_task ends the run; the controller intercepts it before
		// dispatch. Sibling calls in the same turn are discarded.
		if call, found := findCall(turn.ToolCalls, tools.ToolCompleteTask); found {
			result, retryMsg := c.tryComplete(execCtx, call, searchesSucceeded, totalUsage, budgetExhausted)
			if result != nil {
				return result, nil
			}
			messages = AppendMessage(execCtx, messages, ToolResultMessage(retryMsg))
			continue
		}

		results := DispatchToolCalls(ctx, execCtx, turn.ToolCalls)
		for i, result := range results {
			messages = AppendMessage(execCtx, messages, ToolResultMessage(result))
			if result.IsError {
				if result.ErrorKind == agent.ErrorKindBudgetExhausted {
					budgetExhausted = true
				}
				continue
			}
			if turn.ToolCalls[i].Name == tools.ToolWebSearch {
				searchesSucceeded++
			}
		}

		if budgetExhausted {
			// No budget left: restrict the next turn to complete_task and
			// run the finalize protocol.
			toolDefs = filterTools(toolDefs, tools.ToolCompleteTask)
			finalizeAttempts++
			if finalizeAttempts > finalizeAttemptLimit {
				return c.fabricate(execCtx, messages, totalUsage, true), nil
			}
			messages = AppendMessage(execCtx, messages, agent.ConversationMessage{
				Role: agent.RoleUser, Content: execCtx.PromptBuilder.BuildFinalizePrompt(finalizeAttempts),
			})
			continue
		}

		if !summarized && execCtx.Budget.TokenPressure() >= summarizePressure {
			compacted, err := c.summarize(ctx, execCtx, messages)
			if err == nil {
				messages = compacted
				summarized = true
			} else if ctx.Err() != nil {
				return c.terminalFromContext(ctx, messages, totalUsage, execCtx), nil
			}
		}
	}

	return c.fabricate(execCtx, messages, totalUsage, budgetExhausted), nil
}

// tryComplete validates a complete_task call. On success it returns the
// terminal result; on violation it returns a tool-result message telling
// the agent what to fix.
func (c *SubagentController) tryComplete(execCtx *agent.ExecutionContext, call agent.ToolCall, searchesSucceeded int, usage agent.TokenUsage, budgetExhausted bool) (*agent.ExecutionResult, *agent.ToolResult) {
	var args completeTaskArgs
	raw := call.Arguments
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, agent.ErrorResult(call, agent.ErrorKindInvalidArgs,
			"complete_task arguments are not valid JSON: "+err.Error())
	}
	if args.Findings == "" {
		return nil, agent.ErrorResult(call, agent.ErrorKindInvalidArgs,
			"complete_task requires a non-empty findings field")
	}
	if searchesSucceeded == 0 && !args.NoSearchNeeded && !budgetExhausted {
		return nil, agent.ErrorResult(call, agent.ErrorKindInvalidArgs,
			"perform at least one web_search before completing, or set no_search_needed if the task truly requires none")
	}

	urls := c.resolveSources(execCtx, args.SourceIndices)
	status := models.SubagentStatusOK
	return &agent.ExecutionResult{
		Status:        string(status),
		FindingsText:  args.Findings,
		SourceURLs:    urls,
		ToolCallsMade: execCtx.Budget.ToolCallsUsed(),
		TokensUsed:    usage,
	}, nil
}

// resolveSources maps cited source indices to normalized URLs. Indices
// that miss the table are dropped; with none cited, the agent's own
// source trail is used.
func (c *SubagentController) resolveSources(execCtx *agent.ExecutionContext, indices []int) []string {
	if execCtx.Sources == nil {
		return nil
	}
	if len(indices) == 0 {
		return execCtx.Sources.SeenBy(execCtx.SubagentID)
	}
	seen := make(map[string]bool, len(indices))
	var urls []string
	for _, idx := range indices {
		src, ok := execCtx.Sources.Get(idx)
		if !ok || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		urls = append(urls, src.URL)
	}
	return urls
}

// fabricate builds a terminal result when the agent never called
// complete_task. The last assistant text stands in for findings.
func (c *SubagentController) fabricate(execCtx *agent.ExecutionContext, messages []agent.ConversationMessage, usage agent.TokenUsage, budgetExhausted bool) *agent.ExecutionResult {
	findings := lastAssistantText(messages)

	status := models.SubagentStatusOK
	var runErr error
	switch {
	case budgetExhausted:
		status = models.SubagentStatusBudgetExhausted
	case findings == "":
		status = models.SubagentStatusError
		runErr = errors.New("subagent produced no findings and never called complete_task")
	}

	var urls []string
	if execCtx.Sources != nil {
		urls = execCtx.Sources.SeenBy(execCtx.SubagentID)
	}
	return &agent.ExecutionResult{
		Status:        string(status),
		FindingsText:  findings,
		SourceURLs:    urls,
		Error:         runErr,
		ToolCallsMade: execCtx.Budget.ToolCallsUsed(),
		TokensUsed:    usage,
	}
}

// terminalFromContext maps context termination to a subagent status.
func (c *SubagentController) terminalFromContext(ctx context.Context, messages []agent.ConversationMessage, usage agent.TokenUsage, execCtx *agent.ExecutionContext) *agent.ExecutionResult {
	status := models.SubagentStatusCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = models.SubagentStatusTimeout
	}

	var urls []string
	if execCtx.Sources != nil {
		urls = execCtx.Sources.SeenBy(execCtx.SubagentID)
	}
	return &agent.ExecutionResult{
		Status:        string(status),
		FindingsText:  lastAssistantText(messages),
		SourceURLs:    urls,
		Error:         ctx.Err(),
		ToolCallsMade: execCtx.Budget.ToolCallsUsed(),
		TokensUsed:    usage,
	}
}

// summarize compacts the working conversation once token pressure gets
// high. The audit transcript keeps the full history; only the
// LLM-visible window shrinks.
func (c *SubagentController) summarize(ctx context.Context, execCtx *agent.ExecutionContext, messages []agent.ConversationMessage) ([]agent.ConversationMessage, error) {
	instruction := agent.ConversationMessage{
		Role: agent.RoleUser, Content: execCtx.PromptBuilder.BuildSummarizeInstruction(),
	}
	RecordMessage(execCtx, instruction)

	turn, err := CallLLM(ctx, execCtx, &agent.GenerateInput{
		SessionID:  execCtx.SessionID,
		SubagentID: execCtx.SubagentID,
		Messages:   append(append([]agent.ConversationMessage{}, messages...), instruction),
		Config:     execCtx.Config.Provider,
	})
	if err != nil {
		return nil, err
	}
	if turn.Text == "" {
		return nil, errors.New("empty summary")
	}

	summary := agent.ConversationMessage{Role: agent.RoleAssistant, Content: turn.Text}
	RecordMessage(execCtx, summary)

	slog.InfoContext(ctx, "Compacted subagent conversation",
		slog.String("session_id", execCtx.SessionID),
		slog.String("subagent_id", execCtx.SubagentID),
		slog.Int("messages_before", len(messages)))

	// Keep the original system and task framing, then continue from the
	// summary alone.
	compacted := make([]agent.ConversationMessage, 0, 4)
	for _, m := range messages {
		if m.Role == agent.RoleSystem || len(compacted) < 2 {
			compacted = append(compacted, m)
		}
		if len(compacted) == 2 {
			break
		}
	}
	compacted = append(compacted, summary)
	compacted = append(compacted, agent.ConversationMessage{
		Role: agent.RoleUser, Content: "Continue the task from your summary above.",
	})
	return compacted, nil
}

// findCall returns the first call with the given tool name.
func findCall(calls []agent.ToolCall, name string) (agent.ToolCall, bool) {
	for _, call := range calls {
		if call.Name == name {
			return call, true
		}
	}
	return agent.ToolCall{}, false
}

// filterTools keeps only the named tool definitions.
func filterTools(defs []agent.ToolDefinition, names ...string) []agent.ToolDefinition {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := make([]agent.ToolDefinition, 0, len(names))
	for _, def := range defs {
		if keep[def.Name] {
			out = append(out, def)
		}
	}
	return out
}
