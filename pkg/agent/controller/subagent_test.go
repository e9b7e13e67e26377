package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/agent/prompt"
	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/session"
	"github.com/kestrelhq/kestrel/pkg/tools"
)

// scriptedTurn is one canned LLM response.
type scriptedTurn struct {
	text      string
	toolCalls []agent.ToolCall
	streamErr *agent.ErrorChunk
}

// scriptedLLM replays turns in order, recording every input it saw.
type scriptedLLM struct {
	turns  []scriptedTurn
	inputs []*agent.GenerateInput
}

func (s *scriptedLLM) Generate(_ context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	s.inputs = append(s.inputs, input)
	idx := len(s.inputs) - 1

	out := make(chan agent.Chunk, 8)
	defer close(out)
	if idx >= len(s.turns) {
		out <- &agent.TextChunk{Content: "script exhausted"}
		return out, nil
	}
	turn := s.turns[idx]
	if turn.streamErr != nil {
		out <- turn.streamErr
		return out, nil
	}
	if turn.text != "" {
		out <- &agent.TextChunk{Content: turn.text}
	}
	for _, tc := range turn.toolCalls {
		out <- &agent.ToolCallChunk{CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	out <- &agent.UsageChunk{InputTokens: 50, OutputTokens: 20, TotalTokens: 70}
	return out, nil
}

func (s *scriptedLLM) Close() error { return nil }

// fakeExecutor charges the budget like the real one and answers
// web_search and web_fetch with canned content.
type fakeExecutor struct {
	budget  *agent.Budget
	sources *session.SourceTable
	agentID string
	calls   []agent.ToolCall
}

func (f *fakeExecutor) Execute(_ context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	f.calls = append(f.calls, call)
	if call.Name == tools.ToolCompleteTask || call.Name == tools.ToolRunSubagents {
		return agent.ErrorResult(call, agent.ErrorKindUnknownTool, "control tool"), nil
	}
	if err := f.budget.ChargeToolCall(); err != nil {
		return agent.ErrorResult(call, agent.ErrorKindBudgetExhausted, "tool call budget exhausted"), nil
	}
	switch call.Name {
	case tools.ToolWebSearch:
		idx := f.sources.Add(f.agentID, "https://example.com/result", "Example Result", "a snippet")
		return &agent.ToolResult{CallID: call.ID, Name: call.Name,
			Content: fmt.Sprintf("[%d] Example Result", idx)}, nil
	case tools.ToolWebFetch:
		return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: "page text"}, nil
	}
	return agent.ErrorResult(call, agent.ErrorKindUnknownTool, "unknown tool"), nil
}

func (f *fakeExecutor) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	return []agent.ToolDefinition{
		{Name: tools.ToolWebSearch, ParametersSchema: "{}"},
		{Name: tools.ToolWebFetch, ParametersSchema: "{}"},
		{Name: tools.ToolCompleteTask, ParametersSchema: "{}"},
	}, nil
}

func newExecCtx(t *testing.T, llm *scriptedLLM, toolCap int) (*agent.ExecutionContext, *fakeExecutor) {
	t.Helper()
	budget := agent.NewBudget(toolCap, 100_000)
	sources := session.NewSourceTable()
	exec := &fakeExecutor{budget: budget, sources: sources, agentID: "sub-r1-1"}
	return &agent.ExecutionContext{
		SessionID:  "sess-1",
		SubagentID: "sub-r1-1",
		Round:      1,
		Query:      "What is the capital of France?",
		Task:       models.TaskSpec{Prompt: "Find the capital of France."},
		Config: &agent.ResolvedRunConfig{
			Provider: &config.LLMProviderConfig{Backend: config.BackendAnthropic, Model: "test"},
		},
		Budget:        budget,
		LLMClient:     llm,
		ToolExecutor:  exec,
		PromptBuilder: prompt.NewBuilder(),
		Sources:       sources,
		Transcript:    session.NewTranscript("sub-r1-1"),
		Tokens:        agent.NewTokenCounter(),
	}, exec
}

func searchCall(id string) agent.ToolCall {
	return agent.ToolCall{ID: id, Name: tools.ToolWebSearch, Arguments: `{"query":"capital of France"}`}
}

func completeCall(id, args string) agent.ToolCall {
	return agent.ToolCall{ID: id, Name: tools.ToolCompleteTask, Arguments: args}
}

func TestSubagentHappyPath(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{text: "Searching.", toolCalls: []agent.ToolCall{searchCall("c1")}},
		{toolCalls: []agent.ToolCall{completeCall("c2",
			`{"findings":"Paris is the capital of France.","source_indices":[1]}`)}},
	}}
	execCtx, exec := newExecCtx(t, llm, 5)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, string(models.SubagentStatusOK), result.Status)
	assert.Equal(t, "Paris is the capital of France.", result.FindingsText)
	assert.Equal(t, []string{"https://example.com/result"}, result.SourceURLs)
	assert.Equal(t, 1, result.ToolCallsMade)
	assert.Equal(t, 140, result.TokensUsed.TotalTokens)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, tools.ToolWebSearch, exec.calls[0].Name)

	// The audit transcript saw the whole conversation.
	entries := execCtx.Transcript.Entries()
	assert.GreaterOrEqual(t, len(entries), 4)
	assert.Equal(t, agent.RoleSystem, entries[0].Role)
}

func TestSubagentSearchFloorEnforced(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []agent.ToolCall{completeCall("c1", `{"findings":"Guessed answer."}`)}},
		{toolCalls: []agent.ToolCall{searchCall("c2")}},
		{toolCalls: []agent.ToolCall{completeCall("c3", `{"findings":"Verified answer.","source_indices":[1]}`)}},
	}}
	execCtx, _ := newExecCtx(t, llm, 5)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, string(models.SubagentStatusOK), result.Status)
	assert.Equal(t, "Verified answer.", result.FindingsText)
	require.Len(t, llm.inputs, 3)

	// The rejection came back to the model as an error tool result.
	secondTurnMessages := llm.inputs[1].Messages
	last := secondTurnMessages[len(secondTurnMessages)-1]
	assert.Equal(t, agent.RoleTool, last.Role)
	assert.True(t, last.IsError)
	assert.Contains(t, last.Content, "web_search")
}

func TestSubagentNoSearchNeeded(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []agent.ToolCall{completeCall("c1",
			`{"findings":"2+2 is 4.","no_search_needed":true}`)}},
	}}
	execCtx, _ := newExecCtx(t, llm, 5)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, string(models.SubagentStatusOK), result.Status)
	assert.Equal(t, "2+2 is 4.", result.FindingsText)
	assert.Zero(t, result.ToolCallsMade)
}

func TestSubagentFinalizeThenFabricate(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{text: "Here is what I found: the answer is Paris."},
		{text: "I believe the answer is Paris."},
		{text: "Final answer: Paris."},
	}}
	execCtx, _ := newExecCtx(t, llm, 5)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, string(models.SubagentStatusOK), result.Status)
	assert.Equal(t, "Final answer: Paris.", result.FindingsText)
	require.Len(t, llm.inputs, 3)

	// Each retry carried a finalize nudge.
	second := llm.inputs[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "complete_task")
}

func TestSubagentBudgetExhaustion(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []agent.ToolCall{searchCall("c1")}},
		{toolCalls: []agent.ToolCall{{ID: "c2", Name: tools.ToolWebSearch, Arguments: `{"query":"more"}`}}},
		{toolCalls: []agent.ToolCall{completeCall("c3",
			`{"findings":"Findings under pressure.","source_indices":[1]}`)}},
	}}
	execCtx, _ := newExecCtx(t, llm, 1)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	// Second search hit the cap; the agent was told to finish and did.
	assert.Equal(t, string(models.SubagentStatusOK), result.Status)
	assert.Equal(t, "Findings under pressure.", result.FindingsText)
	assert.Equal(t, 1, result.ToolCallsMade)

	// After exhaustion only complete_task remained available.
	require.Len(t, llm.inputs, 3)
	lastTools := llm.inputs[2].Tools
	require.Len(t, lastTools, 1)
	assert.Equal(t, tools.ToolCompleteTask, lastTools[0].Name)
}

func TestSubagentBudgetExhaustedFabricate(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []agent.ToolCall{searchCall("c1")}},
		{text: "partial notes", toolCalls: []agent.ToolCall{searchCall("c2")}},
		{text: "Still going."},
		{text: "More text."},
	}}
	execCtx, _ := newExecCtx(t, llm, 1)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, string(models.SubagentStatusBudgetExhausted), result.Status)
	assert.NotEmpty(t, result.FindingsText)
}

func TestSubagentLLMErrorRetryThenFail(t *testing.T) {
	boom := &agent.ErrorChunk{Message: "upstream overloaded", Code: "overloaded", Retryable: true}
	llm := &scriptedLLM{turns: []scriptedTurn{
		{streamErr: boom}, {streamErr: boom}, {streamErr: boom},
	}}
	execCtx, _ := newExecCtx(t, llm, 5)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, string(models.SubagentStatusError), result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "overloaded")
}

func TestSubagentLLMErrorRecovers(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{streamErr: &agent.ErrorChunk{Message: "blip", Retryable: true}},
		{toolCalls: []agent.ToolCall{completeCall("c1",
			`{"findings":"Recovered.","no_search_needed":true}`)}},
	}}
	execCtx, _ := newExecCtx(t, llm, 5)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, string(models.SubagentStatusOK), result.Status)

	// The retry context was appended as a user message.
	second := llm.inputs[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "try again")
}

func TestSubagentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &scriptedLLM{}
	execCtx, _ := newExecCtx(t, llm, 5)

	result, err := NewSubagentController().Run(ctx, execCtx)
	require.NoError(t, err)
	assert.Equal(t, string(models.SubagentStatusCancelled), result.Status)
	assert.True(t, errors.Is(result.Error, context.Canceled))
}

func TestSubagentCompleteTaskInvalidArgs(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []agent.ToolCall{completeCall("c1", `{"findings":""}`)}},
		{toolCalls: []agent.ToolCall{completeCall("c2",
			`{"findings":"Real findings.","no_search_needed":true}`)}},
	}}
	execCtx, _ := newExecCtx(t, llm, 5)

	result, err := NewSubagentController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, string(models.SubagentStatusOK), result.Status)
	assert.Equal(t, "Real findings.", result.FindingsText)
}
