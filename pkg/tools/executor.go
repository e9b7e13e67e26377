package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/web"
)

// Executor implements agent.ToolExecutor for one agent. Every call passes
// through the same gate in order: argument validation, duplicate-query
// rejection, budget charge, dispatch under the tool deadline. Invalid and
// duplicate calls consume no budget.
type Executor struct {
	registry *Registry
	role     string

	sessionID  string
	subagentID string

	budget       *agent.Budget
	bus          *events.Bus
	toolDeadline time.Duration

	mu          sync.Mutex
	seenQueries map[string]bool
}

// ExecutorOpts configures a per-agent executor.
type ExecutorOpts struct {
	Registry     *Registry
	Role         string
	SessionID    string
	SubagentID   string
	Budget       *agent.Budget
	Bus          *events.Bus
	ToolDeadline time.Duration
}

// NewExecutor creates an executor for one agent.
func NewExecutor(opts ExecutorOpts) *Executor {
	return &Executor{
		registry:     opts.Registry,
		role:         opts.Role,
		sessionID:    opts.SessionID,
		subagentID:   opts.SubagentID,
		budget:       opts.Budget,
		bus:          opts.Bus,
		toolDeadline: opts.ToolDeadline,
		seenQueries:  make(map[string]bool),
	}
}

// ListTools implements agent.ToolExecutor.
func (e *Executor) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	return e.registry.DefinitionsFor(e.role), nil
}

// Execute implements agent.ToolExecutor.
func (e *Executor) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	def, ok := e.registry.Get(call.Name)
	if !ok || !def.visibleTo(e.role) {
		return agent.ErrorResult(call, agent.ErrorKindUnknownTool,
			fmt.Sprintf("unknown tool %q", call.Name)), nil
	}
	if def.Control {
		// Control tools are intercepted by the controller before reaching
		// the executor.
		return agent.ErrorResult(call, agent.ErrorKindExecutionFailure,
			fmt.Sprintf("tool %q cannot be dispatched directly", call.Name)), nil
	}

	args, err := def.ValidateArgs(call.Arguments)
	if err != nil {
		// No budget spent on malformed calls.
		return agent.ErrorResult(call, agent.ErrorKindInvalidArgs, err.Error()), nil
	}

	if call.Name == ToolWebSearch {
		query, _ := args["query"].(string)
		if e.isDuplicateQuery(query) {
			return agent.ErrorResult(call, agent.ErrorKindDuplicateQuery,
				fmt.Sprintf("you already searched for %q; rephrase the query or use web_fetch on a result you have", query)), nil
		}
	}

	if err := e.budget.ChargeToolCall(); err != nil {
		return agent.ErrorResult(call, agent.ErrorKindBudgetExhausted,
			"tool call budget exhausted; finish the task with complete_task now"), nil
	}

	e.publishStarted(call)
	start := time.Now()

	callCtx := ctx
	var cancel context.CancelFunc
	if e.toolDeadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.toolDeadline)
		defer cancel()
	}

	content, err := def.Handler(callCtx, Invocation{
		SessionID:  e.sessionID,
		SubagentID: e.subagentID,
		Args:       args,
	})

	result := &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: content}
	if err != nil {
		result.IsError = true
		result.ErrorKind, result.Content = classifyToolError(err)
	}

	e.publishFinished(call, result, time.Since(start))
	return result, nil
}

// isDuplicateQuery records and checks normalized search queries.
func (e *Executor) isDuplicateQuery(query string) bool {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seenQueries[norm] {
		return true
	}
	e.seenQueries[norm] = true
	return false
}

func classifyToolError(err error) (kind, message string) {
	var se *web.SearchError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return agent.ErrorKindTimeout, "tool call timed out"
	case errors.As(err, &se) && se.Kind == web.SearchErrRateLimited:
		return agent.ErrorKindRateLimited, err.Error()
	case errors.As(err, &se):
		return agent.ErrorKindUnavailable, err.Error()
	default:
		return agent.ErrorKindExecutionFailure, err.Error()
	}
}

func (e *Executor) publishStarted(call agent.ToolCall) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(e.sessionID, events.EventTypeToolCallStarted, events.ToolCallStartedPayload{
		SubagentID: e.subagentID,
		CallID:     call.ID,
		Tool:       call.Name,
		Arguments:  call.Arguments,
	})
}

func (e *Executor) publishFinished(call agent.ToolCall, res *agent.ToolResult, elapsed time.Duration) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(e.sessionID, events.EventTypeToolCallFinished, events.ToolCallFinishedPayload{
		SubagentID: e.subagentID,
		CallID:     call.ID,
		Tool:       call.Name,
		IsError:    res.IsError,
		ErrorKind:  res.ErrorKind,
		DurationMS: elapsed.Milliseconds(),
	})
}
