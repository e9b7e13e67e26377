package agent

import (
	"context"
	"fmt"
)

// Tool error kinds carried on ToolResult.ErrorKind. They let controllers
// distinguish retryable conditions from wasted budget.
const (
	ErrorKindInvalidArgs      = "invalid_args"
	ErrorKindTimeout          = "timeout"
	ErrorKindRateLimited      = "rate_limited"
	ErrorKindUnavailable      = "unavailable"
	ErrorKindDuplicateQuery   = "duplicate_query"
	ErrorKindBudgetExhausted  = "budget_exhausted"
	ErrorKindUnknownTool      = "unknown_tool"
	ErrorKindExecutionFailure = "execution_failure"
)

// ToolExecutor abstracts tool execution for controllers. Implementations
// enforce budgets and duplicate-query rejection at this boundary so every
// controller gets identical semantics.
type ToolExecutor interface {
	// Execute runs a single tool call and returns the result. Failures of
	// the tool itself come back as a result with IsError set, not as an
	// error return; the error return is reserved for infrastructure
	// failures.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)

	// ListTools returns the tool definitions available to this agent.
	ListTools(ctx context.Context) ([]ToolDefinition, error)
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	CallID    string // matches the ToolCall.ID
	Name      string
	Content   string // tool output or error message
	IsError   bool
	ErrorKind string // one of the ErrorKind constants when IsError
}

// ErrorResult builds a failed ToolResult for a call.
func ErrorResult(call ToolCall, kind, message string) *ToolResult {
	return &ToolResult{
		CallID:    call.ID,
		Name:      call.Name,
		Content:   message,
		IsError:   true,
		ErrorKind: kind,
	}
}

// StubToolExecutor returns canned responses for testing.
type StubToolExecutor struct {
	tools []ToolDefinition
}

// NewStubToolExecutor creates a stub executor with the given tool definitions.
func NewStubToolExecutor(tools []ToolDefinition) *StubToolExecutor {
	return &StubToolExecutor{tools: tools}
}

func (s *StubToolExecutor) Execute(_ context.Context, call ToolCall) (*ToolResult, error) {
	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("[stub] Tool %q called with args: %s", call.Name, call.Arguments),
	}, nil
}

func (s *StubToolExecutor) ListTools(_ context.Context) ([]ToolDefinition, error) {
	return s.tools, nil
}
