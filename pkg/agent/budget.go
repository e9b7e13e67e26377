package agent

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// ErrBudgetExhausted is returned by ChargeToolCall once the tool-call cap
// is spent.
var ErrBudgetExhausted = errors.New("tool call budget exhausted")

// hardToolCallCap bounds any configured budget so a misconfigured hint
// cannot make a subagent run away.
const hardToolCallCap = 20

// Budget tracks one agent's tool-call and token spend. All counters are
// atomic so tool handlers and the controller can charge concurrently.
type Budget struct {
	toolCallCap int
	tokenBudget int

	toolCalls atomic.Int64
	tokens    atomic.Int64
}

// NewBudget creates a budget with the given caps. A non-positive token
// budget disables token pressure tracking.
func NewBudget(toolCallCap, tokenBudget int) *Budget {
	if toolCallCap > hardToolCallCap {
		toolCallCap = hardToolCallCap
	}
	if toolCallCap < 1 {
		toolCallCap = 1
	}
	return &Budget{toolCallCap: toolCallCap, tokenBudget: tokenBudget}
}

// ChargeToolCall spends one tool call. The charge happens before dispatch;
// a call that would exceed the cap is rejected and nothing is spent.
func (b *Budget) ChargeToolCall() error {
	for {
		cur := b.toolCalls.Load()
		if cur >= int64(b.toolCallCap) {
			return ErrBudgetExhausted
		}
		if b.toolCalls.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// AddTokens records token consumption from an LLM call.
func (b *Budget) AddTokens(n int) {
	if n > 0 {
		b.tokens.Add(int64(n))
	}
}

// ToolCallsUsed returns the number of charged tool calls.
func (b *Budget) ToolCallsUsed() int { return int(b.toolCalls.Load()) }

// ToolCallsRemaining returns how many calls are left.
func (b *Budget) ToolCallsRemaining() int {
	rem := b.toolCallCap - int(b.toolCalls.Load())
	if rem < 0 {
		return 0
	}
	return rem
}

// ToolCallCap returns the configured cap.
func (b *Budget) ToolCallCap() int { return b.toolCallCap }

// TokensUsed returns the recorded token spend.
func (b *Budget) TokensUsed() int { return int(b.tokens.Load()) }

// TokenPressure returns spend as a fraction of the token budget, 0 when
// no token budget is set. Controllers summarize their working context
// when pressure crosses their threshold.
func (b *Budget) TokenPressure() float64 {
	if b.tokenBudget <= 0 {
		return 0
	}
	return float64(b.tokens.Load()) / float64(b.tokenBudget)
}

// BudgetForHint maps a budget hint to its configured tool-call cap.
func BudgetForHint(hint models.BudgetHint, caps config.BudgetCaps) int {
	switch hint {
	case models.BudgetHintLight:
		return caps.Light
	case models.BudgetHintHeavy:
		return caps.Heavy
	default:
		return caps.Medium
	}
}

// DeriveHint guesses a budget hint from task wording when the planner did
// not set one. "Comprehensive" style tasks get heavy budgets, analytical
// tasks medium, everything else light.
func DeriveHint(task string) models.BudgetHint {
	lower := strings.ToLower(task)
	for _, kw := range []string{"comprehensive", "exhaustive", "in-depth", "thorough"} {
		if strings.Contains(lower, kw) {
			return models.BudgetHintHeavy
		}
	}
	for _, kw := range []string{"compare", "analyze", "analyse", "evaluate", "versus", " vs "} {
		if strings.Contains(lower, kw) {
			return models.BudgetHintMedium
		}
	}
	return models.BudgetHintLight
}
