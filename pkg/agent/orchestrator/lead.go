package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/agent/controller"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/tools"
)

// leadTurnLimit bounds LLM turns within one round before the lead is
// forced onward. Covers direct tool calls plus retries.
const leadTurnLimit = 8

// synthesizeKeyword is the reflection protocol's stop word.
const synthesizeKeyword = "SYNTHESIZE"

// Lead runs the planning loop of a research session: classify, dispatch
// rounds through the Runner, reflect, and synthesize the draft report.
type Lead struct {
	Runner       *Runner
	MaxSubagents int
}

// Outcome is everything the lead produced across the session.
type Outcome struct {
	Classification models.Classification
	Rounds         []models.Round
	Draft          string
	TokensUsed     agent.TokenUsage
}

// Run drives the lead to a finished draft. execCtx is the lead's own
// execution context (SubagentID "lead", the lead's tool executor and
// budget).
func (l *Lead) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*Outcome, error) {
	outcome := &Outcome{}

	classification, usage, err := l.classify(ctx, execCtx)
	outcome.TokensUsed.Add(usage)
	if err != nil {
		return outcome, err
	}
	outcome.Classification = classification

	for round := 1; round <= execCtx.Config.MaxRounds; round++ {
		completed, usage, err := l.runRound(ctx, execCtx, classification, round, outcome.Rounds)
		outcome.TokensUsed.Add(usage)
		if err != nil {
			return outcome, err
		}
		if completed == nil {
			// The lead declined to dispatch; everything it needs is already
			// on the table.
			break
		}
		outcome.Rounds = append(outcome.Rounds, *completed)

		if l.Runner.Bus != nil {
			succeeded, failed := tally(completed.Results)
			l.Runner.Bus.Publish(execCtx.SessionID, events.EventTypeRoundComplete, events.RoundCompletePayload{
				Round:      round,
				Succeeded:  succeeded,
				Failed:     failed,
				Reflection: string(completed.Reflection),
			})
		}
		if completed.Reflection == models.ReflectionSynthesize {
			break
		}
	}

	draft, usage, err := l.synthesize(ctx, execCtx, outcome.Rounds)
	outcome.TokensUsed.Add(usage)
	if err != nil {
		return outcome, err
	}
	outcome.Draft = draft
	return outcome, nil
}

// classify runs the single-shot query pre-assessment. A response that
// fails to parse falls back to a standard breadth-first plan.
func (l *Lead) classify(ctx context.Context, execCtx *agent.ExecutionContext) (models.Classification, agent.TokenUsage, error) {
	messages := execCtx.PromptBuilder.BuildClassifierMessages(execCtx.Query)
	controller.RecordMessages(execCtx, messages)

	turn, err := controller.CallLLM(ctx, execCtx, &agent.GenerateInput{
		SessionID:  execCtx.SessionID,
		SubagentID: execCtx.SubagentID,
		Messages:   messages,
		Config:     execCtx.Config.Provider,
	})
	if err != nil {
		return models.Classification{}, agent.TokenUsage{}, fmt.Errorf("classify query: %w", err)
	}
	controller.RecordMessage(execCtx, agent.ConversationMessage{Role: agent.RoleAssistant, Content: turn.Text})

	classification := parseClassification(turn.Text)
	if l.Runner.Bus != nil {
		l.Runner.Bus.Publish(execCtx.SessionID, events.EventTypeQueryClassified, events.QueryClassifiedPayload{
			QueryType:  classification.QueryType,
			Complexity: classification.Complexity,
			Rationale:  classification.Rationale,
		})
	}
	return classification, turn.Usage, nil
}

// runRound executes one lead planning turn sequence: direct lookups,
// then a run_subagents dispatch, then reflection. Returns nil when the
// lead never dispatched and the loop should end.
func (l *Lead) runRound(ctx context.Context, execCtx *agent.ExecutionContext, classification models.Classification, round int, prior []models.Round) (*models.Round, agent.TokenUsage, error) {
	var usage agent.TokenUsage

	messages := execCtx.PromptBuilder.BuildLeadMessages(execCtx, classification, prior)
	controller.RecordMessages(execCtx, messages)

	toolDefs, err := execCtx.ToolExecutor.ListTools(ctx)
	if err != nil {
		return nil, usage, fmt.Errorf("list lead tools: %w", err)
	}

	directCalls := 0
	for turnNum := 1; turnNum <= leadTurnLimit; turnNum++ {
		turn, err := controller.CallLLM(ctx, execCtx, &agent.GenerateInput{
			SessionID:  execCtx.SessionID,
			SubagentID: execCtx.SubagentID,
			Messages:   messages,
			Config:     execCtx.Config.Provider,
			Tools:      toolDefs,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, usage, ctx.Err()
			}
			messages = controller.AppendMessage(execCtx, messages, agent.ConversationMessage{
				Role: agent.RoleUser, Content: controller.RetryMessage(err),
			})
			continue
		}
		usage.Add(turn.Usage)

		messages = controller.AppendMessage(execCtx, messages, agent.ConversationMessage{
			Role:      agent.RoleAssistant,
			Content:   turn.Text,
			ToolCalls: turn.ToolCalls,
		})

		if call, found := findCall(turn.ToolCalls, tools.ToolRunSubagents); found {
			plan, parseErr := parsePlan(call, classification, l.MaxSubagents)
			if parseErr != nil {
				messages = controller.AppendMessage(execCtx, messages, controller.ToolResultMessage(
					agent.ErrorResult(call, agent.ErrorKindInvalidArgs, parseErr.Error())))
				continue
			}
			completed, reflectUsage, err := l.dispatchAndReflect(ctx, execCtx, round, plan, messages, call)
			usage.Add(reflectUsage)
			return completed, usage, err
		}

		if len(turn.ToolCalls) > 0 {
			// Direct verification lookups, bounded per round.
			allowed := turn.ToolCalls
			if over := directCalls + len(allowed) - execCtx.Config.MaxLeadToolCallsPerRound; over > 0 {
				allowed = allowed[:len(allowed)-over]
			}
			results := controller.DispatchToolCalls(ctx, execCtx, allowed)
			for _, result := range results {
				messages = controller.AppendMessage(execCtx, messages, controller.ToolResultMessage(result))
			}
			for _, call := range turn.ToolCalls[len(allowed):] {
				messages = controller.AppendMessage(execCtx, messages, controller.ToolResultMessage(
					agent.ErrorResult(call, agent.ErrorKindBudgetExhausted,
						"direct tool call limit for this round reached; dispatch subagents instead")))
			}
			directCalls += len(allowed)
			continue
		}

		// Plain text without a dispatch. On the first round insist on a
		// plan; on later rounds treat it as "research is done".
		if round > 1 {
			return nil, usage, nil
		}
		messages = controller.AppendMessage(execCtx, messages, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: "Dispatch your research plan now using the run_subagents tool.",
		})
	}

	if round > 1 {
		return nil, usage, nil
	}
	return nil, usage, fmt.Errorf("lead never dispatched subagents within %d turns", leadTurnLimit)
}

// dispatchAndReflect runs one planned round and the reflection turn that
// decides whether to continue.
func (l *Lead) dispatchAndReflect(ctx context.Context, execCtx *agent.ExecutionContext, round int, plan models.Plan, messages []agent.ConversationMessage, call agent.ToolCall) (*models.Round, agent.TokenUsage, error) {
	var usage agent.TokenUsage

	if l.Runner.Bus != nil {
		prompts := make([]string, len(plan.Tasks))
		for i, t := range plan.Tasks {
			prompts[i] = t.Prompt
		}
		l.Runner.Bus.Publish(execCtx.SessionID, events.EventTypePlanCreated, events.PlanCreatedPayload{
			Round:     round,
			QueryType: string(plan.QueryType),
			Tasks:     prompts,
		})
	}

	results, err := l.Runner.RunAll(ctx, execCtx, round, plan.Tasks)
	if err != nil {
		return nil, usage, fmt.Errorf("round %d dispatch: %w", round, err)
	}

	completed := models.Round{
		Index:   round,
		Plan:    plan,
		Results: results,
		// Reflection defaults to synthesize so a failed reflection turn
		// cannot spin extra rounds.
		Reflection: models.ReflectionSynthesize,
	}

	// Feed the results back as the dispatch call's tool result, then ask
	// for the continue/synthesize decision.
	messages = controller.AppendMessage(execCtx, messages, agent.ConversationMessage{
		Role:       agent.RoleTool,
		Content:    dispatchSummary(completed),
		ToolCallID: call.ID,
		ToolName:   call.Name,
	})
	messages = controller.AppendMessage(execCtx, messages, agent.ConversationMessage{
		Role: agent.RoleUser, Content: execCtx.PromptBuilder.BuildReflectionPrompt(completed),
	})

	turn, err := controller.CallLLM(ctx, execCtx, &agent.GenerateInput{
		SessionID:  execCtx.SessionID,
		SubagentID: execCtx.SubagentID,
		Messages:   messages,
		Config:     execCtx.Config.Provider,
		Tools:      listOnly(execCtx, tools.ToolRunSubagents),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, usage, ctx.Err()
		}
		slog.WarnContext(ctx, "Reflection turn failed, synthesizing with current results",
			slog.String("session_id", execCtx.SessionID),
			slog.Int("round", round),
			slog.Any("error", err))
		return &completed, usage, nil
	}
	usage.Add(turn.Usage)
	controller.RecordMessage(execCtx, agent.ConversationMessage{
		Role: agent.RoleAssistant, Content: turn.Text, ToolCalls: turn.ToolCalls,
	})

	note := strings.TrimSpace(turn.Text)
	if _, wantsMore := findCall(turn.ToolCalls, tools.ToolRunSubagents); wantsMore ||
		(note != "" && !strings.Contains(strings.ToUpper(note), synthesizeKeyword)) {
		completed.Reflection = models.ReflectionContinue
	}
	completed.ReflectionNote = note
	return &completed, usage, nil
}

// synthesize runs the tool-less final report turn.
func (l *Lead) synthesize(ctx context.Context, execCtx *agent.ExecutionContext, rounds []models.Round) (string, agent.TokenUsage, error) {
	if l.Runner.Bus != nil {
		l.Runner.Bus.Publish(execCtx.SessionID, events.EventTypeSynthesisStarted, nil)
	}

	request := agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: execCtx.PromptBuilder.BuildSynthesisPrompt(execCtx, rounds, l.Runner.Sources.Snapshot()),
	}
	controller.RecordMessage(execCtx, request)

	turn, err := controller.CallLLM(ctx, execCtx, &agent.GenerateInput{
		SessionID:  execCtx.SessionID,
		SubagentID: execCtx.SubagentID,
		Messages:   []agent.ConversationMessage{request},
		Config:     execCtx.Config.Provider,
	})
	if err != nil {
		return "", agent.TokenUsage{}, fmt.Errorf("synthesis: %w", err)
	}
	if strings.TrimSpace(turn.Text) == "" {
		return "", turn.Usage, fmt.Errorf("synthesis produced an empty report")
	}
	controller.RecordMessage(execCtx, agent.ConversationMessage{Role: agent.RoleAssistant, Content: turn.Text})

	draft := strings.TrimSpace(turn.Text)
	if l.Runner.Bus != nil {
		l.Runner.Bus.Publish(execCtx.SessionID, events.EventTypeSynthesisComplete, events.SynthesisCompletePayload{
			DraftChars:  len(draft),
			SourceCount: l.Runner.Sources.Len(),
		})
	}
	return draft, turn.Usage, nil
}

// parseClassification decodes the classifier's JSON verdict, tolerating
// markdown fences. Unparseable or unknown values fall back to a standard
// breadth-first assessment.
func parseClassification(text string) models.Classification {
	fallback := models.Classification{
		QueryType:  models.QueryTypeBreadthFirst,
		Complexity: models.ComplexityStandard,
	}

	raw := extractJSON(text)
	var decoded struct {
		QueryType  string `json:"query_type"`
		Complexity string `json:"complexity"`
		Reasoning  string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return fallback
	}

	c := models.Classification{
		QueryType:  models.QueryType(decoded.QueryType),
		Complexity: models.Complexity(decoded.Complexity),
		Rationale:  decoded.Reasoning,
	}
	switch c.QueryType {
	case models.QueryTypeDepthFirst, models.QueryTypeBreadthFirst, models.QueryTypeStraightforward:
	default:
		c.QueryType = fallback.QueryType
	}
	switch c.Complexity {
	case models.ComplexitySimple, models.ComplexityStandard, models.ComplexityMedium, models.ComplexityHigh:
	default:
		c.Complexity = fallback.Complexity
	}
	return c
}

// parsePlan decodes a run_subagents call into a Plan, clamping the task
// count to the configured maximum.
func parsePlan(call agent.ToolCall, classification models.Classification, maxSubagents int) (models.Plan, error) {
	var args struct {
		Tasks []struct {
			Prompt     string `json:"prompt"`
			BudgetHint string `json:"budget_hint"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return models.Plan{}, fmt.Errorf("run_subagents arguments are not valid JSON: %w", err)
	}
	if len(args.Tasks) == 0 {
		return models.Plan{}, fmt.Errorf("run_subagents requires at least one task")
	}

	if maxSubagents > 0 && len(args.Tasks) > maxSubagents {
		slog.Warn("Plan clamped to subagent limit",
			slog.Int("requested", len(args.Tasks)),
			slog.Int("limit", maxSubagents))
		args.Tasks = args.Tasks[:maxSubagents]
	}

	plan := models.Plan{QueryType: classification.QueryType}
	for _, t := range args.Tasks {
		if strings.TrimSpace(t.Prompt) == "" {
			return models.Plan{}, fmt.Errorf("run_subagents task prompts must be non-empty")
		}
		plan.Tasks = append(plan.Tasks, models.TaskSpec{
			Prompt:     t.Prompt,
			BudgetHint: models.BudgetHint(t.BudgetHint),
		})
	}
	return plan, nil
}

// extractJSON trims markdown fences and surrounding prose down to the
// outermost JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

// dispatchSummary renders the run_subagents tool result text.
func dispatchSummary(r models.Round) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dispatched %d subagent(s); all have finished.\n\n", len(r.Results))
	succeeded, failed := tally(r.Results)
	fmt.Fprintf(&sb, "%d succeeded, %d failed. Results follow in the next message.", succeeded, failed)
	return sb.String()
}

func tally(results []models.SubagentResult) (succeeded, failed int) {
	for _, r := range results {
		if r.Status == models.SubagentStatusOK {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
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

// listOnly filters the lead's tool definitions to the named tools.
func listOnly(execCtx *agent.ExecutionContext, names ...string) []agent.ToolDefinition {
	defs, err := execCtx.ToolExecutor.ListTools(context.Background())
	if err != nil {
		return nil
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := defs[:0:0]
	for _, def := range defs {
		if keep[def.Name] {
			out = append(out, def)
		}
	}
	return out
}
