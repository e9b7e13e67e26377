// Package orchestrator drives one research session: the lead loop that
// classifies the query, plans rounds of subagent tasks, dispatches them
// with bounded parallelism and synthesizes the final draft.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/agent/controller"
	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/session"
)

// ExecutorFactory builds a ToolExecutor for one agent. The factory binds
// session state (source table, registry) and per-agent identity so each
// subagent gets its own budget and duplicate-query scope.
type ExecutorFactory func(subagentID string, budget *agent.Budget) agent.ToolExecutor

// Runner dispatches one round's tasks to subagents with bounded
// parallelism and collects their results in dispatch order.
type Runner struct {
	MaxConcurrent int
	BudgetCaps    config.BudgetCaps
	TokenBudget   int
	Deadline      time.Duration

	// RunConfig is the resolved configuration for subagent executions.
	// Nil means subagents inherit the lead's config.
	RunConfig *agent.ResolvedRunConfig

	LLMClient     agent.LLMClient
	PromptBuilder agent.PromptBuilder
	Bus           *events.Bus
	Sources       *session.SourceTable
	Tokens        *agent.TokenCounter

	NewExecutor ExecutorFactory

	// TranscriptFor returns the audit transcript for an agent, usually
	// Session.TranscriptFor. Nil means standalone transcripts.
	TranscriptFor func(agentID string) *session.Transcript

	// NewController is swappable for tests; nil means the research
	// subagent controller.
	NewController func() agent.Controller
}

// RunAll executes every task of one round. The returned slice matches
// tasks in order; a subagent that panicked or failed infrastructure-wise
// still yields a result with status error. RunAll itself errors only
// when the round context is cancelled before any work could complete.
func (r *Runner) RunAll(ctx context.Context, execCtx *agent.ExecutionContext, round int, tasks []models.TaskSpec) ([]models.SubagentResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	limit := int64(r.MaxConcurrent)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	results := make([]models.SubagentResult, len(tasks))
	g, groupCtx := errgroup.WithContext(ctx)

	for i, task := range tasks {
		subagentID := fmt.Sprintf("sub-r%d-%d", round, i+1)
		g.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				results[i] = cancelledResult(subagentID, task, err)
				return nil
			}
			defer sem.Release(1)

			results[i] = r.runOne(groupCtx, execCtx, round, subagentID, task)
			return nil
		})
	}

	// Worker funcs always return nil; Wait only propagates a pre-start
	// cancellation.
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// runOne executes a single subagent to its terminal result.
func (r *Runner) runOne(ctx context.Context, leadCtx *agent.ExecutionContext, round int, subagentID string, task models.TaskSpec) models.SubagentResult {
	hint := task.BudgetHint
	if hint == "" {
		hint = agent.DeriveHint(task.Prompt)
	}
	budget := agent.NewBudget(agent.BudgetForHint(hint, r.BudgetCaps), r.TokenBudget)

	if r.Bus != nil {
		r.Bus.Publish(leadCtx.SessionID, events.EventTypeSubagentSpawned, events.SubagentSpawnedPayload{
			SubagentID: subagentID,
			Round:      round,
			Task:       task.Prompt,
			BudgetHint: string(hint),
		})
	}

	subCtx, cancel := context.WithTimeout(ctx, r.Deadline)
	defer cancel()

	runCfg := r.RunConfig
	if runCfg == nil {
		runCfg = leadCtx.Config
	}

	execCtx := &agent.ExecutionContext{
		SessionID:     leadCtx.SessionID,
		SubagentID:    subagentID,
		Round:         round,
		Query:         leadCtx.Query,
		Task:          task,
		Config:        runCfg,
		Budget:        budget,
		LLMClient:     r.LLMClient,
		ToolExecutor:  r.NewExecutor(subagentID, budget),
		Bus:           r.Bus,
		PromptBuilder: r.PromptBuilder,
		Sources:       r.Sources,
		Transcript:    r.transcriptFor(subagentID),
		Tokens:        r.Tokens,
	}

	ctrl := r.newController()
	start := time.Now()
	execResult, err := ctrl.Run(subCtx, execCtx)
	duration := time.Since(start)

	result := models.SubagentResult{
		ID:         subagentID,
		Task:       task,
		DurationMS: duration.Milliseconds(),
	}
	if err != nil {
		// Infrastructure failure with no usable result. The round
		// continues with the other subagents.
		slog.ErrorContext(ctx, "Subagent infrastructure failure",
			slog.String("session_id", leadCtx.SessionID),
			slog.String("subagent_id", subagentID),
			slog.Any("error", err))
		result.Status = models.SubagentStatusError
		result.Error = err.Error()
	} else {
		result.Status = models.SubagentStatus(execResult.Status)
		result.FindingsText = execResult.FindingsText
		result.Sources = execResult.SourceURLs
		result.ToolCallsMade = execResult.ToolCallsMade
		result.TokensUsed = execResult.TokensUsed.TotalTokens
		if execResult.Error != nil {
			result.Error = execResult.Error.Error()
		}
	}

	if r.Bus != nil {
		r.Bus.Publish(leadCtx.SessionID, events.EventTypeSubagentFinished, events.SubagentFinishedPayload{
			SubagentID:    subagentID,
			Status:        result.Status,
			ToolCallsMade: result.ToolCallsMade,
			TokensUsed:    result.TokensUsed,
			DurationMS:    result.DurationMS,
			Error:         result.Error,
		})
	}
	return result
}

func (r *Runner) newController() agent.Controller {
	if r.NewController != nil {
		return r.NewController()
	}
	return controller.NewSubagentController()
}

func (r *Runner) transcriptFor(agentID string) *session.Transcript {
	if r.TranscriptFor != nil {
		return r.TranscriptFor(agentID)
	}
	return session.NewTranscript(agentID)
}

func cancelledResult(subagentID string, task models.TaskSpec, err error) models.SubagentResult {
	return models.SubagentResult{
		ID:     subagentID,
		Task:   task,
		Status: models.SubagentStatusCancelled,
		Error:  err.Error(),
	}
}
