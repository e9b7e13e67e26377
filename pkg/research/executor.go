// Package research runs complete research sessions: classification, research
// rounds, synthesis and the citation pass, with events and persistence.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/agent/orchestrator"
	"github.com/kestrelhq/kestrel/pkg/citation"
	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/llm"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/session"
	"github.com/kestrelhq/kestrel/pkg/store"
	"github.com/kestrelhq/kestrel/pkg/tools"
	"github.com/kestrelhq/kestrel/pkg/web"
)

// LLMPool resolves provider names to clients. Implemented by llm.Pool.
type LLMPool interface {
	Get(name string) (agent.LLMClient, error)
}

var _ LLMPool = (*llm.Pool)(nil)

// Overrides are per-request adjustments on top of the configured defaults.
// Zero values mean "use the default".
type Overrides struct {
	LeadProvider     string
	SubagentProvider string

	MaxSubagents  int
	MaxConcurrent int
	MaxRounds     int

	SessionDeadline time.Duration
	CitationStyle   config.CitationStyle
}

// Executor runs research sessions end to end. All fields except Store and
// Tracer are required.
type Executor struct {
	Config  *config.Config
	LLMs    LLMPool
	Bus     *events.Bus
	Builder agent.PromptBuilder

	Search web.SearchProvider
	Fetch  web.FetchProvider

	// Sessions is the live-session registry used for status reads and
	// cancellation while a run is in flight.
	Sessions *session.Manager

	// Store, when set, receives the final record and every published
	// event for later replay.
	Store *store.Store

	// Tracer, when set, wraps each run in a span.
	Tracer trace.Tracer
}

// Run executes a research session for query under a fresh session ID.
func (e *Executor) Run(ctx context.Context, query string, ov Overrides) (*models.SessionRecord, error) {
	return e.RunSession(ctx, uuid.NewString(), query, ov)
}

// RunSession executes a research session under a caller-provided ID
// (typically one claimed from the queue). The returned record is always
// non-nil once the session was registered, even when err is set.
func (e *Executor) RunSession(ctx context.Context, id, query string, ov Overrides) (*models.SessionRecord, error) {
	settings := e.resolve(ov)

	sess := session.New(id, query, settings.snapshot())
	if err := e.Sessions.Register(sess); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, settings.sessionDeadline)
	defer cancel()
	sess.Start(cancel)

	if e.Tracer != nil {
		var span trace.Span
		ctx, span = e.Tracer.Start(ctx, "research.session",
			trace.WithAttributes(attribute.String("session.id", id)))
		defer span.End()
	}

	stopRecording := e.recordEvents(id)
	defer stopRecording()

	e.Bus.Publish(id, events.EventTypeSessionStarted,
		events.SessionStatusPayload{Status: models.SessionStatusRunning})
	slog.InfoContext(ctx, "Session started",
		slog.String("session_id", id),
		slog.String("query", query))

	runErr := e.execute(ctx, sess, settings)

	status := models.SessionStatusCompleted
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			status = models.SessionStatusTimedOut
		case errors.Is(ctx.Err(), context.Canceled):
			status = models.SessionStatusCancelled
		default:
			status = models.SessionStatusFailed
		}
	}
	sess.Finish(status, errMsg)

	e.Bus.Publish(id, events.EventTypeSessionStatus,
		events.SessionStatusPayload{Status: status, Error: errMsg})

	record := sess.Snapshot()
	e.persist(&record)

	if runErr != nil {
		slog.ErrorContext(ctx, "Session finished with error",
			slog.String("session_id", id),
			slog.String("status", string(status)),
			slog.Any("error", runErr))
		return &record, runErr
	}

	slog.InfoContext(ctx, "Session completed",
		slog.String("session_id", id),
		slog.Int("rounds", len(record.Rounds)),
		slog.Int("sources", len(record.Sources)),
		slog.Int("tokens_used", record.TokensUsed))
	return &record, nil
}

// execute drives the lead and the citation pass; caller handles terminal
// status and persistence.
func (e *Executor) execute(ctx context.Context, sess *session.Session, settings runSettings) error {
	leadLLM, err := e.LLMs.Get(settings.leadProvider)
	if err != nil {
		return fmt.Errorf("lead provider: %w", err)
	}
	subLLM, err := e.LLMs.Get(settings.subagentProvider)
	if err != nil {
		return fmt.Errorf("subagent provider: %w", err)
	}
	citeLLM, err := e.LLMs.Get(settings.citationProvider)
	if err != nil {
		return fmt.Errorf("citation provider: %w", err)
	}

	leadProv, err := e.Config.GetLLMProvider(settings.leadProvider)
	if err != nil {
		return fmt.Errorf("lead provider: %w", err)
	}
	subProv, err := e.Config.GetLLMProvider(settings.subagentProvider)
	if err != nil {
		return fmt.Errorf("subagent provider: %w", err)
	}
	citeProv, err := e.Config.GetLLMProvider(settings.citationProvider)
	if err != nil {
		return fmt.Errorf("citation provider: %w", err)
	}

	registry, err := tools.NewSessionRegistry(tools.BuiltinDeps{
		Search:     e.Search,
		Fetch:      e.Fetch,
		Sources:    sess.Sources,
		SourceCap:  settings.sourceCap,
		MaxResults: e.Config.Search.MaxResults,
	})
	if err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}

	tokens := agent.NewTokenCounter()
	id := sess.ID()

	runner := &orchestrator.Runner{
		MaxConcurrent: settings.maxConcurrent,
		BudgetCaps:    settings.budgets,
		TokenBudget:   settings.tokenBudget,
		Deadline:      settings.subagentDeadline,
		LLMClient:     subLLM,
		PromptBuilder: e.Builder,
		Bus:           e.Bus,
		Sources:       sess.Sources,
		Tokens:        tokens,
		TranscriptFor: sess.TranscriptFor,
		RunConfig:     settings.runConfig(settings.subagentProvider, subProv),
		NewExecutor: func(subagentID string, budget *agent.Budget) agent.ToolExecutor {
			return tools.NewExecutor(tools.ExecutorOpts{
				Registry:     registry,
				Role:         tools.RoleSubagent,
				SessionID:    id,
				SubagentID:   subagentID,
				Budget:       budget,
				Bus:          e.Bus,
				ToolDeadline: settings.toolDeadline,
			})
		},
	}
	lead := &orchestrator.Lead{Runner: runner, MaxSubagents: settings.maxSubagents}

	leadBudget := agent.NewBudget(settings.maxRounds*settings.maxLeadToolCalls, 0)
	leadExecCtx := &agent.ExecutionContext{
		SessionID:  id,
		SubagentID: agent.LeadAgentID,
		Query:      sess.Query(),
		Config:     settings.runConfig(settings.leadProvider, leadProv),
		Budget:     leadBudget,
		LLMClient:  leadLLM,
		ToolExecutor: tools.NewExecutor(tools.ExecutorOpts{
			Registry:     registry,
			Role:         tools.RoleLead,
			SessionID:    id,
			SubagentID:   agent.LeadAgentID,
			Budget:       leadBudget,
			Bus:          e.Bus,
			ToolDeadline: settings.toolDeadline,
		}),
		Bus:           e.Bus,
		PromptBuilder: e.Builder,
		Sources:       sess.Sources,
		Transcript:    sess.TranscriptFor(agent.LeadAgentID),
		Tokens:        tokens,
	}

	outcome, err := lead.Run(ctx, leadExecCtx)
	if outcome != nil {
		sess.SetClassification(outcome.Classification)
		for _, r := range outcome.Rounds {
			sess.AddRound(r)
		}
		sess.AddTokens(outcome.TokensUsed.TotalTokens)
	}
	if err != nil {
		return fmt.Errorf("lead: %w", err)
	}
	// Models occasionally emit anchor syntax in the synthesis despite the
	// prompt. The draft must be anchor-free before the citation pass.
	draft := citation.StripAnchors(outcome.Draft)
	sess.SetDraft(draft)

	processor := citation.NewProcessor(citeLLM, citeProv, e.Builder, e.Bus, settings.citationStyle)
	result, err := processor.Process(ctx, id, draft, sess.Sources.Snapshot())
	if err != nil {
		return fmt.Errorf("citation: %w", err)
	}
	sess.SetCitedOutput(result.Report, result.Summary)
	sess.AddTokens(result.TokensUsed)

	if !result.Summary.Degraded {
		e.Bus.Publish(id, events.EventTypeCitationComplete,
			events.CitationCompletePayload{Report: result.Summary})
	}
	return nil
}

// persist writes the final record when a store is configured.
func (e *Executor) persist(record *models.SessionRecord) {
	if e.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Store.SaveRecord(ctx, record); err != nil {
		slog.Error("Failed to persist session record",
			slog.String("session_id", record.ID),
			slog.Any("error", err))
	}
}

// recordEvents copies the session's bus events into the store for SSE
// catch-up. No-op without a store.
func (e *Executor) recordEvents(sessionID string) func() {
	if e.Store == nil {
		return func() {}
	}
	ch, unsubscribe, err := e.Bus.Subscribe("store-"+sessionID, sessionID, 256)
	if err != nil {
		slog.Error("Failed to subscribe event recorder",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.Store.InsertEvent(ctx, ev); err != nil {
				slog.Error("Failed to persist event",
					slog.String("session_id", sessionID),
					slog.Uint64("seq", ev.Seq),
					slog.Any("error", err))
			}
			cancel()
		}
	}()

	return func() {
		unsubscribe()
		<-done
	}
}
