package research

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/agent/prompt"
	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/session"
	"github.com/kestrelhq/kestrel/pkg/web"
)

type scriptedTurn struct {
	text  string
	calls []agent.ToolCall
}

// scriptedLLM replays canned turns in order.
type scriptedLLM struct {
	turns []scriptedTurn
	next  int
}

func (s *scriptedLLM) Generate(ctx context.Context, _ *agent.GenerateInput) (<-chan agent.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.turns) {
		return nil, fmt.Errorf("script exhausted after %d turns", len(s.turns))
	}
	turn := s.turns[s.next]
	s.next++

	ch := make(chan agent.Chunk, 8)
	if turn.text != "" {
		ch <- &agent.TextChunk{Content: turn.text}
	}
	for _, call := range turn.calls {
		ch <- &agent.ToolCallChunk{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}
	}
	ch <- &agent.UsageChunk{InputTokens: 50, OutputTokens: 25, TotalTokens: 75}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) Close() error { return nil }

type fakePool struct {
	clients map[string]agent.LLMClient
}

func (p *fakePool) Get(name string) (agent.LLMClient, error) {
	c, ok := p.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return c, nil
}

type fakeSearch struct{}

func (fakeSearch) Search(_ context.Context, _ string, _ int) ([]web.SearchHit, error) {
	return []web.SearchHit{
		{URL: "https://example.com/go-services", Title: "Go for Services", Snippet: "Why Go fits network services."},
	}, nil
}

type fakeFetch struct{}

func (fakeFetch) Fetch(_ context.Context, pageURL string) (*web.Page, error) {
	return &web.Page{URL: pageURL, Title: "Page", Content: "body text"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Defaults: &config.Defaults{
			LeadProvider:             "lead-llm",
			SubagentProvider:         "sub-llm",
			CitationProvider:         "cite-llm",
			MaxSubagents:             4,
			MaxConcurrent:            2,
			MaxRounds:                2,
			MaxLeadToolCallsPerRound: 2,
			SessionDeadlineSec:       30,
			SubagentDeadlineSec:      10,
			ToolDeadlineSec:          5,
			Budgets:                  config.BudgetCaps{Light: 2, Medium: 4, Heavy: 6},
			SourceCapPerSubagent:     10,
			TokenBudgetPerSubagent:   100_000,
			CitationStyle:            config.CitationStyleNumeric,
		},
		Search: &config.SearchConfig{Backend: "brave", MaxResults: 3},
		Queue:  &config.QueueConfig{WorkerCount: 1},
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"lead-llm": {Backend: config.BackendAnthropic, Model: "test-lead", APIKeyEnv: "TEST_KEY"},
			"sub-llm":  {Backend: config.BackendAnthropic, Model: "test-sub", APIKeyEnv: "TEST_KEY"},
			"cite-llm": {Backend: config.BackendAnthropic, Model: "test-cite", APIKeyEnv: "TEST_KEY"},
		}),
	}
}

const draftText = "Go is a strong fit for network services."

// happyLLMs scripts one full session: classify, one round with one
// subagent, synthesis, citation.
func happyLLMs() *fakePool {
	lead := &scriptedLLM{turns: []scriptedTurn{
		{text: `{"query_type": "depth_first", "complexity": "standard", "rationale": "single topic"}`},
		{calls: []agent.ToolCall{{
			ID:        "call-plan",
			Name:      "run_subagents",
			Arguments: `{"tasks": [{"prompt": "Research why Go fits network services.", "budget_hint": "light"}]}`,
		}}},
		{text: "Coverage is sufficient. SYNTHESIZE"},
		{text: draftText},
	}}
	sub := &scriptedLLM{turns: []scriptedTurn{
		{calls: []agent.ToolCall{{ID: "call-search", Name: "web_search", Arguments: `{"query": "go network services"}`}}},
		{calls: []agent.ToolCall{{
			ID:        "call-done",
			Name:      "complete_task",
			Arguments: `{"findings": "Go's runtime and stdlib suit servers.", "source_indices": [1]}`,
		}}},
	}}
	cite := &scriptedLLM{turns: []scriptedTurn{
		{text: "<cited>" + draftText + "⟦1⟧</cited>"},
	}}
	return &fakePool{clients: map[string]agent.LLMClient{
		"lead-llm": lead,
		"sub-llm":  sub,
		"cite-llm": cite,
	}}
}

func newExecutor(pool *fakePool) *Executor {
	return &Executor{
		Config:   testConfig(),
		LLMs:     pool,
		Bus:      events.NewBus(),
		Builder:  prompt.NewBuilder(),
		Search:   fakeSearch{},
		Fetch:    fakeFetch{},
		Sessions: session.NewManager(),
	}
}

func TestRunSessionCompletes(t *testing.T) {
	e := newExecutor(happyLLMs())

	ch, unsubscribe, err := e.Bus.Subscribe("observer", "sess-1", 128)
	require.NoError(t, err)
	defer unsubscribe()

	record, err := e.RunSession(context.Background(), "sess-1", "why does go fit network services", Overrides{})
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, models.SessionStatusCompleted, record.Status)
	require.NotNil(t, record.Classification)
	assert.Equal(t, models.QueryTypeDepthFirst, record.Classification.QueryType)
	require.Len(t, record.Rounds, 1)
	assert.Equal(t, models.SubagentStatusOK, record.Rounds[0].Results[0].Status)
	assert.Equal(t, draftText, record.Draft)
	assert.Contains(t, record.CitedOutput, draftText+"[1]")
	assert.Contains(t, record.CitedOutput, "## References")
	assert.Contains(t, record.CitedOutput, "https://example.com/go-services")
	require.NotNil(t, record.Citations)
	assert.False(t, record.Citations.Degraded)
	assert.Equal(t, 1, record.Citations.UniqueCitations)
	require.Len(t, record.Sources, 1)
	assert.Greater(t, record.TokensUsed, 0)
	assert.NotNil(t, record.StartedAt)
	assert.NotNil(t, record.CompletedAt)
	assert.Empty(t, record.FailedTasks)

	unsubscribe()
	seen := map[string]bool{}
	for ev := range ch {
		seen[ev.Type] = true
	}
	for _, want := range []string{
		events.EventTypeSessionStarted,
		events.EventTypeQueryClassified,
		events.EventTypePlanCreated,
		events.EventTypeSubagentSpawned,
		events.EventTypeToolCallStarted,
		events.EventTypeSubagentFinished,
		events.EventTypeRoundComplete,
		events.EventTypeSynthesisComplete,
		events.EventTypeCitationComplete,
		events.EventTypeSessionStatus,
	} {
		assert.True(t, seen[want], "missing event %s", want)
	}
}

func TestRunSessionUnknownProvider(t *testing.T) {
	e := newExecutor(happyLLMs())

	record, err := e.RunSession(context.Background(), "sess-1", "query", Overrides{
		LeadProvider: "does-not-exist",
	})
	require.Error(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.SessionStatusFailed, record.Status)
	assert.NotEmpty(t, record.Error)
}

func TestRunSessionCancelled(t *testing.T) {
	e := newExecutor(happyLLMs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record, err := e.RunSession(ctx, "sess-1", "query", Overrides{})
	require.Error(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.SessionStatusCancelled, record.Status)
}

func TestRunSessionDuplicateID(t *testing.T) {
	e := newExecutor(happyLLMs())

	_, err := e.RunSession(context.Background(), "sess-1", "query", Overrides{})
	require.NoError(t, err)

	_, err = e.RunSession(context.Background(), "sess-1", "query", Overrides{})
	require.Error(t, err)
}

func TestRunSessionDegradedCitations(t *testing.T) {
	pool := happyLLMs()
	// Citation responses that never verify force the degraded path.
	pool.clients["cite-llm"] = &scriptedLLM{turns: []scriptedTurn{
		{text: "<cited>A rewrite that does not match the draft.⟦1⟧</cited>"},
		{text: "<cited>Still not the draft.⟦1⟧</cited>"},
	}}
	e := newExecutor(pool)

	record, err := e.RunSession(context.Background(), "sess-1", "query", Overrides{})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, record.Status)
	require.NotNil(t, record.Citations)
	assert.True(t, record.Citations.Degraded)
	assert.Contains(t, record.CitedOutput, draftText)
	assert.Contains(t, record.CitedOutput, "## References")
}

func TestResolveOverrides(t *testing.T) {
	e := newExecutor(happyLLMs())

	s := e.resolve(Overrides{})
	assert.Equal(t, "lead-llm", s.leadProvider)
	assert.Equal(t, "cite-llm", s.citationProvider)
	assert.Equal(t, 2, s.maxRounds)
	assert.Equal(t, 30*time.Second, s.sessionDeadline)

	s = e.resolve(Overrides{
		SubagentProvider: "other",
		MaxRounds:        7,
		MaxSubagents:     1,
		SessionDeadline:  time.Minute,
		CitationStyle:    config.CitationStyleFootnote,
	})
	assert.Equal(t, "other", s.subagentProvider)
	assert.Equal(t, 7, s.maxRounds)
	assert.Equal(t, 1, s.maxSubagents)
	assert.Equal(t, time.Minute, s.sessionDeadline)
	assert.Equal(t, config.CitationStyleFootnote, s.citationStyle)

	// Citation provider falls back to the subagent provider when unset.
	e.Config.Defaults.CitationProvider = ""
	s = e.resolve(Overrides{})
	assert.Equal(t, "sub-llm", s.citationProvider)
}
