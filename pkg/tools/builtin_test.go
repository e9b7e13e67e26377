package tools

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/web"
)

// subagentExecutor builds an executor for one subagent over a shared
// registry, so tests can exercise several agents against one source table.
func subagentExecutor(t *testing.T, reg *Registry, bus *events.Bus, subagentID string) *Executor {
	t.Helper()
	return NewExecutor(ExecutorOpts{
		Registry:   reg,
		Role:       RoleSubagent,
		SessionID:  "sess-1",
		SubagentID: subagentID,
		Budget:     agent.NewBudget(10, 0),
		Bus:        bus,
	})
}

func TestSourceCapIsPerSubagent(t *testing.T) {
	search := &fakeSearch{hits: []web.SearchHit{
		{URL: "https://example.com/1", Title: "One"},
		{URL: "https://example.com/2", Title: "Two"},
		{URL: "https://example.com/3", Title: "Three"},
	}}
	deps := testDeps(search, &fakeFetch{})
	deps.SourceCap = 3

	reg, err := NewSessionRegistry(deps)
	require.NoError(t, err)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	// The first subagent fills its allowance.
	res, err := subagentExecutor(t, reg, bus, "sub-1").Execute(context.Background(), agent.ToolCall{
		ID: "c1", Name: ToolWebSearch, Arguments: `{"query": "alpha"}`,
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 3, deps.Sources.CountBy("sub-1"))

	// Further new sources are denied to it.
	search.hits = []web.SearchHit{{URL: "https://example.com/4", Title: "Four"}}
	res, err = subagentExecutor(t, reg, bus, "sub-1b").Execute(context.Background(), agent.ToolCall{
		ID: "c2", Name: ToolWebSearch, Arguments: `{"query": "beta"}`,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[4]", "fresh subagent gets its own allowance")

	// A subagent at its cap can still re-surface known sources.
	search.hits = []web.SearchHit{{URL: "https://example.com/2", Title: "Two"}}
	full := NewExecutor(ExecutorOpts{
		Registry: reg, Role: RoleSubagent, SessionID: "sess-1",
		SubagentID: "sub-1", Budget: agent.NewBudget(10, 0), Bus: bus,
	})
	res, err = full.Execute(context.Background(), agent.ToolCall{
		ID: "c3", Name: ToolWebSearch, Arguments: `{"query": "gamma"}`,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[2]", "known URL keeps its index")

	// But only new ones are refused.
	search.hits = []web.SearchHit{{URL: "https://example.com/5", Title: "Five"}}
	res, err = full.Execute(context.Background(), agent.ToolCall{
		ID: "c4", Name: ToolWebSearch, Arguments: `{"query": "delta"}`,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Source limit reached")
	assert.Equal(t, 3, deps.Sources.CountBy("sub-1"))
}

func TestFetchRespectsSourceCap(t *testing.T) {
	search := &fakeSearch{hits: []web.SearchHit{
		{URL: "https://example.com/1", Title: "One"},
		{URL: "https://example.com/2", Title: "Two"},
	}}
	fetch := &fakeFetch{page: &web.Page{
		URL: "https://example.com/article", Title: "Article", Content: "body text",
	}}
	deps := testDeps(search, fetch)
	deps.SourceCap = 2

	reg, err := NewSessionRegistry(deps)
	require.NoError(t, err)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	exec := subagentExecutor(t, reg, bus, "sub-1")
	_, err = exec.Execute(context.Background(), agent.ToolCall{
		ID: "c1", Name: ToolWebSearch, Arguments: `{"query": "alpha"}`,
	})
	require.NoError(t, err)
	require.Equal(t, 2, deps.Sources.CountBy("sub-1"))

	// At the cap, a fetched page is still readable but gets no index.
	res, err := exec.Execute(context.Background(), agent.ToolCall{
		ID: "c2", Name: ToolWebFetch, Arguments: `{"url": "https://example.com/article"}`,
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "body text")
	assert.Contains(t, res.Content, "source limit reached")
	assert.Equal(t, 2, deps.Sources.Len())

	// Another subagent fetching the same page registers it normally.
	res, err = subagentExecutor(t, reg, bus, "sub-2").Execute(context.Background(), agent.ToolCall{
		ID: "c3", Name: ToolWebFetch, Arguments: `{"url": "https://example.com/article"}`,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[3] Article")
	assert.Equal(t, 1, deps.Sources.CountBy("sub-2"))
}

func TestWebSearchSchemaCapsMaxResults(t *testing.T) {
	reg, err := NewSessionRegistry(testDeps(&fakeSearch{}, &fakeFetch{}))
	require.NoError(t, err)

	def, ok := reg.Get(ToolWebSearch)
	require.True(t, ok)

	_, err = def.ValidateArgs(`{"query": "x", "max_results": 10}`)
	assert.NoError(t, err)

	_, err = def.ValidateArgs(`{"query": "x", "max_results": 11}`)
	assert.Error(t, err)
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 100) // two bytes per rune

	out := truncate(s, 51)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "[content truncated]"))
	assert.Equal(t, strings.Repeat("é", 25), strings.TrimSuffix(out, "\n\n[content truncated]"))

	assert.Equal(t, "short", truncate("short", 100), "under the limit stays untouched")
}
