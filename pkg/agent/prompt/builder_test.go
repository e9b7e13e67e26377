package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/models"
)

func testExecCtx() *agent.ExecutionContext {
	return &agent.ExecutionContext{
		SessionID:  "sess-1",
		SubagentID: "sub-1",
		Query:      "Compare the top 3 cloud providers",
		Task:       models.TaskSpec{Prompt: "Research AWS: market share, pricing, key services"},
		Config: &agent.ResolvedRunConfig{
			MaxRounds:                5,
			MaxLeadToolCallsPerRound: 3,
		},
		Budget: agent.NewBudget(10, 0),
	}
}

func TestBuildClassifierMessages(t *testing.T) {
	b := NewBuilder()
	msgs := b.BuildClassifierMessages("What is the capital of France?")

	require.Len(t, msgs, 2)
	assert.Equal(t, agent.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"query_type"`)
	assert.Contains(t, msgs[1].Content, "capital of France")
}

func TestBuildLeadMessages(t *testing.T) {
	b := NewBuilder()
	execCtx := testExecCtx()
	c := models.Classification{
		QueryType:  models.QueryTypeBreadthFirst,
		Complexity: models.ComplexityStandard,
		Rationale:  "three independent providers",
	}

	msgs := b.BuildLeadMessages(execCtx, c, nil)
	require.Len(t, msgs, 2)

	system := msgs[0].Content
	assert.Contains(t, system, "research lead")
	assert.Contains(t, system, "at most 5 rounds")
	assert.Contains(t, system, "up to 3 direct tool calls")
	assert.Contains(t, system, "Do NOT add citations")

	user := msgs[1].Content
	assert.Contains(t, user, "Compare the top 3 cloud providers")
	assert.Contains(t, user, "breadth_first")
	assert.Contains(t, user, "3 task(s)")
}

func TestBuildLeadMessagesIncludesPriorRounds(t *testing.T) {
	b := NewBuilder()
	round := models.Round{
		Index: 1,
		Results: []models.SubagentResult{
			{ID: "sub-1", Task: models.TaskSpec{Prompt: "AWS"}, Status: models.SubagentStatusOK, FindingsText: "AWS leads with 31% share"},
		},
	}
	msgs := b.BuildLeadMessages(testExecCtx(), models.Classification{}, []models.Round{round})
	assert.Contains(t, msgs[1].Content, "Round 1 results")
	assert.Contains(t, msgs[1].Content, "31% share")
}

func TestBuildReflectionPrompt(t *testing.T) {
	b := NewBuilder()
	round := models.Round{
		Index: 2,
		Results: []models.SubagentResult{
			{ID: "sub-3", Task: models.TaskSpec{Prompt: "GCP"}, Status: models.SubagentStatusTimeout, Error: "deadline exceeded"},
		},
	}
	p := b.BuildReflectionPrompt(round)
	assert.Contains(t, p, "Round 2 results")
	assert.Contains(t, p, "deadline exceeded")
	assert.Contains(t, p, "SYNTHESIZE")
}

func TestBuildSynthesisPrompt(t *testing.T) {
	b := NewBuilder()
	sources := []models.Source{
		{Index: 1, URL: "https://example.com/a", Title: "A"},
		{Index: 2, URL: "https://example.com/b"},
	}
	p := b.BuildSynthesisPrompt(testExecCtx(), nil, sources)
	assert.Contains(t, p, "Tools are no longer available")
	assert.Contains(t, p, "[1] A - https://example.com/a")
	assert.Contains(t, p, "[2] https://example.com/b")
	assert.Contains(t, p, "do NOT add citations")
}

func TestBuildSubagentMessages(t *testing.T) {
	b := NewBuilder()
	msgs := b.BuildSubagentMessages(testExecCtx())
	require.Len(t, msgs, 2)

	assert.Contains(t, msgs[0].Content, "research subagent")
	assert.Contains(t, msgs[0].Content, "budget of 10 tool calls")
	assert.Contains(t, msgs[0].Content, "complete_task")
	assert.Contains(t, msgs[0].Content, "at least one web_search")

	assert.Contains(t, msgs[1].Content, "Research AWS")
	assert.Contains(t, msgs[1].Content, "stay within your task")
}

func TestBuildFinalizePrompt(t *testing.T) {
	b := NewBuilder()
	first := b.BuildFinalizePrompt(1)
	second := b.BuildFinalizePrompt(2)

	assert.Contains(t, first, "complete_task")
	assert.Contains(t, second, "FINAL WARNING")
	assert.NotEqual(t, first, second)
}

func TestBuildCitationMessages(t *testing.T) {
	b := NewBuilder()
	sources := []models.Source{{Index: 1, URL: "https://example.com", Title: "Example"}}

	msgs := b.BuildCitationMessages("The draft.", sources, false)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "⟦N⟧")
	assert.NotContains(t, msgs[0].Content, "REJECTED")
	assert.Contains(t, msgs[1].Content, "<synthesized_text>The draft.</synthesized_text>")
	assert.Contains(t, msgs[1].Content, "[1] Example - https://example.com")

	strict := b.BuildCitationMessages("The draft.", sources, true)
	assert.Contains(t, strict[0].Content, "REJECTED")
}

func TestFormatRoundResults(t *testing.T) {
	out := FormatRoundResults(models.Round{
		Index: 1,
		Results: []models.SubagentResult{
			{
				ID:           "sub-1",
				Task:         models.TaskSpec{Prompt: "task one"},
				Status:       models.SubagentStatusOK,
				FindingsText: "finding",
				Sources:      []string{"https://a.example", "https://b.example"},
			},
		},
	})
	assert.True(t, strings.HasPrefix(out, "## Round 1 results"))
	assert.Contains(t, out, "Sources consulted: https://a.example, https://b.example")
}
