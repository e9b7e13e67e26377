// Package prompt builds all prompt text for Kestrel controllers: the
// query classifier, the lead planning loop, research subagents and the
// citation pass. Stateless; all state comes from parameters.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// Builder implements agent.PromptBuilder. Safe for concurrent use.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func currentDate() string {
	return time.Now().UTC().Format("2006-01-02")
}

// BuildClassifierMessages builds the single-shot classification request.
// The response must be strict JSON; the lead falls back to defaults when
// parsing fails.
func (b *Builder) BuildClassifierMessages(query string) []agent.ConversationMessage {
	return []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: classifierSystemPrompt},
		{Role: agent.RoleUser, Content: fmt.Sprintf("Classify this research query:\n\n%s", query)},
	}
}

// BuildLeadMessages builds the initial conversation for the lead loop.
func (b *Builder) BuildLeadMessages(execCtx *agent.ExecutionContext, classification models.Classification, rounds []models.Round) []agent.ConversationMessage {
	system := fmt.Sprintf(leadSystemPrompt, currentDate(),
		execCtx.Config.MaxRounds, execCtx.Config.MaxLeadToolCallsPerRound)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Research query:\n\n%s\n\n", execCtx.Query)
	fmt.Fprintf(&sb, "Pre-assessment: this is a %s query of %s complexity",
		classification.QueryType, classification.Complexity)
	if classification.Rationale != "" {
		fmt.Fprintf(&sb, " (%s)", classification.Rationale)
	}
	fmt.Fprintf(&sb, ". The default plan size for this complexity is %d task(s); treat this as advisory.\n",
		classification.Complexity.DefaultTaskCount())

	for _, r := range rounds {
		sb.WriteString("\n")
		sb.WriteString(FormatRoundResults(r))
	}

	sb.WriteString("\nPlan the research and dispatch subagents with run_subagents.")

	return []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: system},
		{Role: agent.RoleUser, Content: sb.String()},
	}
}

// BuildReflectionPrompt builds the post-round reflection request appended
// to the lead conversation after subagent results arrive.
func (b *Builder) BuildReflectionPrompt(round models.Round) string {
	var sb strings.Builder
	sb.WriteString(FormatRoundResults(round))
	sb.WriteString("\n")
	sb.WriteString(reflectionTask)
	return sb.String()
}

// BuildSynthesisPrompt builds the final tool-less synthesis request.
func (b *Builder) BuildSynthesisPrompt(execCtx *agent.ExecutionContext, rounds []models.Round, sources []models.Source) string {
	var sb strings.Builder
	sb.WriteString("Write the final research report now. Tools are no longer available.\n\n")
	fmt.Fprintf(&sb, "Original query:\n\n%s\n\n", execCtx.Query)

	for _, r := range rounds {
		sb.WriteString(FormatRoundResults(r))
		sb.WriteString("\n")
	}

	if len(sources) > 0 {
		sb.WriteString("Sources discovered during research (for your reference; do NOT add citations, a separate pass handles them):\n\n")
		sb.WriteString(FormatSourceList(sources))
		sb.WriteString("\n")
	}

	sb.WriteString(synthesisTask)
	return sb.String()
}

// BuildSubagentMessages builds the initial conversation for one research
// subagent.
func (b *Builder) BuildSubagentMessages(execCtx *agent.ExecutionContext) []agent.ConversationMessage {
	system := fmt.Sprintf(subagentSystemPrompt, currentDate(),
		execCtx.Budget.ToolCallCap())

	var sb strings.Builder
	fmt.Fprintf(&sb, "Your assigned research task:\n\n%s\n\n", execCtx.Task.Prompt)
	fmt.Fprintf(&sb, "Overall research query (context only; stay within your task):\n\n%s\n\n", execCtx.Query)
	fmt.Fprintf(&sb, "You have a budget of %d tool calls. Finish with complete_task before it runs out.",
		execCtx.Budget.ToolCallCap())

	return []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: system},
		{Role: agent.RoleUser, Content: sb.String()},
	}
}

// BuildFinalizePrompt returns the finalize-now instruction. The second
// attempt is the last warning before the controller fabricates a terminal
// result from the transcript.
func (b *Builder) BuildFinalizePrompt(attempt int) string {
	if attempt > 1 {
		return finalizeLastWarning
	}
	return finalizeFirstWarning
}

// BuildSummarizeInstruction returns the working-context compaction
// request issued when token pressure crosses the summarize threshold.
func (b *Builder) BuildSummarizeInstruction() string {
	return summarizeInstruction
}

// BuildCitationMessages builds the citation pass conversation. strict
// retries after an identity check failure with harder rules.
func (b *Builder) BuildCitationMessages(draft string, sources []models.Source, strict bool) []agent.ConversationMessage {
	system := citationSystemPrompt
	if strict {
		system += "\n\n" + citationStrictAddendum
	}

	var sb strings.Builder
	sb.WriteString("<sources>\n")
	sb.WriteString(FormatSourceList(sources))
	sb.WriteString("</sources>\n\n")
	sb.WriteString("<synthesized_text>")
	sb.WriteString(draft)
	sb.WriteString("</synthesized_text>")

	return []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: system},
		{Role: agent.RoleUser, Content: sb.String()},
	}
}

// FormatRoundResults renders one completed round for lead consumption.
func FormatRoundResults(r models.Round) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Round %d results\n\n", r.Index)
	for _, res := range r.Results {
		fmt.Fprintf(&sb, "### Subagent %s (%s)\n", res.ID, res.Status)
		fmt.Fprintf(&sb, "Task: %s\n\n", res.Task.Prompt)
		if res.FindingsText != "" {
			sb.WriteString(res.FindingsText)
			sb.WriteString("\n")
		}
		if res.Error != "" {
			fmt.Fprintf(&sb, "Failure: %s\n", res.Error)
		}
		if len(res.Sources) > 0 {
			fmt.Fprintf(&sb, "Sources consulted: %s\n", strings.Join(res.Sources, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatSourceList renders the source table in citation-pass format:
// index, title, URL.
func FormatSourceList(sources []models.Source) string {
	var sb strings.Builder
	for _, s := range sources {
		if s.Title != "" {
			fmt.Fprintf(&sb, "[%d] %s - %s\n", s.Index, s.Title, s.URL)
		} else {
			fmt.Fprintf(&sb, "[%d] %s\n", s.Index, s.URL)
		}
	}
	return sb.String()
}
