package citation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/agent"
	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// maxAttempts covers the initial pass plus one strict retry.
const maxAttempts = 2

// Processor runs the citation pass over a finished synthesis draft. It
// never rewrites the draft: if the model cannot produce an anchored copy
// that survives the identity check, the processor degrades to the
// uncited draft with a full reference list rather than risk altering the
// synthesized text.
type Processor struct {
	llm      agent.LLMClient
	provider *config.LLMProviderConfig
	builder  agent.PromptBuilder
	bus      *events.Bus
	style    config.CitationStyle
}

func NewProcessor(llm agent.LLMClient, provider *config.LLMProviderConfig, builder agent.PromptBuilder, bus *events.Bus, style config.CitationStyle) *Processor {
	return &Processor{
		llm:      llm,
		provider: provider,
		builder:  builder,
		bus:      bus,
		style:    style,
	}
}

// Result is the outcome of a citation pass.
type Result struct {
	// Report is the final report text with citations rendered and a
	// References section appended (or the uncited draft plus references
	// when Degraded).
	Report string

	Summary models.CitationReport

	TokensUsed int
}

// Process anchors the draft against the source table. A draft with no
// sources is returned unchanged with an empty summary.
func (p *Processor) Process(ctx context.Context, sessionID, draft string, sources []models.Source) (*Result, error) {
	if draft == "" {
		return nil, fmt.Errorf("citation: empty draft")
	}
	if len(sources) == 0 {
		return &Result{Report: draft}, nil
	}

	tokensUsed := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		strict := attempt > 1
		messages := p.builder.BuildCitationMessages(draft, sources, strict)

		response, usage, err := p.generate(ctx, sessionID, messages)
		tokensUsed += usage
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.WarnContext(ctx, "Citation attempt failed",
				slog.String("session_id", sessionID),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			continue
		}

		anchored, ok := ExtractCited(response)
		if !ok {
			slog.WarnContext(ctx, "Citation response missing cited tags",
				slog.String("session_id", sessionID),
				slog.Int("attempt", attempt))
			continue
		}
		if !VerifyIdentity(draft, anchored) {
			slog.WarnContext(ctx, "Citation identity check failed",
				slog.String("session_id", sessionID),
				slog.Int("attempt", attempt))
			continue
		}

		return p.render(anchored, sources, tokensUsed), nil
	}

	return p.degrade(ctx, sessionID, draft, sources, tokensUsed), nil
}

// render produces the final cited report from a verified anchored draft.
func (p *Processor) render(anchored string, sources []models.Source, tokensUsed int) *Result {
	anchors := Anchors(anchored)

	valid := make([]int, 0, len(anchors))
	citedSet := make(map[int]bool)
	maxIndex := 0
	for _, s := range sources {
		if s.Index > maxIndex {
			maxIndex = s.Index
		}
	}
	for _, n := range anchors {
		if n < 1 || n > maxIndex {
			continue
		}
		valid = append(valid, n)
		citedSet[n] = true
	}

	var uncited []int
	for _, s := range sources {
		if !citedSet[s.Index] {
			uncited = append(uncited, s.Index)
		}
	}

	body := RenderAnchors(anchored, p.style, maxIndex)
	report := body
	if refs := BuildReferences(sources, valid, p.style); refs != "" {
		report = strings.TrimRight(body, "\n") + "\n\n" + refs
	}

	return &Result{
		Report: report,
		Summary: models.CitationReport{
			TotalCitations:  len(valid),
			UniqueCitations: len(citedSet),
			UncitedSources:  uncited,
		},
		TokensUsed: tokensUsed,
	}
}

// degrade falls back to the uncited draft with every source listed. The
// report is still usable, just without inline attribution.
func (p *Processor) degrade(ctx context.Context, sessionID, draft string, sources []models.Source, tokensUsed int) *Result {
	slog.WarnContext(ctx, "Citation pass degraded, emitting uncited report",
		slog.String("session_id", sessionID),
		slog.Int("source_count", len(sources)))

	report := strings.TrimRight(draft, "\n")
	if refs := BuildReferences(sources, AllIndices(sources), p.style); refs != "" {
		report += "\n\n" + refs
	}

	summary := models.CitationReport{
		UncitedSources: AllIndices(sources),
		Degraded:       true,
	}
	if p.bus != nil {
		p.bus.Publish(sessionID, events.EventTypeCitationDegraded, events.CitationCompletePayload{
			Report: summary,
		})
	}

	return &Result{
		Report:     report,
		Summary:    summary,
		TokensUsed: tokensUsed,
	}
}

// generate runs one non-tool LLM turn and collects the full text.
func (p *Processor) generate(ctx context.Context, sessionID string, messages []agent.ConversationMessage) (string, int, error) {
	chunks, err := p.llm.Generate(ctx, &agent.GenerateInput{
		SessionID: sessionID,
		Messages:  messages,
		Config:    p.provider,
	})
	if err != nil {
		return "", 0, fmt.Errorf("citation: generate: %w", err)
	}

	var sb strings.Builder
	tokens := 0
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			sb.WriteString(c.Content)
		case *agent.UsageChunk:
			tokens += c.TotalTokens
		case *agent.ErrorChunk:
			return "", tokens, fmt.Errorf("citation: stream error: %s", c.Message)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", tokens, err
	}
	return sb.String(), tokens, nil
}
