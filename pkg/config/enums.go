package config

import "fmt"

// CitationStyle selects how verified citation anchors are rendered in the
// final report.
type CitationStyle string

const (
	// CitationStyleNumeric renders anchors inline as [n].
	CitationStyleNumeric CitationStyle = "numeric"
	// CitationStyleFootnote renders anchors as Markdown footnotes [^n].
	CitationStyleFootnote CitationStyle = "footnote"
)

// Validate checks that the citation style is a known value.
func (s CitationStyle) Validate() error {
	switch s {
	case CitationStyleNumeric, CitationStyleFootnote:
		return nil
	default:
		return fmt.Errorf("%w: citation style %q", ErrUnknownEnumValue, s)
	}
}

// LLMBackend identifies which SDK adapter serves a provider.
type LLMBackend string

const (
	BackendAnthropic LLMBackend = "anthropic"
	BackendOpenAI    LLMBackend = "openai"
)

// Validate checks that the backend is a known value.
func (b LLMBackend) Validate() error {
	switch b {
	case BackendAnthropic, BackendOpenAI:
		return nil
	default:
		return fmt.Errorf("%w: llm backend %q", ErrUnknownEnumValue, b)
	}
}
