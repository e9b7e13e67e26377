package models

// ReflectionKind is the Lead's decision after a round completes.
type ReflectionKind string

const (
	ReflectionContinue   ReflectionKind = "continue"
	ReflectionSynthesize ReflectionKind = "synthesize"
)

// Round is one Lead iteration: a plan, its dispatch results, and the
// reflection decision that followed. Rounds are append-only.
type Round struct {
	Index      int              `json:"index"`
	Plan       Plan             `json:"plan"`
	Results    []SubagentResult `json:"results"`
	Reflection ReflectionKind   `json:"reflection"`

	// ReflectionNote is the Lead's free-text reasoning captured with the
	// decision, kept for the session record.
	ReflectionNote string `json:"reflection_note,omitempty"`
}
