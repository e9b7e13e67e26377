package models

// QueryType classifies a research query. Classification is advisory: it
// picks the prompt template and the default task count, never correctness.
type QueryType string

const (
	QueryTypeDepthFirst      QueryType = "depth_first"
	QueryTypeBreadthFirst    QueryType = "breadth_first"
	QueryTypeStraightforward QueryType = "straightforward"
)

// Complexity is the classifier's advisory effort estimate. It maps to the
// default number of subagent tasks (clamped to max_subagents).
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
)

// DefaultTaskCount returns the default subagent count for a complexity level.
func (c Complexity) DefaultTaskCount() int {
	switch c {
	case ComplexitySimple:
		return 1
	case ComplexityStandard:
		return 3
	case ComplexityMedium:
		return 5
	case ComplexityHigh:
		return 10
	default:
		return 3
	}
}

// BudgetHint is the optional per-task effort hint carried by a TaskSpec.
type BudgetHint string

const (
	BudgetHintLight  BudgetHint = "light"
	BudgetHintMedium BudgetHint = "medium"
	BudgetHintHeavy  BudgetHint = "heavy"
)

// TaskSpec is one self-contained research task for a single subagent.
type TaskSpec struct {
	// Prompt fully describes what the subagent must investigate.
	Prompt string `json:"prompt"`

	// BudgetHint maps to a tool-call cap. Empty means "derive from the
	// task text" (keyword heuristic in pkg/agent).
	BudgetHint BudgetHint `json:"budget_hint,omitempty"`
}

// Classification is the result of the Lead's query analysis.
type Classification struct {
	QueryType  QueryType  `json:"query_type"`
	Complexity Complexity `json:"complexity"`
	Rationale  string     `json:"rationale,omitempty"`
}

// Plan is one round's set of subagent tasks. Plans are replaced between
// rounds, never mutated.
type Plan struct {
	QueryType QueryType  `json:"query_type"`
	Rationale string     `json:"rationale,omitempty"`
	Tasks     []TaskSpec `json:"tasks"`
}
