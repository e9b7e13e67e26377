package models

import "time"

// SessionStatus is the lifecycle state of a research session.
type SessionStatus string

const (
	SessionStatusQueued    SessionStatus = "queued"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusTimedOut  SessionStatus = "timed_out"
)

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled, SessionStatusTimedOut:
		return true
	}
	return false
}

// CitationReport is the mechanical verification summary produced after the
// citation pass.
type CitationReport struct {
	TotalCitations  int   `json:"total_citations"`
	UniqueCitations int   `json:"unique_citations"`
	UncitedSources  []int `json:"uncited_sources,omitempty"`
	Degraded        bool  `json:"degraded,omitempty"`
}

// SessionRecord is the serializable snapshot of one research run: the
// persistence format and the value returned by the executor. Version 1.
type SessionRecord struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Query   string `json:"query"`

	Classification *Classification `json:"classification,omitempty"`
	Status         SessionStatus   `json:"status"`
	Error          string          `json:"error,omitempty"`

	// ConfigSnapshot captures the effective limits the run executed under.
	ConfigSnapshot map[string]any `json:"config_snapshot,omitempty"`

	Rounds      []Round                      `json:"rounds,omitempty"`
	Transcripts map[string][]TranscriptEntry `json:"transcripts,omitempty"`
	Sources     []Source                     `json:"sources,omitempty"`

	Draft       string          `json:"draft,omitempty"`
	CitedOutput string          `json:"cited_output,omitempty"`
	Citations   *CitationReport `json:"citations,omitempty"`
	FailedTasks []FailedTask    `json:"failed_tasks,omitempty"`

	TokensUsed int `json:"tokens_used,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SessionRecordVersion is the current SessionRecord serialization version.
const SessionRecordVersion = 1
