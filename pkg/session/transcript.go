package session

import (
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// Transcript is one agent's append-only conversation record. Entries are
// never rewritten; context summarization inside a controller affects only
// the working messages sent to the LLM, not this audit log.
type Transcript struct {
	mu      sync.Mutex
	agentID string
	entries []models.TranscriptEntry
}

// NewTranscript creates an empty transcript for agentID.
func NewTranscript(agentID string) *Transcript {
	return &Transcript{agentID: agentID}
}

// AgentID returns the owning agent's identifier.
func (t *Transcript) AgentID() string { return t.agentID }

// Append records an entry, stamping it if the caller did not.
func (t *Transcript) Append(entry models.TranscriptEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
}

// Entries returns a copy of all recorded entries in order.
func (t *Transcript) Entries() []models.TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of recorded entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
