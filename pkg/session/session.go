package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// Session is the live state of one research run. Fields are guarded by a
// single mutex; controllers touch it only through methods so a Snapshot
// taken mid-run is always internally consistent.
type Session struct {
	mu sync.Mutex

	id             string
	query          string
	status         models.SessionStatus
	errMsg         string
	classification models.Classification
	configSnapshot map[string]any

	rounds       []models.Round
	draft        string
	citedOutput  string
	citations    models.CitationReport
	hasCitations bool
	failedTasks  []models.FailedTask
	tokensUsed   int

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	// Shared across all agents of this session.
	Sources     *SourceTable
	transcripts map[string]*Transcript

	cancel context.CancelFunc
}

// New creates a queued session.
func New(id, query string, configSnapshot map[string]any) *Session {
	return &Session{
		id:             id,
		query:          query,
		status:         models.SessionStatusQueued,
		configSnapshot: configSnapshot,
		createdAt:      time.Now().UTC(),
		Sources:        NewSourceTable(),
		transcripts:    make(map[string]*Transcript),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Query returns the research query.
func (s *Session) Query() string { return s.query }

// Status returns the current lifecycle status.
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start marks the session running and installs its cancel function.
func (s *Session) Start(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.SessionStatusRunning
	s.startedAt = time.Now().UTC()
	s.cancel = cancel
}

// Finish records a terminal status. Later calls are ignored so a cancel
// racing a natural completion cannot flip a terminal state.
func (s *Session) Finish(status models.SessionStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return
	}
	s.status = status
	s.errMsg = errMsg
	s.completedAt = time.Now().UTC()
}

// Cancel requests cooperative cancellation. Safe to call at any time and
// more than once; cancelling an already-terminal session is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	terminal := s.status.Terminal()
	s.mu.Unlock()

	if !terminal && cancel != nil {
		cancel()
	}
}

// SetClassification records the classifier's verdict.
func (s *Session) SetClassification(c models.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classification = c
}

// AddRound appends a completed research round.
func (s *Session) AddRound(r models.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, r)
	for _, res := range r.Results {
		if res.Status != models.SubagentStatusOK {
			s.failedTasks = append(s.failedTasks, models.FailedTask{
				SubagentID: res.ID,
				Task:       res.Task.Prompt,
				Status:     res.Status,
				Error:      res.Error,
			})
		}
		s.tokensUsed += res.TokensUsed
	}
}

// Rounds returns a copy of the completed rounds.
func (s *Session) Rounds() []models.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Round, len(s.rounds))
	copy(out, s.rounds)
	return out
}

// SetDraft records the synthesized draft report.
func (s *Session) SetDraft(draft string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = draft
}

// Draft returns the synthesized draft report.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetCitedOutput records the final cited report and its citation report.
func (s *Session) SetCitedOutput(output string, report models.CitationReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.citedOutput = output
	s.citations = report
	s.hasCitations = true
}

// AddTokens adds lead or citation-pass token spend to the session total.
func (s *Session) AddTokens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokensUsed += n
}

// TranscriptFor returns the transcript for agentID, creating it on first
// use.
func (s *Session) TranscriptFor(agentID string) *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transcripts[agentID]
	if !ok {
		t = NewTranscript(agentID)
		s.transcripts[agentID] = t
	}
	return t
}

// Snapshot renders the session into its persistent record form.
func (s *Session) Snapshot() models.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := models.SessionRecord{
		Version:        models.SessionRecordVersion,
		ID:             s.id,
		Query:          s.query,
		Status:         s.status,
		Error:          s.errMsg,
		ConfigSnapshot: s.configSnapshot,
		Rounds:         append([]models.Round(nil), s.rounds...),
		Transcripts:    make(map[string][]models.TranscriptEntry, len(s.transcripts)),
		Sources:        s.Sources.Snapshot(),
		Draft:          s.draft,
		CitedOutput:    s.citedOutput,
		FailedTasks:    append([]models.FailedTask(nil), s.failedTasks...),
		TokensUsed:     s.tokensUsed,
		CreatedAt:      s.createdAt,
	}
	if s.classification != (models.Classification{}) {
		c := s.classification
		rec.Classification = &c
	}
	if s.hasCitations {
		c := s.citations
		rec.Citations = &c
	}
	if !s.startedAt.IsZero() {
		rec.StartedAt = &s.startedAt
	}
	if !s.completedAt.IsZero() {
		rec.CompletedAt = &s.completedAt
	}
	for id, t := range s.transcripts {
		rec.Transcripts[id] = t.Entries()
	}
	return rec
}

// Manager is the in-memory registry of live sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Register adds a session to the registry.
func (m *Manager) Register(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID()]; exists {
		return fmt.Errorf("session %s already registered", s.ID())
	}
	m.sessions[s.ID()] = s
	return nil
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Cancel requests cancellation of a live session. Returns false when the
// session is not in the registry.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Cancel()
	return true
}

// Remove drops a session from the registry once it reaches a terminal
// state and has been persisted.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
