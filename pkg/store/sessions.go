package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// QueuedSession is a claimed work item ready for execution.
type QueuedSession struct {
	ID    string
	Query string
}

// CreateQueued inserts a new session in the queued state.
func (s *Store) CreateQueued(ctx context.Context, id, query string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, query, status) VALUES ($1, $2, $3)`,
		id, query, models.SessionStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest queued session and marks it running.
// Returns nil when the queue is empty. FOR UPDATE SKIP LOCKED makes the claim
// safe across concurrent workers.
func (s *Store) ClaimNext(ctx context.Context) (*QueuedSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var claimed QueuedSession
	err = tx.QueryRowContext(ctx,
		`SELECT id, query FROM sessions
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		models.SessionStatusQueued).Scan(&claimed.ID, &claimed.Query)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queued session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET status = $1, updated_at = now() WHERE id = $2`,
		models.SessionStatusRunning, claimed.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark session running: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &claimed, nil
}

// SaveRecord persists the session snapshot and synchronizes the status column.
func (s *Store) SaveRecord(ctx context.Context, record *models.SessionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = $1, record = $2, updated_at = now() WHERE id = $3`,
		record.Status, payload, record.ID)
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecord loads the persisted snapshot for a session. For sessions that
// have not started executing yet the record column is NULL and a minimal
// record is synthesized from the row itself.
func (s *Store) GetRecord(ctx context.Context, id string) (*models.SessionRecord, error) {
	var (
		query   string
		status  models.SessionStatus
		payload []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT query, status, record FROM sessions WHERE id = $1`,
		id).Scan(&query, &status, &payload)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if len(payload) == 0 {
		return &models.SessionRecord{
			Version: models.SessionRecordVersion,
			ID:      id,
			Query:   query,
			Status:  status,
		}, nil
	}

	var record models.SessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	// The status column is authoritative; it may have advanced past the
	// last snapshot (e.g. queued -> cancelled before execution).
	record.Status = status
	return &record, nil
}

// GetStatus returns the current status of a session.
func (s *Store) GetStatus(ctx context.Context, id string) (models.SessionStatus, error) {
	var status models.SessionStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM sessions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, stdsql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session status: %w", err)
	}
	return status, nil
}

// CancelQueued transitions a still-queued session to cancelled. Returns false
// when the session exists but already left the queue (a running session must
// be cancelled through its executor instead).
func (s *Store) CancelQueued(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3`,
		models.SessionStatusCancelled, id, models.SessionStatusQueued)
	if err != nil {
		return false, fmt.Errorf("failed to cancel session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel result: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Distinguish "already running" from "no such session".
	if _, err := s.GetStatus(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
