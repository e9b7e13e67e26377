package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelhq/kestrel/pkg/events"
)

// InsertEvent persists one bus event for later replay. Duplicate
// (session, seq) pairs are ignored so re-delivery is harmless.
func (s *Store) InsertEvent(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, seq, type, payload, ts)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id, seq) DO NOTHING`,
		ev.SessionID, ev.Seq, ev.Type, payload, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListEventsAfter returns a session's persisted events with seq greater than
// afterSeq, in sequence order. Payloads come back as json.RawMessage since
// their concrete types are not recoverable from storage.
func (s *Store) ListEventsAfter(ctx context.Context, sessionID string, afterSeq uint64) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, type, payload, ts FROM session_events
		 WHERE session_id = $1 AND seq > $2
		 ORDER BY seq`,
		sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []events.Event
	for rows.Next() {
		var (
			ev      events.Event
			payload []byte
		)
		ev.SessionID = sessionID
		if err := rows.Scan(&ev.Seq, &ev.Type, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}
