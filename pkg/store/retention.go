package store

import (
	"context"
	"fmt"
	"time"
)

// DeleteOldSessions removes terminal sessions last updated before cutoff.
// Their events go with them via the foreign key cascade. Returns the
// number of sessions deleted.
func (s *Store) DeleteOldSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions
		 WHERE status IN ('completed', 'failed', 'cancelled', 'timed_out')
		   AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return res.RowsAffected()
}
