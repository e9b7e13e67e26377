// Package cleanup enforces the store's data retention policy.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelhq/kestrel/pkg/config"
)

// SessionPruner is the store subset retention needs.
type SessionPruner interface {
	DeleteOldSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically deletes terminal sessions older than the retention
// window, together with their events. Deletions are idempotent and safe to
// run from multiple replicas.
type Service struct {
	config *config.RetentionConfig
	pruner SessionPruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service.
func NewService(cfg *config.RetentionConfig, pruner SessionPruner) *Service {
	return &Service{config: cfg, pruner: pruner}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"interval", s.config.CleanupEvery())
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.prune(ctx)

	ticker := time.NewTicker(s.config.CleanupEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Service) prune(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.SessionRetentionDays)
	count, err := s.pruner.DeleteOldSessions(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: delete old sessions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old sessions", "count", count)
	}
}
