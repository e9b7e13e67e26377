package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrelhq/kestrel/pkg/config"
)

// WorkerPool manages a pool of queue workers and the cancel registry the
// API's cancel endpoint reaches into for running sessions.
type WorkerPool struct {
	claimer  SessionClaimer
	config   *config.QueueConfig
	executor SessionExecutor
	workers  []*Worker
	started  bool

	mu             sync.RWMutex
	activeSessions map[string]context.CancelFunc
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(claimer SessionClaimer, cfg *config.QueueConfig, executor SessionExecutor) *WorkerPool {
	return &WorkerPool{
		claimer:        claimer,
		config:         cfg,
		executor:       executor,
		workers:        make([]*Worker, 0, cfg.WorkerCount),
		activeSessions: make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	count := p.config.WorkerCount
	if count < 1 {
		count = 1
	}
	slog.Info("Starting worker pool", "worker_count", count)

	for i := 0; i < count; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.claimer, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
}

// Stop signals all workers to stop and waits for them to finish their
// current sessions.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	if active := p.activeSessionIDs(); len(active) > 0 {
		slog.Info("Waiting for active sessions to complete",
			"count", len(active), "session_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	slog.Info("Worker pool stopped")
}

// RegisterSession stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterSession(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeSessions[sessionID] = cancel
}

// UnregisterSession removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeSessions, sessionID)
}

// CancelSession triggers context cancellation for a running session.
// Returns false when the session is not executing in this pool.
func (p *WorkerPool) CancelSession(sessionID string) bool {
	p.mu.RLock()
	cancel, ok := p.activeSessions[sessionID]
	p.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// Health returns a snapshot of every worker.
func (p *WorkerPool) Health() []WorkerHealth {
	out := make([]WorkerHealth, 0, len(p.workers))
	for _, worker := range p.workers {
		out = append(out, worker.Health())
	}
	return out
}

func (p *WorkerPool) activeSessionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeSessions))
	for id := range p.activeSessions {
		ids = append(ids, id)
	}
	return ids
}
