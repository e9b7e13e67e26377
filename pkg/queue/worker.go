// Package queue runs queued research sessions from the store through a
// pool of polling workers.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/research"
	"github.com/kestrelhq/kestrel/pkg/store"
)

// ErrNoSessionsAvailable means the queue is currently empty.
var ErrNoSessionsAvailable = errors.New("no queued sessions available")

// SessionExecutor runs one claimed session to completion. Implemented by
// research.Executor.
type SessionExecutor interface {
	RunSession(ctx context.Context, id, query string, ov research.Overrides) (*models.SessionRecord, error)
}

// SessionClaimer is the store subset workers need.
type SessionClaimer interface {
	ClaimNext(ctx context.Context) (*store.QueuedSession, error)
}

// SessionRegistry tracks cancel functions for in-flight sessions.
// Implemented by WorkerPool.
type SessionRegistry interface {
	RegisterSession(sessionID string, cancel context.CancelFunc)
	UnregisterSession(sessionID string)
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time worker snapshot for the health endpoint.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	CurrentSessionID  string       `json:"current_session_id,omitempty"`
	SessionsProcessed int          `json:"sessions_processed"`
	LastActivity      time.Time    `json:"last_activity"`
}

// Worker is a single queue worker that polls for and processes sessions.
type Worker struct {
	id       string
	claimer  SessionClaimer
	config   *config.QueueConfig
	executor SessionExecutor
	pool     SessionRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                sync.RWMutex
	status            WorkerStatus
	currentSessionID  string
	sessionsProcessed int
	lastActivity      time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id string, claimer SessionClaimer, cfg *config.QueueConfig, executor SessionExecutor, pool SessionRegistry) *Worker {
	return &Worker{
		id:           id,
		claimer:      claimer,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// session. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            w.status,
		CurrentSessionID:  w.currentSessionID,
		SessionsProcessed: w.sessionsProcessed,
		LastActivity:      w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoSessionsAvailable) {
					w.sleep(w.config.PollEvery())
					continue
				}
				log.Error("Error processing session", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next queued session and runs it. The research
// executor owns deadline, terminal status and persistence; this layer only
// provides the cancellable context the cancel endpoint reaches through.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	claimed, err := w.claimer.ClaimNext(ctx)
	if err != nil {
		return err
	}
	if claimed == nil {
		return ErrNoSessionsAvailable
	}

	log := slog.With("session_id", claimed.ID, "worker_id", w.id)
	log.Info("Session claimed")

	w.setStatus(WorkerStatusWorking, claimed.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	w.pool.RegisterSession(claimed.ID, cancelSession)
	defer w.pool.UnregisterSession(claimed.ID)

	record, err := w.executor.RunSession(sessionCtx, claimed.ID, claimed.Query, research.Overrides{})
	if err != nil {
		if record != nil {
			log.Warn("Session finished with error",
				"status", record.Status, "error", err)
			return nil
		}
		return err
	}

	log.Info("Session processed", "status", record.Status)
	return nil
}

func (w *Worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if status == WorkerStatusIdle && w.status == WorkerStatusWorking {
		w.sessionsProcessed++
	}
	w.status = status
	w.currentSessionID = sessionID
	w.lastActivity = time.Now()
}
