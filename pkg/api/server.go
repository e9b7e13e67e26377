// Package api exposes the HTTP surface: query submission, session reads,
// cancellation and the live SSE event stream.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/queue"
	"github.com/kestrelhq/kestrel/pkg/research"
	"github.com/kestrelhq/kestrel/pkg/session"
	"github.com/kestrelhq/kestrel/pkg/store"
)

// QueryExecutor runs a session inline for sync requests. Implemented by
// research.Executor.
type QueryExecutor interface {
	RunSession(ctx context.Context, id, query string, ov research.Overrides) (*models.SessionRecord, error)
}

// Canceller cancels a session running in this process. Implemented by
// queue.WorkerPool.
type Canceller interface {
	CancelSession(sessionID string) bool
	Health() []queue.WorkerHealth
}

// Server wires the HTTP handlers to their backing components. Store and
// Pool are nil in memory-only mode (no DSN configured); the handlers
// degrade accordingly.
type Server struct {
	Executor QueryExecutor
	Sessions *session.Manager
	Bus      *events.Bus
	Store    *store.Store
	Pool     Canceller
}

// NewServer creates an API server.
func NewServer(executor QueryExecutor, sessions *session.Manager, bus *events.Bus, st *store.Store, pool Canceller) *Server {
	return &Server{
		Executor: executor,
		Sessions: sessions,
		Bus:      bus,
		Store:    st,
		Pool:     pool,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Healthz)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/queries", s.CreateQuery)
		v1.GET("/sessions/:id", s.GetSession)
		v1.GET("/sessions/:id/result", s.GetResult)
		v1.POST("/sessions/:id/cancel", s.CancelSession)
		v1.GET("/sessions/:id/events", s.StreamEvents)
	}
	return r
}
