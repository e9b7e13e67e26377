package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/research"
)

// CreateQueryRequest is the body for POST /api/v1/queries.
type CreateQueryRequest struct {
	Query string `json:"query" binding:"required"`

	// Sync runs the session inline and returns the finished record.
	Sync bool `json:"sync"`

	// Optional per-request overrides.
	LeadProvider       string `json:"lead_provider,omitempty"`
	SubagentProvider   string `json:"subagent_provider,omitempty"`
	MaxSubagents       int    `json:"max_subagents,omitempty"`
	MaxRounds          int    `json:"max_rounds,omitempty"`
	SessionDeadlineSec int    `json:"session_deadline_sec,omitempty"`
	CitationStyle      string `json:"citation_style,omitempty"`
}

func (r *CreateQueryRequest) overrides() research.Overrides {
	return research.Overrides{
		LeadProvider:     r.LeadProvider,
		SubagentProvider: r.SubagentProvider,
		MaxSubagents:     r.MaxSubagents,
		MaxRounds:        r.MaxRounds,
		SessionDeadline:  time.Duration(r.SessionDeadlineSec) * time.Second,
		CitationStyle:    config.CitationStyle(r.CitationStyle),
	}
}

// CreateQuery handles POST /api/v1/queries. Without a store only sync mode
// is available; with one, async requests are enqueued for the worker pool.
func (s *Server) CreateQuery(c *gin.Context) {
	var req CreateQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CitationStyle != "" {
		if err := config.CitationStyle(req.CitationStyle).Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	id := uuid.NewString()

	if req.Sync {
		record, err := s.Executor.RunSession(c.Request.Context(), id, req.Query, req.overrides())
		if err != nil && record == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, record)
		return
	}

	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "queue unavailable without a database; submit with sync=true",
		})
		return
	}

	if err := s.Store.CreateQueued(c.Request.Context(), id, req.Query); err != nil {
		slog.Error("Failed to enqueue session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue session"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": id,
		"status":     models.SessionStatusQueued,
	})
}
