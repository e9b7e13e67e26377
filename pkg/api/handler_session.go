package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/kestrel/pkg/models"
	"github.com/kestrelhq/kestrel/pkg/store"
)

// lookupRecord resolves a session snapshot: live sessions first, then the
// store. The bool reports whether the session exists at all.
func (s *Server) lookupRecord(c *gin.Context, id string) (*models.SessionRecord, bool) {
	if sess, ok := s.Sessions.Get(id); ok {
		record := sess.Snapshot()
		return &record, true
	}
	if s.Store == nil {
		return nil, false
	}
	record, err := s.Store.GetRecord(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load session record", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		c.Abort()
		return nil, true
	}
	return record, true
}

// GetSession handles GET /api/v1/sessions/:id.
func (s *Server) GetSession(c *gin.Context) {
	record, found := s.lookupRecord(c, c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if record == nil {
		return // error already written
	}
	c.JSON(http.StatusOK, record)
}

// GetResult handles GET /api/v1/sessions/:id/result. Only terminal
// sessions have a result.
func (s *Server) GetResult(c *gin.Context) {
	record, found := s.lookupRecord(c, c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if record == nil {
		return
	}
	if !record.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "session has no result yet",
			"status": record.Status,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":   record.ID,
		"status":       record.Status,
		"report":       record.CitedOutput,
		"citations":    record.Citations,
		"sources":      record.Sources,
		"failed_tasks": record.FailedTasks,
		"tokens_used":  record.TokensUsed,
		"error":        record.Error,
	})
}

// CancelSession handles POST /api/v1/sessions/:id/cancel. Running sessions
// are cancelled through their context; queued ones directly in the store.
func (s *Server) CancelSession(c *gin.Context) {
	id := c.Param("id")

	if sess, ok := s.Sessions.Get(id); ok {
		if sess.Status().Terminal() {
			c.JSON(http.StatusConflict, gin.H{"error": "session already finished"})
			return
		}
		if s.Pool == nil || !s.Pool.CancelSession(id) {
			sess.Cancel()
		}
		c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "cancelling"})
		return
	}

	if s.Store != nil {
		cancelled, err := s.Store.CancelQueued(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			slog.Error("Failed to cancel session", "session_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel session"})
			return
		}
		if cancelled {
			c.JSON(http.StatusOK, gin.H{"session_id": id, "status": models.SessionStatusCancelled})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "session is not in a cancellable state"})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}
