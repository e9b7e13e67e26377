package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/pkg/events"
)

const sseBuffer = 256

// StreamEvents handles GET /api/v1/sessions/:id/events: an SSE stream of
// the session's events. Persisted events are replayed first (resumable via
// Last-Event-ID or ?after=seq), then live bus events follow until the
// session reaches a terminal status or the client disconnects.
func (s *Server) StreamEvents(c *gin.Context) {
	id := c.Param("id")

	_, live := s.Sessions.Get(id)
	if !live && s.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if !live {
		if _, err := s.Store.GetStatus(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
	}

	after := parseAfter(c)

	// Subscribe before catch-up so no event falls between the two.
	ch, unsubscribe, err := s.Bus.Subscribe("sse-"+uuid.NewString(), id, sseBuffer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event stream unavailable"})
		return
	}
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	lastSeq := after
	terminal := false

	if s.Store != nil {
		stored, err := s.Store.ListEventsAfter(c.Request.Context(), id, after)
		if err == nil {
			for _, ev := range stored {
				writeEvent(c.Writer, ev)
				lastSeq = ev.Seq
				if isTerminalEvent(ev) {
					terminal = true
				}
			}
			c.Writer.Flush()
		}
	}

	if terminal {
		return
	}

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			writeEvent(c.Writer, ev)
			c.Writer.Flush()
			lastSeq = ev.Seq
			if isTerminalEvent(ev) {
				return
			}
		}
	}
}

func parseAfter(c *gin.Context) uint64 {
	raw := c.Query("after")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func writeEvent(w io.Writer, ev events.Event) {
	_ = sse.Encode(w, sse.Event{
		Id:    strconv.FormatUint(ev.Seq, 10),
		Event: ev.Type,
		Data:  ev,
	})
}

// isTerminalEvent reports whether ev is a session.status event carrying a
// terminal status. Catch-up events hold raw JSON payloads; live ones hold
// the typed struct.
func isTerminalEvent(ev events.Event) bool {
	if ev.Type != events.EventTypeSessionStatus {
		return false
	}
	switch payload := ev.Payload.(type) {
	case events.SessionStatusPayload:
		return payload.Status.Terminal()
	case json.RawMessage:
		var p events.SessionStatusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		return p.Status.Terminal()
	}
	return false
}
