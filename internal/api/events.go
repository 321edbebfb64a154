package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ravenmail/internal/events"
)

const maxEventBytes = 64 << 10

// ingestEvent publishes one {type, data} event envelope onto the bus
func (s *Server) ingestEvent(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes+1))
	if err != nil || len(raw) > maxEventBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event"})
		return
	}

	ev, err := events.Decode(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event"})
		return
	}

	if err := s.deps.Events.Publish(c.Request.Context(), ev); err != nil {
		s.log.Errorf("Failed to publish %s event: %v", ev.Type(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event bus unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"type": ev.Type()})
}
