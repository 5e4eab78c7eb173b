package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"lendwise/api/models"
	"lendwise/api/tracking"

	"github.com/gin-gonic/gin"
)

type TrackHandlers struct {
	Processor *tracking.Processor
}

func NewTrackHandlers(p *tracking.Processor) *TrackHandlers {
	return &TrackHandlers{Processor: p}
}

// TrackEvent ingests one tracking payload and responds with the affected
// session's identifier.
func (h *TrackHandlers) TrackEvent(c *gin.Context) {
	var req models.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Error binding tracking JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	sess, err := h.Processor.Track(ctx, &req, c.ClientIP())
	if err != nil {
		var vErr *tracking.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": vErr.Fields})
			return
		}
		log.Printf("Error processing tracking event: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record tracking event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionId": sess.SessionID})
}

// Heartbeat keeps a session alive. Heartbeats for unknown sessions succeed as
// no-ops; they may race with session creation.
func (h *TrackHandlers) Heartbeat(c *gin.Context) {
	var req models.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Error binding heartbeat JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Processor.Heartbeat(ctx, &req); err != nil {
		var vErr *tracking.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": vErr.Fields})
			return
		}
		log.Printf("Error processing heartbeat for session %s: %v", req.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record heartbeat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// EndSession closes a session explicitly. Like heartbeats, ending an unknown
// or already-ended session is a successful no-op.
func (h *TrackHandlers) EndSession(c *gin.Context) {
	var req models.EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Error binding end-session JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Processor.EndSession(ctx, &req); err != nil {
		var vErr *tracking.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": vErr.Fields})
			return
		}
		log.Printf("Error ending session %s: %v", req.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
