package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"lendwise/api/analytics"
	"lendwise/api/store"
	"lendwise/api/tracking"

	"github.com/gin-gonic/gin"
)

const defaultPageSize = 50

type SessionHandlers struct {
	Store store.SessionStore
	Cfg   tracking.Config
}

func NewSessionHandlers(s store.SessionStore, cfg tracking.Config) *SessionHandlers {
	return &SessionHandlers{Store: s, Cfg: cfg}
}

// ListSessions returns a filtered, paginated session listing for the
// dashboard, newest first.
func (h *SessionHandlers) ListSessions(c *gin.Context) {
	filter, ok := parseSessionFilter(c)
	if !ok {
		return
	}

	filter.Limit = defaultPageSize
	if limitParam := c.Query("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		filter.Limit = limit
	}
	if pageParam := c.Query("page"); pageParam != "" {
		page, err := strconv.Atoi(pageParam)
		if err != nil || page <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'page' parameter. Must be a positive integer."})
			return
		}
		filter.Page = page
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sessions, total, err := h.Store.List(ctx, filter)
	if err != nil {
		log.Printf("Error listing sessions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    total,
		"page":     maxInt(filter.Page, 1),
		"limit":    filter.Limit,
	})
}

// GetSession fetches one session by its identifier.
func (h *SessionHandlers) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sess, err := h.Store.GetBySessionID(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		log.Printf("Error getting session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve session"})
		return
	}

	c.JSON(http.StatusOK, sess)
}

// ListActiveSessions returns the sessions currently considered live: the
// active flag alone is not trusted, last activity must fall inside the
// liveness window.
func (h *SessionHandlers) ListActiveSessions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sessions, err := h.Store.ListActive(ctx, time.Now(), h.Cfg.LivenessWindow)
	if err != nil {
		log.Printf("Error listing active sessions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve active sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetStatsOverview computes the full aggregation document for a date range.
// The whole filtered slice is loaded and rolled up in memory; bot sessions
// ride along because the bot metric needs them, every other figure excludes
// them downstream.
func (h *SessionHandlers) GetStatsOverview(c *gin.Context) {
	filter, ok := parseSessionFilter(c)
	if !ok {
		return
	}
	if filter.Start == nil {
		start := time.Now().UTC().Add(-7 * 24 * time.Hour)
		filter.Start = &start
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sessions, _, err := h.Store.List(ctx, filter)
	if err != nil {
		log.Printf("Error loading sessions for stats overview: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
		return
	}

	overview := analytics.Compute(sessions, time.Now(), h.Cfg.LivenessWindow)
	c.JSON(http.StatusOK, overview)
}

// parseSessionFilter reads the common listing filters. On a bad parameter it
// writes the 400 response itself and reports !ok.
func parseSessionFilter(c *gin.Context) (store.SessionFilter, bool) {
	var filter store.SessionFilter

	if startParam := c.Query("start"); startParam != "" {
		start, err := time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return filter, false
		}
		filter.Start = &start
	}
	if endParam := c.Query("end"); endParam != "" {
		end, err := time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return filter, false
		}
		filter.End = &end
	}

	filter.DeviceType = c.Query("deviceType")
	filter.Country = c.Query("country")
	filter.Source = c.Query("source")
	filter.VisitorType = c.Query("visitorType")

	if botParam := c.Query("isBot"); botParam != "" {
		isBot, err := strconv.ParseBool(botParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'isBot' parameter. Must be true or false."})
			return filter, false
		}
		filter.IsBot = &isBot
	}
	if identifiedParam := c.Query("identified"); identifiedParam != "" {
		identified, err := strconv.ParseBool(identifiedParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'identified' parameter. Must be true or false."})
			return filter, false
		}
		filter.Identified = &identified
	}

	return filter, true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
