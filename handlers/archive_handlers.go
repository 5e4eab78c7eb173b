package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"lendwise/api/store"

	"github.com/gin-gonic/gin"
)

// ArchiveHandlers serves the raw-event archive queries (ClickHouse). These
// complement the session-level overview with event-granularity time series.
type ArchiveHandlers struct {
	Archive *store.EventArchive
}

func NewArchiveHandlers(a *store.EventArchive) *ArchiveHandlers {
	return &ArchiveHandlers{Archive: a}
}

func (h *ArchiveHandlers) GetEventCountsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	eventTypeFilter := c.Query("eventType")

	start, end, ok := parseArchiveRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Archive.GetEventCountsOverTime(ctx, interval, start, end, eventTypeFilter)
	if err != nil {
		log.Printf("Error getting event counts over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *ArchiveHandlers) GetUniqueVisitorsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := parseArchiveRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Archive.GetUniqueVisitorsOverTime(ctx, interval, start, end)
	if err != nil {
		log.Printf("Error getting unique visitors over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique visitor statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *ArchiveHandlers) GetTopPagePaths(c *gin.Context) {
	start, end, ok := parseArchiveRange(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsedLimit, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsedLimit == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsedLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Archive.GetTopPagePaths(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting top page paths: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page paths statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *ArchiveHandlers) GetAverageTimeSpent(c *gin.Context) {
	eventTypeFilter := c.Query("eventType")

	start, end, ok := parseArchiveRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	avg, err := h.Archive.GetAverageTimeSpent(ctx, eventTypeFilter, start, end)
	if err != nil {
		log.Printf("Error getting average time spent: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve average time spent statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"eventType":      eventTypeFilter,
		"startDate":      start.Format(time.RFC3339),
		"endDate":        end.Format(time.RFC3339),
		"avgTimeSeconds": avg,
	})
}

// parseArchiveRange reads start/end query params, defaulting to the trailing
// 7 days. On a bad timestamp it writes the 400 response and reports !ok.
func parseArchiveRange(c *gin.Context) (time.Time, time.Time, bool) {
	start := time.Now().UTC().Add(-7 * 24 * time.Hour)
	end := time.Now().UTC()

	if startParam := c.Query("start"); startParam != "" {
		parsed, err := time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		start = parsed
	}
	if endParam := c.Query("end"); endParam != "" {
		parsed, err := time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		end = parsed
	}

	return start, end, true
}
