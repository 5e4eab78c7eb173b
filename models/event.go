package models

import (
	"encoding/json"
	"time"
)

// Archive event types written alongside session updates.
const (
	ArchiveEventPageView    = "pageview"
	ArchiveEventInteraction = "interaction"
	ArchiveEventConversion  = "conversion"
	ArchiveEventIdentify    = "identify"
	ArchiveEventHeartbeat   = "heartbeat"
	ArchiveEventSessionEnd  = "session_end"
)

// ArchiveEvent is one row in the raw tracking-event archive. The archive is a
// best-effort append log feeding the interval-bucketed stats queries; the
// session store remains the source of truth.
type ArchiveEvent struct {
	EventID          string          `json:"eventId"`
	EventType        string          `json:"eventType"`
	SessionID        string          `json:"sessionId"`
	VisitorID        string          `json:"visitorId"`
	Timestamp        time.Time       `json:"timestamp"`
	PageURL          string          `json:"pageUrl,omitempty"`
	Referrer         string          `json:"referrer,omitempty"`
	UserAgent        string          `json:"userAgent,omitempty"`
	IPAddress        string          `json:"ipAddress,omitempty"`
	DeviceType       string          `json:"deviceType,omitempty"`
	Browser          string          `json:"browser,omitempty"`
	Country          string          `json:"country,omitempty"`
	Source           string          `json:"source,omitempty"`
	TimeSpentSeconds int64           `json:"timeSpentSeconds,omitempty"`
	ScrollDepth      int32           `json:"scrollDepth,omitempty"`
	EventData        json.RawMessage `json:"eventData,omitempty"`
}

// TopPathResult is one row of the top-pages archive query.
type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}
