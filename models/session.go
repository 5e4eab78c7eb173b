package models

import (
	"encoding/json"
	"time"
)

// Visitor classification values, derived once at session creation.
const (
	VisitorTypeNew       = "new"
	VisitorTypeReturning = "returning"
)

// DeviceInfo is the last-known device snapshot for a session. Fields are
// replaced individually when a payload re-supplies them; empty means unknown.
type DeviceInfo struct {
	Type             string `json:"type,omitempty"`
	Browser          string `json:"browser,omitempty"`
	BrowserVersion   string `json:"browserVersion,omitempty"`
	OS               string `json:"os,omitempty"`
	OSVersion        string `json:"osVersion,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
}

// LocationInfo is the last-known geolocation snapshot, supplied by an
// external lookup collaborator; the core never resolves IPs itself.
type LocationInfo struct {
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// TrafficSource is the last-known traffic attribution snapshot.
type TrafficSource struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// PageView is one entry in a session's page timeline. Entries are appended in
// arrival order; repeated events for the same URL inside the recency window
// update the existing entry in place instead of appending.
type PageView struct {
	URL                string    `json:"url"`
	Title              string    `json:"title,omitempty"`
	EnteredAt          time.Time `json:"enteredAt"`
	TimeSpentSeconds   int       `json:"timeSpentSeconds"`
	ScrollDepthPercent int       `json:"scrollDepthPercent"`
}

// SessionEvent is a typed, timestamped event with an arbitrary payload, used
// for both interactions and conversions. Timestamps are server-assigned.
type SessionEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Session is one browsing session for one browser/device instance. Exactly one
// record exists per SessionID; the store serializes concurrent first-writes.
type Session struct {
	SessionID string `json:"sessionId"`
	VisitorID string `json:"visitorId"`

	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`

	Device        DeviceInfo    `json:"device"`
	Location      LocationInfo  `json:"location"`
	TrafficSource TrafficSource `json:"trafficSource"`

	PageViews    []PageView     `json:"pageViews"`
	Interactions []SessionEvent `json:"interactions"`
	Conversions  []SessionEvent `json:"conversions"`

	// Maintained incrementally; never recomputed from the sequences, so
	// capped timelines do not lose counts.
	TotalPageViews         int    `json:"totalPageViews"`
	MaxScrollDepth         int    `json:"maxScrollDepth"`
	TotalTimeOnSiteSeconds int64  `json:"totalTimeOnSiteSeconds"`
	EntryPage              string `json:"entryPage,omitempty"`
	ExitPage               string `json:"exitPage,omitempty"`

	IsActive    bool              `json:"isActive"`
	IsBot       bool              `json:"isBot"`
	Identified  bool              `json:"identified"`
	VisitorType string            `json:"visitorType"`
	VisitCount  int               `json:"visitCount"`
	Identity    map[string]string `json:"identity,omitempty"`

	SessionStart time.Time  `json:"sessionStart"`
	SessionEnd   *time.Time `json:"sessionEnd,omitempty"`
	FirstVisit   time.Time  `json:"firstVisit"`
	LastVisit    time.Time  `json:"lastVisit"`
}

// ActiveWithin reports whether the session counts as currently active: the
// explicit flag alone is not enough, the last activity must be recent.
func (s *Session) ActiveWithin(now time.Time, window time.Duration) bool {
	return s.IsActive && now.Sub(s.LastVisit) < window
}

// ApplyDevice overwrites device fields that the payload re-supplied.
// Absent (empty) fields retain their prior values; this is field-level
// replacement, not a deep merge.
func (s *Session) ApplyDevice(d *DeviceInfo) {
	if d == nil {
		return
	}
	if d.Type != "" {
		s.Device.Type = d.Type
	}
	if d.Browser != "" {
		s.Device.Browser = d.Browser
	}
	if d.BrowserVersion != "" {
		s.Device.BrowserVersion = d.BrowserVersion
	}
	if d.OS != "" {
		s.Device.OS = d.OS
	}
	if d.OSVersion != "" {
		s.Device.OSVersion = d.OSVersion
	}
	if d.ScreenResolution != "" {
		s.Device.ScreenResolution = d.ScreenResolution
	}
}

// ApplyLocation overwrites location fields that the payload re-supplied.
func (s *Session) ApplyLocation(l *LocationInfo) {
	if l == nil {
		return
	}
	if l.Country != "" {
		s.Location.Country = l.Country
	}
	if l.Region != "" {
		s.Location.Region = l.Region
	}
	if l.City != "" {
		s.Location.City = l.City
	}
	if l.Timezone != "" {
		s.Location.Timezone = l.Timezone
	}
}

// ApplyTrafficSource overwrites traffic attribution fields that the payload
// re-supplied.
func (s *Session) ApplyTrafficSource(t *TrafficSource) {
	if t == nil {
		return
	}
	if t.Source != "" {
		s.TrafficSource.Source = t.Source
	}
	if t.Medium != "" {
		s.TrafficSource.Medium = t.Medium
	}
	if t.Campaign != "" {
		s.TrafficSource.Campaign = t.Campaign
	}
	if t.Referrer != "" {
		s.TrafficSource.Referrer = t.Referrer
	}
}

// MergeIdentity shallow-merges identification fields, preserving previously
// known fields that this payload does not carry.
func (s *Session) MergeIdentity(fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	if s.Identity == nil {
		s.Identity = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		s.Identity[k] = v
	}
	s.Identified = true
}

// Clone returns a deep copy so callers can mutate freely without aliasing
// store-held state (the in-memory store hands out clones).
func (s *Session) Clone() *Session {
	out := *s
	if s.SessionEnd != nil {
		end := *s.SessionEnd
		out.SessionEnd = &end
	}
	out.PageViews = append([]PageView(nil), s.PageViews...)
	out.Interactions = cloneEvents(s.Interactions)
	out.Conversions = cloneEvents(s.Conversions)
	if s.Identity != nil {
		out.Identity = make(map[string]string, len(s.Identity))
		for k, v := range s.Identity {
			out.Identity[k] = v
		}
	}
	return &out
}

func cloneEvents(in []SessionEvent) []SessionEvent {
	if in == nil {
		return nil
	}
	out := make([]SessionEvent, len(in))
	for i, ev := range in {
		out[i] = ev
		if ev.Data != nil {
			out[i].Data = append(json.RawMessage(nil), ev.Data...)
		}
	}
	return out
}
