package models

import "encoding/json"

// PageViewInput is the page-view fragment of a tracking payload.
type PageViewInput struct {
	URL                string `json:"url"`
	Title              string `json:"title,omitempty"`
	TimeSpentSeconds   int    `json:"timeSpentSeconds,omitempty"`
	ScrollDepthPercent int    `json:"scrollDepthPercent,omitempty"`
}

// EventInput is an interaction or conversion fragment. The timestamp is
// assigned server-side on append, never taken from the client.
type EventInput struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TrackRequest is the inbound tracking payload. Device, location, traffic
// source and bot classification arrive already resolved by upstream
// collaborators; the core only stores and merges them.
type TrackRequest struct {
	SessionID          string            `json:"sessionId"`
	VisitorID          string            `json:"visitorId"`
	UserAgent          string            `json:"userAgent,omitempty"`
	IsBot              *bool             `json:"isBot,omitempty"`
	Device             *DeviceInfo       `json:"device,omitempty"`
	Location           *LocationInfo     `json:"location,omitempty"`
	TrafficSource      *TrafficSource    `json:"trafficSource,omitempty"`
	PageView           *PageViewInput    `json:"pageView,omitempty"`
	Interaction        *EventInput       `json:"interaction,omitempty"`
	Conversion         *EventInput       `json:"conversion,omitempty"`
	IdentificationData map[string]string `json:"identificationData,omitempty"`
}

// HeartbeatRequest keeps a session alive and refreshes engagement figures for
// the page the visitor is currently on.
type HeartbeatRequest struct {
	SessionID          string `json:"sessionId"`
	TimeSpentSeconds   *int   `json:"timeSpentSeconds,omitempty"`
	ScrollDepthPercent *int   `json:"scrollDepthPercent,omitempty"`
	CurrentPage        string `json:"currentPage,omitempty"`
}

// EndSessionRequest explicitly closes a session.
type EndSessionRequest struct {
	SessionID          string `json:"sessionId"`
	TimeSpentSeconds   *int   `json:"timeSpentSeconds,omitempty"`
	ScrollDepthPercent *int   `json:"scrollDepthPercent,omitempty"`
}

// FieldError describes one invalid or missing payload field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks the required identifiers and fragment shapes. It is a pure
// function of the payload: no defaults are filled in, no coercion happens.
func (r *TrackRequest) Validate() []FieldError {
	var errs []FieldError
	if r.SessionID == "" {
		errs = append(errs, FieldError{Field: "sessionId", Message: "sessionId is required"})
	}
	if r.VisitorID == "" {
		errs = append(errs, FieldError{Field: "visitorId", Message: "visitorId is required"})
	}
	if r.PageView != nil && r.PageView.URL == "" {
		errs = append(errs, FieldError{Field: "pageView.url", Message: "url is required when pageView is present"})
	}
	if r.Interaction != nil && r.Interaction.Type == "" {
		errs = append(errs, FieldError{Field: "interaction.type", Message: "type is required when interaction is present"})
	}
	if r.Conversion != nil && r.Conversion.Type == "" {
		errs = append(errs, FieldError{Field: "conversion.type", Message: "type is required when conversion is present"})
	}
	return errs
}

// Validate rejects heartbeats without a session identifier. An unknown but
// well-formed sessionId is not an error, it is a no-op downstream.
func (r *HeartbeatRequest) Validate() []FieldError {
	if r.SessionID == "" {
		return []FieldError{{Field: "sessionId", Message: "sessionId is required"}}
	}
	return nil
}

// Validate rejects end-session calls without a session identifier.
func (r *EndSessionRequest) Validate() []FieldError {
	if r.SessionID == "" {
		return []FieldError{{Field: "sessionId", Message: "sessionId is required"}}
	}
	return nil
}
