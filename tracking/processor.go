package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"lendwise/api/models"
	"lendwise/api/store"
)

// Config bounds the merge and liveness behavior of the tracker.
type Config struct {
	// PageViewMergeWindow is how recently a page-view entry for the same URL
	// must have been created for a repeat event to update it in place.
	PageViewMergeWindow time.Duration

	// LivenessWindow is how long after the last observed activity a session
	// still counts as active.
	LivenessWindow time.Duration

	// Per-session sequence caps. Oldest entries are evicted at the cap;
	// the incrementally maintained counters are unaffected.
	MaxPageViews    int
	MaxInteractions int
	MaxConversions  int
}

func DefaultConfig() Config {
	return Config{
		PageViewMergeWindow: 5 * time.Minute,
		LivenessWindow:      5 * time.Minute,
		MaxPageViews:        200,
		MaxInteractions:     500,
		MaxConversions:      500,
	}
}

// ConfigFromEnv overrides defaults from the environment, matching the rest of
// the service's constructor-reads-env pattern.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if d, err := time.ParseDuration(os.Getenv("PAGEVIEW_MERGE_WINDOW")); err == nil && d > 0 {
		cfg.PageViewMergeWindow = d
	}
	if d, err := time.ParseDuration(os.Getenv("SESSION_LIVENESS_WINDOW")); err == nil && d > 0 {
		cfg.LivenessWindow = d
	}
	if n, err := strconv.Atoi(os.Getenv("SESSION_MAX_PAGEVIEWS")); err == nil && n > 0 {
		cfg.MaxPageViews = n
	}
	if n, err := strconv.Atoi(os.Getenv("SESSION_MAX_INTERACTIONS")); err == nil && n > 0 {
		cfg.MaxInteractions = n
	}
	if n, err := strconv.Atoi(os.Getenv("SESSION_MAX_CONVERSIONS")); err == nil && n > 0 {
		cfg.MaxConversions = n
	}
	return cfg
}

// ValidationError carries the per-field errors of a rejected payload.
type ValidationError struct {
	Fields []models.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid payload"
	}
	return fmt.Sprintf("invalid payload: %s", e.Fields[0].Message)
}

// EventArchiver receives the raw event copies of accepted tracking calls.
// The archive is best-effort; Processor logs and continues on failure.
type EventArchiver interface {
	InsertEvents(ctx context.Context, events []models.ArchiveEvent) error
}

// Processor owns the session create-or-merge logic: it decides whether an
// incoming event belongs to an existing session, classifies new vs. returning
// visitors, and folds event fragments into the session record.
type Processor struct {
	store   store.SessionStore
	archive EventArchiver
	cfg     Config

	now func() time.Time
}

// NewProcessor wires the tracker. archive may be nil when no raw-event
// archive is configured.
func NewProcessor(s store.SessionStore, archive EventArchiver, cfg Config) *Processor {
	return &Processor{
		store:   s,
		archive: archive,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Track applies one tracking payload: create the session on a previously
// unseen sessionId, otherwise merge into the existing record. Exactly one
// store write happens per call.
func (p *Processor) Track(ctx context.Context, req *models.TrackRequest, clientIP string) (*models.Session, error) {
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	now := p.now()

	sess, err := p.store.GetBySessionID(ctx, req.SessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		sess, err = p.newSession(ctx, req, now)
	}
	if err != nil {
		return nil, err
	}

	sess.LastVisit = now
	sess.IsActive = true
	if clientIP != "" {
		sess.IPAddress = clientIP
	}
	if req.UserAgent != "" {
		sess.UserAgent = req.UserAgent
	}
	if req.IsBot != nil {
		sess.IsBot = *req.IsBot
	}
	sess.ApplyDevice(req.Device)
	sess.ApplyLocation(req.Location)
	sess.ApplyTrafficSource(req.TrafficSource)

	if req.PageView != nil {
		p.applyPageView(sess, req.PageView, now)
	}
	if req.Interaction != nil {
		sess.Interactions = appendEventCapped(sess.Interactions, models.SessionEvent{
			Type:      req.Interaction.Type,
			Timestamp: now,
			Data:      req.Interaction.Data,
		}, p.cfg.MaxInteractions)
	}
	if req.Conversion != nil {
		sess.Conversions = appendEventCapped(sess.Conversions, models.SessionEvent{
			Type:      req.Conversion.Type,
			Timestamp: now,
			Data:      req.Conversion.Data,
		}, p.cfg.MaxConversions)
	}
	sess.MergeIdentity(req.IdentificationData)

	if sess.SessionEnd == nil {
		sess.TotalTimeOnSiteSeconds = int64(now.Sub(sess.SessionStart).Seconds())
	}

	if err := p.store.Upsert(ctx, sess); err != nil {
		return nil, err
	}

	p.archiveTrack(ctx, sess, req, now)
	return sess, nil
}

// newSession builds a fresh record, deriving visitCount, visitorType and
// firstVisit from the visitor's most recent prior session. These fields are
// set exactly once here and never recomputed.
func (p *Processor) newSession(ctx context.Context, req *models.TrackRequest, now time.Time) (*models.Session, error) {
	sess := &models.Session{
		SessionID:    req.SessionID,
		VisitorID:    req.VisitorID,
		IsActive:     true,
		VisitorType:  models.VisitorTypeNew,
		VisitCount:   1,
		SessionStart: now,
		FirstVisit:   now,
		LastVisit:    now,
	}

	prior, err := p.store.LatestByVisitorID(ctx, req.VisitorID)
	switch {
	case err == nil:
		sess.VisitCount = prior.VisitCount + 1
		sess.VisitorType = models.VisitorTypeReturning
		sess.FirstVisit = prior.FirstVisit
	case errors.Is(err, store.ErrSessionNotFound):
		// first session for this visitor
	default:
		return nil, err
	}

	return sess, nil
}

// applyPageView merges a repeated view of the same URL into its existing
// entry when that entry was created inside the recency window; otherwise it
// appends a new entry and advances the counters. This keeps rapid same-page
// pings from inflating the timeline while real navigation stays distinct.
func (p *Processor) applyPageView(sess *models.Session, pv *models.PageViewInput, now time.Time) {
	for i := len(sess.PageViews) - 1; i >= 0; i-- {
		entry := &sess.PageViews[i]
		if entry.URL != pv.URL {
			continue
		}
		if now.Sub(entry.EnteredAt) > p.cfg.PageViewMergeWindow {
			break
		}
		entry.TimeSpentSeconds = pv.TimeSpentSeconds
		entry.ScrollDepthPercent = pv.ScrollDepthPercent
		if pv.Title != "" {
			entry.Title = pv.Title
		}
		p.raiseScrollDepth(sess, pv.ScrollDepthPercent)
		return
	}

	if p.cfg.MaxPageViews > 0 && len(sess.PageViews) >= p.cfg.MaxPageViews {
		sess.PageViews = sess.PageViews[1:]
	}
	sess.PageViews = append(sess.PageViews, models.PageView{
		URL:                pv.URL,
		Title:              pv.Title,
		EnteredAt:          now,
		TimeSpentSeconds:   pv.TimeSpentSeconds,
		ScrollDepthPercent: pv.ScrollDepthPercent,
	})
	sess.TotalPageViews++
	if sess.EntryPage == "" {
		sess.EntryPage = pv.URL
	}
	sess.ExitPage = pv.URL
	p.raiseScrollDepth(sess, pv.ScrollDepthPercent)
}

// raiseScrollDepth is max-only; the session-level figure never decreases.
func (p *Processor) raiseScrollDepth(sess *models.Session, depth int) {
	if depth > sess.MaxScrollDepth {
		sess.MaxScrollDepth = depth
	}
}

func appendEventCapped(seq []models.SessionEvent, ev models.SessionEvent, max int) []models.SessionEvent {
	if max > 0 && len(seq) >= max {
		seq = seq[1:]
	}
	return append(seq, ev)
}

// archiveTrack mirrors the accepted payload fragments into the raw event
// archive. Failures are logged, never surfaced: the session write already
// succeeded and the archive is not the source of truth.
func (p *Processor) archiveTrack(ctx context.Context, sess *models.Session, req *models.TrackRequest, now time.Time) {
	if p.archive == nil {
		return
	}

	base := models.ArchiveEvent{
		SessionID:  sess.SessionID,
		VisitorID:  sess.VisitorID,
		Timestamp:  now,
		UserAgent:  sess.UserAgent,
		IPAddress:  sess.IPAddress,
		DeviceType: sess.Device.Type,
		Browser:    sess.Device.Browser,
		Country:    sess.Location.Country,
		Source:     sess.TrafficSource.Source,
		Referrer:   sess.TrafficSource.Referrer,
	}

	var events []models.ArchiveEvent
	if req.PageView != nil {
		ev := base
		ev.EventID = uuid.New().String()
		ev.EventType = models.ArchiveEventPageView
		ev.PageURL = req.PageView.URL
		ev.TimeSpentSeconds = int64(req.PageView.TimeSpentSeconds)
		ev.ScrollDepth = int32(req.PageView.ScrollDepthPercent)
		events = append(events, ev)
	}
	if req.Interaction != nil {
		ev := base
		ev.EventID = uuid.New().String()
		ev.EventType = models.ArchiveEventInteraction
		ev.EventData = req.Interaction.Data
		events = append(events, ev)
	}
	if req.Conversion != nil {
		ev := base
		ev.EventID = uuid.New().String()
		ev.EventType = models.ArchiveEventConversion
		ev.EventData = req.Conversion.Data
		events = append(events, ev)
	}
	if len(req.IdentificationData) > 0 {
		ev := base
		ev.EventID = uuid.New().String()
		ev.EventType = models.ArchiveEventIdentify
		events = append(events, ev)
	}

	if len(events) == 0 {
		return
	}
	if err := p.archive.InsertEvents(ctx, events); err != nil {
		log.Printf("Error archiving tracking events for session %s: %v", sess.SessionID, err)
	}
}
