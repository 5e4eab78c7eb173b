package tracking

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"lendwise/api/models"
	"lendwise/api/store"
)

// Heartbeat marks the session as still alive and refreshes engagement figures
// for the page the visitor is currently on. A heartbeat for an unknown
// sessionId is a silent no-op: it may race with session creation or arrive
// after cleanup, neither of which is the client's fault.
func (p *Processor) Heartbeat(ctx context.Context, req *models.HeartbeatRequest) error {
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		return &ValidationError{Fields: fieldErrs}
	}

	now := p.now()

	sess, err := p.store.GetBySessionID(ctx, req.SessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	sess.LastVisit = now
	if req.ScrollDepthPercent != nil {
		p.raiseScrollDepth(sess, *req.ScrollDepthPercent)
	}

	// An ended session keeps its frozen liveness and time-on-site; only the
	// scroll-depth maximum and lastVisit still move.
	if sess.SessionEnd == nil {
		sess.IsActive = true
		sess.TotalTimeOnSiteSeconds = int64(now.Sub(sess.SessionStart).Seconds())
	}

	// Unlike ingest's recency-windowed merge, a heartbeat always targets the
	// most recent entry for the current page, however old it is.
	if req.CurrentPage != "" {
		for i := len(sess.PageViews) - 1; i >= 0; i-- {
			if sess.PageViews[i].URL != req.CurrentPage {
				continue
			}
			if req.TimeSpentSeconds != nil {
				sess.PageViews[i].TimeSpentSeconds = *req.TimeSpentSeconds
			}
			if req.ScrollDepthPercent != nil {
				sess.PageViews[i].ScrollDepthPercent = *req.ScrollDepthPercent
			}
			break
		}
	}

	if err := p.store.Upsert(ctx, sess); err != nil {
		return err
	}

	p.archiveLifecycle(ctx, sess, models.ArchiveEventHeartbeat, req.CurrentPage, req.TimeSpentSeconds, req.ScrollDepthPercent, now)
	return nil
}

// EndSession closes the session explicitly. Only the first call sets
// sessionEnd; a second end for an already-ended session is a no-op so the end
// timestamp stays immutable. Unknown sessions are a silent no-op as well.
func (p *Processor) EndSession(ctx context.Context, req *models.EndSessionRequest) error {
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		return &ValidationError{Fields: fieldErrs}
	}

	now := p.now()

	sess, err := p.store.GetBySessionID(ctx, req.SessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.SessionEnd != nil {
		return nil
	}

	sess.IsActive = false
	sess.SessionEnd = &now
	sess.LastVisit = now
	sess.TotalTimeOnSiteSeconds = int64(now.Sub(sess.SessionStart).Seconds())
	if req.ScrollDepthPercent != nil {
		p.raiseScrollDepth(sess, *req.ScrollDepthPercent)
	}

	if err := p.store.Upsert(ctx, sess); err != nil {
		return err
	}

	p.archiveLifecycle(ctx, sess, models.ArchiveEventSessionEnd, sess.ExitPage, req.TimeSpentSeconds, req.ScrollDepthPercent, now)
	return nil
}

func (p *Processor) archiveLifecycle(ctx context.Context, sess *models.Session, eventType, pageURL string, timeSpent, scrollDepth *int, now time.Time) {
	if p.archive == nil {
		return
	}

	ev := models.ArchiveEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		SessionID:  sess.SessionID,
		VisitorID:  sess.VisitorID,
		Timestamp:  now,
		PageURL:    pageURL,
		UserAgent:  sess.UserAgent,
		IPAddress:  sess.IPAddress,
		DeviceType: sess.Device.Type,
		Browser:    sess.Device.Browser,
		Country:    sess.Location.Country,
		Source:     sess.TrafficSource.Source,
	}
	if timeSpent != nil {
		ev.TimeSpentSeconds = int64(*timeSpent)
	}
	if scrollDepth != nil {
		ev.ScrollDepth = int32(*scrollDepth)
	}

	if err := p.archive.InsertEvents(ctx, []models.ArchiveEvent{ev}); err != nil {
		log.Printf("Error archiving %s event for session %s: %v", eventType, sess.SessionID, err)
	}
}
