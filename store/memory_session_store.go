package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"lendwise/api/models"
)

// MemorySessionStore keeps session records in a mutex-guarded map. It backs
// the test suite and the SESSION_STORE=memory development mode, and mirrors
// the upsert semantics of the Postgres store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*models.Session)}
}

func (s *MemorySessionStore) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemorySessionStore) LatestByVisitorID(ctx context.Context, visitorID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Session
	for _, sess := range s.sessions {
		if sess.VisitorID != visitorID {
			continue
		}
		if latest == nil || sessionAfter(sess, latest) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrSessionNotFound
	}
	return latest.Clone(), nil
}

// sessionAfter orders by sessionStart descending, then sessionId descending
// as a stable tie-break for sessions created in the same instant.
func sessionAfter(a, b *models.Session) bool {
	if !a.SessionStart.Equal(b.SessionStart) {
		return a.SessionStart.After(b.SessionStart)
	}
	return a.SessionID > b.SessionID
}

func (s *MemorySessionStore) Upsert(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := sess.Clone()
	if existing, ok := s.sessions[sess.SessionID]; ok {
		// Creation-time fields survive a lost create race.
		incoming.SessionStart = existing.SessionStart
		incoming.FirstVisit = existing.FirstVisit
		incoming.VisitCount = existing.VisitCount
		incoming.VisitorType = existing.VisitorType
	}
	s.sessions[sess.SessionID] = incoming
	return nil
}

func (s *MemorySessionStore) List(ctx context.Context, f SessionFilter) ([]models.Session, int, error) {
	s.mu.RLock()
	matched := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if matchesFilter(sess, f) {
			matched = append(matched, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return sessionAfter(matched[i], matched[j]) })

	total := len(matched)
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		offset := (page - 1) * f.Limit
		if offset >= total {
			matched = nil
		} else {
			end := offset + f.Limit
			if end > total {
				end = total
			}
			matched = matched[offset:end]
		}
	}

	out := make([]models.Session, 0, len(matched))
	for _, sess := range matched {
		out = append(out, *sess.Clone())
	}
	return out, total, nil
}

func (s *MemorySessionStore) ListActive(ctx context.Context, now time.Time, window time.Duration) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Session
	for _, sess := range s.sessions {
		if sess.ActiveWithin(now, window) {
			out = append(out, *sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return sessionAfter(&out[i], &out[j]) })
	return out, nil
}

func matchesFilter(sess *models.Session, f SessionFilter) bool {
	if f.Start != nil && sess.SessionStart.Before(*f.Start) {
		return false
	}
	if f.End != nil && !sess.SessionStart.Before(*f.End) {
		return false
	}
	if f.DeviceType != "" && sess.Device.Type != f.DeviceType {
		return false
	}
	if f.Country != "" && sess.Location.Country != f.Country {
		return false
	}
	if f.Source != "" && sess.TrafficSource.Source != f.Source {
		return false
	}
	if f.VisitorType != "" && sess.VisitorType != f.VisitorType {
		return false
	}
	if f.IsBot != nil && sess.IsBot != *f.IsBot {
		return false
	}
	if f.Identified != nil && sess.Identified != *f.Identified {
		return false
	}
	return true
}
