package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwise/api/models"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newSession(sessionID, visitorID string, start time.Time) *models.Session {
	return &models.Session{
		SessionID:    sessionID,
		VisitorID:    visitorID,
		VisitorType:  models.VisitorTypeNew,
		VisitCount:   1,
		IsActive:     true,
		SessionStart: start,
		FirstVisit:   start,
		LastVisit:    start,
	}
}

func TestUpsertCreateThenUpdate(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newSession("s1", "v1", baseTime)))

	updated := newSession("s1", "v1", baseTime)
	updated.TotalPageViews = 4
	updated.LastVisit = baseTime.Add(time.Minute)
	require.NoError(t, s.Upsert(ctx, updated))

	got, err := s.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalPageViews)

	_, total, err := s.List(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestUpsertPreservesCreationFields(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newSession("s1", "v1", baseTime)))

	// A losing concurrent creator arrives with its own creation-time values.
	late := newSession("s1", "v1", baseTime.Add(2*time.Second))
	late.VisitCount = 7
	late.VisitorType = models.VisitorTypeReturning
	require.NoError(t, s.Upsert(ctx, late))

	got, err := s.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.SessionStart.Equal(baseTime), "sessionStart is immutable once set")
	assert.Equal(t, 1, got.VisitCount)
	assert.Equal(t, models.VisitorTypeNew, got.VisitorType)
}

func TestConcurrentCreatesCollapseToOneRecord(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := newSession("s1", "v1", baseTime.Add(time.Duration(i)*time.Millisecond))
			_ = s.Upsert(ctx, sess)
		}(i)
	}
	wg.Wait()

	_, total, err := s.List(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestGetBySessionIDNotFound(t *testing.T) {
	s := NewMemorySessionStore()

	_, err := s.GetBySessionID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLatestByVisitorIDOrdering(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newSession("s1", "v1", baseTime)))
	require.NoError(t, s.Upsert(ctx, newSession("s2", "v1", baseTime.Add(time.Hour))))
	require.NoError(t, s.Upsert(ctx, newSession("s3", "v2", baseTime.Add(2*time.Hour))))

	got, err := s.LatestByVisitorID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.SessionID)

	_, err = s.LatestByVisitorID(ctx, "v9")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLatestByVisitorIDTieBreak(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	// Identical sessionStart: the lexicographically larger sessionId wins,
	// keeping the choice stable across calls.
	require.NoError(t, s.Upsert(ctx, newSession("s-aaa", "v1", baseTime)))
	require.NoError(t, s.Upsert(ctx, newSession("s-bbb", "v1", baseTime)))

	for i := 0; i < 5; i++ {
		got, err := s.LatestByVisitorID(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, "s-bbb", got.SessionID)
	}
}

func TestListFilters(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	mobile := newSession("s1", "v1", baseTime)
	mobile.Device.Type = "mobile"
	mobile.Location.Country = "US"
	require.NoError(t, s.Upsert(ctx, mobile))

	desktop := newSession("s2", "v2", baseTime.Add(time.Hour))
	desktop.Device.Type = "desktop"
	desktop.Location.Country = "DE"
	desktop.IsBot = true
	require.NoError(t, s.Upsert(ctx, desktop))

	identified := newSession("s3", "v3", baseTime.Add(2*time.Hour))
	identified.Identified = true
	identified.VisitorType = models.VisitorTypeReturning
	require.NoError(t, s.Upsert(ctx, identified))

	tests := []struct {
		name   string
		filter SessionFilter
		want   []string
	}{
		{"no filter newest first", SessionFilter{}, []string{"s3", "s2", "s1"}},
		{"device type", SessionFilter{DeviceType: "mobile"}, []string{"s1"}},
		{"country", SessionFilter{Country: "DE"}, []string{"s2"}},
		{"bots only", SessionFilter{IsBot: boolPtr(true)}, []string{"s2"}},
		{"humans only", SessionFilter{IsBot: boolPtr(false)}, []string{"s3", "s1"}},
		{"identified", SessionFilter{Identified: boolPtr(true)}, []string{"s3"}},
		{"visitor type", SessionFilter{VisitorType: models.VisitorTypeReturning}, []string{"s3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, total, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), total)
			var ids []string
			for _, sess := range sessions {
				ids = append(ids, sess.SessionID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestListDateRangeHalfOpen(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newSession("s1", "v1", baseTime)))
	require.NoError(t, s.Upsert(ctx, newSession("s2", "v2", baseTime.Add(time.Hour))))
	require.NoError(t, s.Upsert(ctx, newSession("s3", "v3", baseTime.Add(2*time.Hour))))

	start := baseTime
	end := baseTime.Add(2 * time.Hour)
	sessions, total, err := s.List(ctx, SessionFilter{Start: &start, End: &end})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, sess := range sessions {
		assert.NotEqual(t, "s3", sess.SessionID, "end bound is exclusive")
	}
}

func TestListPagination(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, s.Upsert(ctx, newSession(id, "v", baseTime.Add(time.Duration(i)*time.Minute))))
	}

	page1, total, err := s.List(ctx, SessionFilter{Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, page1, 3)
	assert.Equal(t, "s6", page1[0].SessionID)

	page3, _, err := s.List(ctx, SessionFilter{Page: 3, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "s0", page3[0].SessionID)

	empty, _, err := s.List(ctx, SessionFilter{Page: 4, Limit: 3})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListActiveAppliesLivenessWindow(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()
	now := baseTime.Add(3 * time.Hour)

	fresh := newSession("fresh", "v1", baseTime)
	fresh.LastVisit = now.Add(-time.Minute)
	require.NoError(t, s.Upsert(ctx, fresh))

	stale := newSession("stale", "v2", baseTime)
	stale.LastVisit = now.Add(-time.Hour) // flag still true, activity too old
	require.NoError(t, s.Upsert(ctx, stale))

	ended := newSession("ended", "v3", baseTime)
	ended.IsActive = false
	ended.LastVisit = now.Add(-time.Second)
	require.NoError(t, s.Upsert(ctx, ended))

	active, err := s.ListActive(ctx, now, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].SessionID)
}

func TestStoreHandsOutClones(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	orig := newSession("s1", "v1", baseTime)
	orig.PageViews = []models.PageView{{URL: "/home", EnteredAt: baseTime}}
	require.NoError(t, s.Upsert(ctx, orig))

	got, err := s.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	got.PageViews[0].URL = "/mutated"
	got.TotalPageViews = 99

	fresh, err := s.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/home", fresh.PageViews[0].URL)
	assert.Zero(t, fresh.TotalPageViews)
}

func boolPtr(v bool) *bool { return &v }
