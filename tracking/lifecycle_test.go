package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwise/api/models"
	"lendwise/api/store"
)

func intPtr(v int) *int { return &v }

func TestHeartbeatUnknownSessionIsNoop(t *testing.T) {
	p, s, _ := newTestProcessor()

	err := p.Heartbeat(context.Background(), &models.HeartbeatRequest{SessionID: "ghost"})
	require.NoError(t, err, "heartbeats may race with session creation")

	_, total, err := s.List(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "a no-op heartbeat must not create a session")
}

func TestEndSessionUnknownSessionIsNoop(t *testing.T) {
	p, _, _ := newTestProcessor()

	err := p.EndSession(context.Background(), &models.EndSessionRequest{SessionID: "ghost"})
	require.NoError(t, err)
}

func TestHeartbeatRequiresSessionID(t *testing.T) {
	p, _, _ := newTestProcessor()

	err := p.Heartbeat(context.Background(), &models.HeartbeatRequest{})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "sessionId", vErr.Fields[0].Field)
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	p, _, clock := newTestProcessor()
	ctx := context.Background()

	trackPage(t, p, "s1", "v1", "/home", 10)

	clock.Advance(90 * time.Second)
	require.NoError(t, p.Heartbeat(ctx, &models.HeartbeatRequest{
		SessionID:          "s1",
		ScrollDepthPercent: intPtr(35),
	}))

	sess, err := p.store.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.IsActive)
	assert.True(t, sess.LastVisit.Equal(clock.Now()))
	assert.Equal(t, int64(90), sess.TotalTimeOnSiteSeconds)
	assert.Equal(t, 35, sess.MaxScrollDepth)
}

func TestHeartbeatUpdatesCurrentPageEntry(t *testing.T) {
	p, _, clock := newTestProcessor()
	ctx := context.Background()

	trackPage(t, p, "s1", "v1", "/home", 10)
	clock.Advance(time.Minute)
	trackPage(t, p, "s1", "v1", "/apply", 20)

	// Long after the ingest merge window, the heartbeat still updates the
	// latest entry for the current page in place.
	clock.Advance(20 * time.Minute)
	require.NoError(t, p.Heartbeat(ctx, &models.HeartbeatRequest{
		SessionID:          "s1",
		CurrentPage:        "/apply",
		TimeSpentSeconds:   intPtr(1260),
		ScrollDepthPercent: intPtr(80),
	}))

	sess, err := p.store.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.PageViews, 2, "heartbeat never creates page-view entries")
	assert.Equal(t, 1260, sess.PageViews[1].TimeSpentSeconds)
	assert.Equal(t, 80, sess.PageViews[1].ScrollDepthPercent)
	assert.Equal(t, 10, sess.PageViews[0].ScrollDepthPercent, "other entries untouched")
	assert.Equal(t, 2, sess.TotalPageViews)
}

func TestHeartbeatUnknownPageLeavesTimelineAlone(t *testing.T) {
	p, _, _ := newTestProcessor()
	ctx := context.Background()

	trackPage(t, p, "s1", "v1", "/home", 10)

	require.NoError(t, p.Heartbeat(ctx, &models.HeartbeatRequest{
		SessionID:        "s1",
		CurrentPage:      "/never-seen",
		TimeSpentSeconds: intPtr(42),
	}))

	sess, err := p.store.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.PageViews, 1)
	assert.NotEqual(t, 42, sess.PageViews[0].TimeSpentSeconds)
}

func TestEndSessionSetsEndOnce(t *testing.T) {
	p, _, clock := newTestProcessor()
	ctx := context.Background()

	trackPage(t, p, "s1", "v1", "/home", 10)

	clock.Advance(45 * time.Second)
	require.NoError(t, p.EndSession(ctx, &models.EndSessionRequest{SessionID: "s1"}))

	first, err := p.store.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, first.SessionEnd)
	firstEnd := *first.SessionEnd
	assert.False(t, first.IsActive)
	assert.Equal(t, int64(45), first.TotalTimeOnSiteSeconds)

	// A second end call must not move the end timestamp.
	clock.Advance(10 * time.Minute)
	require.NoError(t, p.EndSession(ctx, &models.EndSessionRequest{SessionID: "s1"}))

	second, err := p.store.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, second.SessionEnd)
	assert.True(t, second.SessionEnd.Equal(firstEnd))
	assert.Equal(t, int64(45), second.TotalTimeOnSiteSeconds)
}

func TestHeartbeatAfterEndKeepsSessionClosed(t *testing.T) {
	p, _, clock := newTestProcessor()
	ctx := context.Background()

	trackPage(t, p, "s1", "v1", "/home", 10)
	clock.Advance(30 * time.Second)
	require.NoError(t, p.EndSession(ctx, &models.EndSessionRequest{SessionID: "s1"}))

	clock.Advance(time.Minute)
	require.NoError(t, p.Heartbeat(ctx, &models.HeartbeatRequest{
		SessionID:          "s1",
		ScrollDepthPercent: intPtr(95),
	}))

	sess, err := p.store.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, sess.IsActive, "a late heartbeat does not reopen an ended session")
	assert.Equal(t, int64(30), sess.TotalTimeOnSiteSeconds, "time on site is frozen at end")
	assert.Equal(t, 95, sess.MaxScrollDepth, "scroll depth maximum still applies")
}

func TestEndSessionAppliesScrollDepth(t *testing.T) {
	p, _, _ := newTestProcessor()
	ctx := context.Background()

	trackPage(t, p, "s1", "v1", "/home", 10)
	require.NoError(t, p.EndSession(ctx, &models.EndSessionRequest{
		SessionID:          "s1",
		ScrollDepthPercent: intPtr(60),
	}))

	sess, err := p.store.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 60, sess.MaxScrollDepth)
}
