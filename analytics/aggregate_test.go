package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwise/api/models"
)

var testNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

const testWindow = 5 * time.Minute

func makeSession(id string, mutate func(*models.Session)) models.Session {
	s := models.Session{
		SessionID:      id,
		VisitorID:      "visitor-" + id,
		VisitorType:    models.VisitorTypeNew,
		VisitCount:     1,
		TotalPageViews: 1,
		SessionStart:   testNow.Add(-time.Hour),
		FirstVisit:     testNow.Add(-time.Hour),
		LastVisit:      testNow.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&s)
	}
	return s
}

func TestComputeEmptySet(t *testing.T) {
	ov := Compute(nil, testNow, testWindow)

	assert.Zero(t, ov.TotalSessions)
	assert.Zero(t, ov.UniqueVisitors)
	assert.Zero(t, ov.BounceRate, "empty set is no division error")
	assert.Zero(t, ov.AvgSessionDurationSeconds)
	assert.Zero(t, ov.AvgPageViews)
	assert.NotNil(t, ov.Devices)
	assert.Empty(t, ov.Devices)
	assert.NotNil(t, ov.PopularPages)
	assert.Empty(t, ov.PopularPages)
	assert.Len(t, ov.HourlyToday, 24)
	assert.Len(t, ov.DailyWeek, 7)
}

func TestBounceRate(t *testing.T) {
	tests := []struct {
		name      string
		pageViews []int
		want      int
	}{
		{"two of three bounced", []int{1, 1, 4}, 67},
		{"all bounced", []int{1, 1, 1}, 100},
		{"none bounced", []int{2, 3}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sessions []models.Session
			for i, pv := range tt.pageViews {
				pv := pv
				sessions = append(sessions, makeSession(fmt.Sprintf("s%d", i), func(s *models.Session) {
					s.TotalPageViews = pv
				}))
			}
			ov := Compute(sessions, testNow, testWindow)
			assert.Equal(t, tt.want, ov.BounceRate)
		})
	}
}

func TestVolumeAndVisitorCounts(t *testing.T) {
	sessions := []models.Session{
		makeSession("s1", func(s *models.Session) {
			s.VisitorID = "v1"
			s.IsActive = true
			s.LastVisit = testNow.Add(-time.Minute)
		}),
		makeSession("s2", func(s *models.Session) {
			s.VisitorID = "v1"
			s.VisitorType = models.VisitorTypeReturning
			s.IsActive = true
			s.LastVisit = testNow.Add(-time.Hour) // stale: active flag alone is not enough
		}),
		makeSession("s3", func(s *models.Session) {
			s.VisitorID = "v2"
			s.Identified = true
		}),
	}

	ov := Compute(sessions, testNow, testWindow)

	assert.Equal(t, 3, ov.TotalSessions)
	assert.Equal(t, 2, ov.UniqueVisitors)
	assert.Equal(t, 1, ov.ActiveSessions)
	assert.Equal(t, 2, ov.NewVisitors)
	assert.Equal(t, 1, ov.ReturningVisitors)
	assert.Equal(t, 1, ov.IdentifiedSessions)
}

func TestEngagementAverages(t *testing.T) {
	sessions := []models.Session{
		makeSession("s1", func(s *models.Session) {
			s.TotalTimeOnSiteSeconds = 120
			s.TotalPageViews = 3
		}),
		makeSession("s2", func(s *models.Session) {
			s.TotalTimeOnSiteSeconds = 60
			s.TotalPageViews = 1
		}),
		// Zero-duration sessions are excluded from the duration average but
		// still count toward page-view figures.
		makeSession("s3", func(s *models.Session) {
			s.TotalTimeOnSiteSeconds = 0
			s.TotalPageViews = 2
		}),
	}

	ov := Compute(sessions, testNow, testWindow)

	assert.InDelta(t, 90.0, ov.AvgSessionDurationSeconds, 0.001)
	assert.InDelta(t, 2.0, ov.AvgPageViews, 0.001)
}

func TestBotsExcludedExceptBotMetric(t *testing.T) {
	sessions := []models.Session{
		makeSession("s1", nil),
		makeSession("s2", func(s *models.Session) { s.IsBot = true }),
		makeSession("s3", func(s *models.Session) { s.IsBot = true }),
	}

	ov := Compute(sessions, testNow, testWindow)

	assert.Equal(t, 1, ov.TotalSessions)
	assert.Equal(t, 1, ov.UniqueVisitors)
	assert.Equal(t, 2, ov.BotSessions)
}

func TestCategoricalBreakdownsSortedAndTruncated(t *testing.T) {
	var sessions []models.Session
	// 12 countries, country-11 most frequent.
	for i := 0; i < 12; i++ {
		country := fmt.Sprintf("country-%02d", i)
		for j := 0; j <= i; j++ {
			id := fmt.Sprintf("s-%02d-%d", i, j)
			sessions = append(sessions, makeSession(id, func(s *models.Session) {
				s.Location.Country = country
				s.Device.Type = "mobile"
			}))
		}
	}
	sessions = append(sessions, makeSession("d1", func(s *models.Session) {
		s.Device.Type = "desktop"
	}))

	ov := Compute(sessions, testNow, testWindow)

	require.Len(t, ov.Countries, 10, "country breakdown is truncated to the top 10")
	assert.Equal(t, "country-11", ov.Countries[0].Name)
	assert.Equal(t, 12, ov.Countries[0].Count)
	for i := 1; i < len(ov.Countries); i++ {
		assert.GreaterOrEqual(t, ov.Countries[i-1].Count, ov.Countries[i].Count)
	}

	require.Len(t, ov.Devices, 2)
	assert.Equal(t, "mobile", ov.Devices[0].Name)
}

func TestConversionBreakdown(t *testing.T) {
	sessions := []models.Session{
		makeSession("s1", func(s *models.Session) {
			s.Conversions = []models.SessionEvent{
				{Type: "loan_application", Timestamp: testNow},
				{Type: "newsletter_signup", Timestamp: testNow},
			}
		}),
		makeSession("s2", func(s *models.Session) {
			s.Conversions = []models.SessionEvent{
				{Type: "loan_application", Timestamp: testNow},
			}
		}),
	}

	ov := Compute(sessions, testNow, testWindow)

	require.Len(t, ov.Conversions, 2)
	assert.Equal(t, NameCount{Name: "loan_application", Count: 2}, ov.Conversions[0])
	assert.Equal(t, NameCount{Name: "newsletter_signup", Count: 1}, ov.Conversions[1])
}

func TestPopularPages(t *testing.T) {
	sessions := []models.Session{
		makeSession("s1", func(s *models.Session) {
			s.PageViews = []models.PageView{
				{URL: "/home", TimeSpentSeconds: 30},
				{URL: "/apply", TimeSpentSeconds: 100},
			}
		}),
		makeSession("s2", func(s *models.Session) {
			s.PageViews = []models.PageView{
				{URL: "/home", TimeSpentSeconds: 90},
			}
		}),
	}

	ov := Compute(sessions, testNow, testWindow)

	require.Len(t, ov.PopularPages, 2)
	assert.Equal(t, "/home", ov.PopularPages[0].URL)
	assert.Equal(t, 2, ov.PopularPages[0].Views)
	assert.InDelta(t, 60.0, ov.PopularPages[0].AvgTimeSpentSeconds, 0.001)
	assert.Equal(t, "/apply", ov.PopularPages[1].URL)
}

func TestPopularPagesTruncatedToTopTen(t *testing.T) {
	var pages []models.PageView
	for i := 0; i < 15; i++ {
		pages = append(pages, models.PageView{URL: fmt.Sprintf("/p%02d", i)})
	}
	sessions := []models.Session{
		makeSession("s1", func(s *models.Session) { s.PageViews = pages }),
	}

	ov := Compute(sessions, testNow, testWindow)
	assert.Len(t, ov.PopularPages, 10)
}

func TestHourlyTodayBuckets(t *testing.T) {
	sessions := []models.Session{
		makeSession("s1", func(s *models.Session) {
			s.SessionStart = time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC)
		}),
		makeSession("s2", func(s *models.Session) {
			s.SessionStart = time.Date(2025, 3, 10, 9, 45, 0, 0, time.UTC)
		}),
		makeSession("s3", func(s *models.Session) {
			s.SessionStart = time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)
		}),
		// Yesterday: excluded from today's hourly series.
		makeSession("s4", func(s *models.Session) {
			s.SessionStart = time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC)
		}),
	}

	ov := Compute(sessions, testNow, testWindow)

	require.Len(t, ov.HourlyToday, 24)
	assert.Equal(t, "09:00", ov.HourlyToday[9].Bucket)
	assert.Equal(t, 2, ov.HourlyToday[9].Count)
	assert.Equal(t, 1, ov.HourlyToday[14].Count)
	assert.Zero(t, ov.HourlyToday[0].Count)
}

func TestDailyWeekBuckets(t *testing.T) {
	sessions := []models.Session{
		makeSession("s1", func(s *models.Session) {
			s.SessionStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		}),
		makeSession("s2", func(s *models.Session) {
			s.SessionStart = time.Date(2025, 3, 7, 22, 0, 0, 0, time.UTC)
		}),
		// Eight days ago: outside the trailing week.
		makeSession("s3", func(s *models.Session) {
			s.SessionStart = time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
		}),
	}

	ov := Compute(sessions, testNow, testWindow)

	require.Len(t, ov.DailyWeek, 7)
	assert.Equal(t, "2025-03-04", ov.DailyWeek[0].Bucket)
	assert.Equal(t, "2025-03-10", ov.DailyWeek[6].Bucket)
	assert.Equal(t, 1, ov.DailyWeek[6].Count)
	assert.Equal(t, 1, ov.DailyWeek[3].Count)
	assert.Zero(t, ov.DailyWeek[1].Count)
}
