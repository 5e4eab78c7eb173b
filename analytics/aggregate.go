// Package analytics computes point-in-time rollup statistics over a slice of
// session records. Every computation is a pure function of its input: no
// storage access, no mutation, and an empty input always yields zero counts
// and empty lists rather than an error.
package analytics

import (
	"math"
	"sort"
	"time"

	"lendwise/api/models"
)

const topN = 10

// NameCount is one row of a categorical breakdown, sorted descending by count.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PageStat is one row of the popular-pages breakdown.
type PageStat struct {
	URL                 string  `json:"url"`
	Views               int     `json:"views"`
	AvgTimeSpentSeconds float64 `json:"avgTimeSpentSeconds"`
}

// BucketCount is one time bucket (hour-of-day or calendar day).
type BucketCount struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// Overview is the full aggregation document for a filtered session set.
// Bot-flagged sessions are excluded from every figure except BotSessions,
// which is specifically the bot metric.
type Overview struct {
	TotalSessions     int `json:"totalSessions"`
	UniqueVisitors    int `json:"uniqueVisitors"`
	ActiveSessions    int `json:"activeSessions"`
	NewVisitors       int `json:"newVisitors"`
	ReturningVisitors int `json:"returningVisitors"`

	AvgSessionDurationSeconds float64 `json:"avgSessionDurationSeconds"`
	AvgPageViews              float64 `json:"avgPageViews"`
	BounceRate                int     `json:"bounceRate"`

	Devices   []NameCount `json:"devices"`
	Browsers  []NameCount `json:"browsers"`
	Sources   []NameCount `json:"sources"`
	Countries []NameCount `json:"countries"`

	Conversions  []NameCount `json:"conversions"`
	PopularPages []PageStat  `json:"popularPages"`

	HourlyToday []BucketCount `json:"hourlyToday"`
	DailyWeek   []BucketCount `json:"dailyWeek"`

	IdentifiedSessions int `json:"identifiedSessions"`
	BotSessions        int `json:"botSessions"`
}

// Compute rolls up the given sessions. now anchors the liveness predicate and
// the time buckets; livenessWindow bounds how stale an "active" session may be.
func Compute(sessions []models.Session, now time.Time, livenessWindow time.Duration) Overview {
	ov := Overview{
		Devices:      []NameCount{},
		Browsers:     []NameCount{},
		Sources:      []NameCount{},
		Countries:    []NameCount{},
		Conversions:  []NameCount{},
		PopularPages: []PageStat{},
	}

	visitors := make(map[string]struct{})
	devices := make(map[string]int)
	browsers := make(map[string]int)
	sources := make(map[string]int)
	countries := make(map[string]int)
	conversions := make(map[string]int)

	type pageAgg struct {
		views     int
		timeSpent int64
	}
	pages := make(map[string]*pageAgg)

	var bounced int
	var durationSum int64
	var durationCount int
	var pageViewSum int

	for i := range sessions {
		s := &sessions[i]
		if s.IsBot {
			ov.BotSessions++
			continue
		}

		ov.TotalSessions++
		visitors[s.VisitorID] = struct{}{}
		if s.ActiveWithin(now, livenessWindow) {
			ov.ActiveSessions++
		}
		switch s.VisitorType {
		case models.VisitorTypeReturning:
			ov.ReturningVisitors++
		default:
			ov.NewVisitors++
		}
		if s.Identified {
			ov.IdentifiedSessions++
		}

		if s.TotalTimeOnSiteSeconds > 0 {
			durationSum += s.TotalTimeOnSiteSeconds
			durationCount++
		}
		pageViewSum += s.TotalPageViews
		if s.TotalPageViews == 1 {
			bounced++
		}

		countInto(devices, s.Device.Type)
		countInto(browsers, s.Device.Browser)
		countInto(sources, s.TrafficSource.Source)
		countInto(countries, s.Location.Country)

		for _, conv := range s.Conversions {
			countInto(conversions, conv.Type)
		}
		for _, pv := range s.PageViews {
			agg, ok := pages[pv.URL]
			if !ok {
				agg = &pageAgg{}
				pages[pv.URL] = agg
			}
			agg.views++
			agg.timeSpent += int64(pv.TimeSpentSeconds)
		}
	}

	ov.UniqueVisitors = len(visitors)
	if durationCount > 0 {
		ov.AvgSessionDurationSeconds = float64(durationSum) / float64(durationCount)
	}
	if ov.TotalSessions > 0 {
		ov.AvgPageViews = float64(pageViewSum) / float64(ov.TotalSessions)
		ov.BounceRate = int(math.Round(float64(bounced) / float64(ov.TotalSessions) * 100))
	}

	ov.Devices = sortedCounts(devices, 0)
	ov.Browsers = sortedCounts(browsers, topN)
	ov.Sources = sortedCounts(sources, 0)
	ov.Countries = sortedCounts(countries, topN)
	ov.Conversions = sortedCounts(conversions, 0)

	for url, agg := range pages {
		stat := PageStat{URL: url, Views: agg.views}
		if agg.views > 0 {
			stat.AvgTimeSpentSeconds = float64(agg.timeSpent) / float64(agg.views)
		}
		ov.PopularPages = append(ov.PopularPages, stat)
	}
	sort.Slice(ov.PopularPages, func(i, j int) bool {
		if ov.PopularPages[i].Views != ov.PopularPages[j].Views {
			return ov.PopularPages[i].Views > ov.PopularPages[j].Views
		}
		return ov.PopularPages[i].URL < ov.PopularPages[j].URL
	})
	if len(ov.PopularPages) > topN {
		ov.PopularPages = ov.PopularPages[:topN]
	}

	ov.HourlyToday = hourlyToday(sessions, now)
	ov.DailyWeek = dailyWeek(sessions, now)

	return ov
}

func countInto(m map[string]int, key string) {
	if key == "" {
		return
	}
	m[key]++
}

// sortedCounts orders descending by count with name ascending as a stable
// tie-break; limit 0 means unbounded.
func sortedCounts(m map[string]int, limit int) []NameCount {
	out := make([]NameCount, 0, len(m))
	for name, count := range m {
		out = append(out, NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// hourlyToday buckets session starts by hour of the current local server day.
// All 24 buckets are emitted, zeros included, so charts need no gap filling.
func hourlyToday(sessions []models.Session, now time.Time) []BucketCount {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	counts := make([]int, 24)
	for i := range sessions {
		s := &sessions[i]
		if s.IsBot {
			continue
		}
		local := s.SessionStart.In(now.Location())
		if local.Before(dayStart) || !local.Before(dayStart.Add(24*time.Hour)) {
			continue
		}
		counts[local.Hour()]++
	}

	out := make([]BucketCount, 24)
	for h := 0; h < 24; h++ {
		out[h] = BucketCount{Bucket: time.Date(0, 1, 1, h, 0, 0, 0, time.UTC).Format("15:00"), Count: counts[h]}
	}
	return out
}

// dailyWeek buckets session starts by calendar day over the trailing 7 days,
// oldest first, today last.
func dailyWeek(sessions []models.Session, now time.Time) []BucketCount {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	first := dayStart.AddDate(0, 0, -6)

	counts := make(map[string]int, 7)
	for i := range sessions {
		s := &sessions[i]
		if s.IsBot {
			continue
		}
		local := s.SessionStart.In(now.Location())
		if local.Before(first) || !local.Before(dayStart.Add(24*time.Hour)) {
			continue
		}
		counts[local.Format("2006-01-02")]++
	}

	out := make([]BucketCount, 0, 7)
	for d := 0; d < 7; d++ {
		day := first.AddDate(0, 0, d)
		key := day.Format("2006-01-02")
		out = append(out, BucketCount{Bucket: key, Count: counts[key]})
	}
	return out
}
