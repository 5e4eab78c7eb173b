package store

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"lendwise/api/database"
	"lendwise/api/models"
	"lendwise/api/utils"
)

// EventArchive appends raw tracking events to ClickHouse and serves the
// interval-bucketed archive queries. Writes are best-effort from the caller's
// point of view: ingest treats an archive failure as log-and-continue.
type EventArchive struct {
	DB *database.ClickHouseClient
}

// CountByTime is one bucket of an over-time archive query.
type CountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewEventArchive(chClient *database.ClickHouseClient) *EventArchive {
	return &EventArchive{DB: chClient}
}

func (a *EventArchive) InsertEvents(ctx context.Context, events []models.ArchiveEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Column names and order must match the tracking_events table schema.
	batch, err := a.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO tracking_events (
			event_id, event_type, session_id, visitor_id, timestamp, page_url, referrer,
			user_agent, ip_address, device_type, browser, country, source,
			time_spent_seconds, scroll_depth, event_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.EventID,
			event.EventType,
			event.SessionID,
			event.VisitorID,
			event.Timestamp,
			event.PageURL,
			event.Referrer,
			event.UserAgent,
			event.IPAddress,
			event.DeviceType,
			event.Browser,
			event.Country,
			event.Source,
			event.TimeSpentSeconds,
			event.ScrollDepth,
			event.EventData,
		)
		if err != nil {
			log.Printf("Error appending event to batch (EventID: %s): %v", event.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (a *EventArchive) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]CountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	var args []interface{}
	args = append(args, start, end)

	selectCols := fmt.Sprintf("toStartOf%s(timestamp) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tracking_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := a.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []CountByTime
	for rows.Next() {
		var (
			timeBucket  time.Time
			count       uint64
			eventTypeDB string
			current     CountByTime
		)

		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				log.Printf("Error scanning row for event counts over time (with type filter): %v", err)
				continue
			}
			current.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				log.Printf("Error scanning row for event counts over time (no type filter): %v", err)
				continue
			}
		}

		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	return results, nil
}

func (a *EventArchive) GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]CountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(visitor_id) AS unique_visitors
		FROM tracking_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := a.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique visitors over time: %w", err)
	}
	defer rows.Close()

	var results []CountByTime
	for rows.Next() {
		var timeBucket time.Time
		var uniqueVisitors uint64
		if err := rows.Scan(&timeBucket, &uniqueVisitors); err != nil {
			log.Printf("Error scanning row for unique visitors: %v", err)
			continue
		}
		results = append(results, CountByTime{
			Time:  timeBucket,
			Count: uniqueVisitors,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique visitors: %w", err)
	}

	return results, nil
}

func (a *EventArchive) GetTopPagePaths(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT page_url, count() as view_count
		FROM tracking_events
		WHERE event_type = 'pageview' AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_url
		ORDER BY view_count DESC
		LIMIT ?
	`
	rows, err := a.DB.Conn.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var pagePath string
		var count uint64
		if err := rows.Scan(&pagePath, &count); err != nil {
			log.Printf("Error scanning row for top page paths: %v", err)
			continue
		}
		results = append(results, models.TopPathResult{
			PagePath: pagePath,
			Count:    count,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}

	return results, nil
}

// GetAverageTimeSpent averages per-event time_spent_seconds over the archive,
// optionally restricted to one event type. ClickHouse's avg() yields NaN on an
// empty match, which JSON cannot carry, so that collapses to 0.
func (a *EventArchive) GetAverageTimeSpent(ctx context.Context, eventTypeFilter string, start, end time.Time) (float64, error) {
	query := `SELECT avg(time_spent_seconds) FROM tracking_events WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{start, end}

	if eventTypeFilter != "" {
		query += ` AND event_type = ?`
		args = append(args, eventTypeFilter)
	}

	var avg float64
	err := a.DB.Conn.QueryRow(ctx, query, args...).Scan(&avg)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return 0.0, nil
		}
		return 0.0, fmt.Errorf("failed to query average time spent: %w", err)
	}

	if math.IsNaN(avg) {
		return 0.0, nil
	}

	return avg, nil
}
