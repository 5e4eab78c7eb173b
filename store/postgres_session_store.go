package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"lendwise/api/models"
)

// PostgresSessionStore persists one row per session. Snapshot and sequence
// fields live in JSONB columns; everything the list filters touch is either a
// plain column or a JSONB key extraction.
//
// Expected schema:
//
//	CREATE TABLE sessions (
//	    session_id         TEXT PRIMARY KEY,
//	    visitor_id         TEXT NOT NULL,
//	    ip_address         TEXT NOT NULL DEFAULT '',
//	    user_agent         TEXT NOT NULL DEFAULT '',
//	    device             JSONB NOT NULL DEFAULT '{}',
//	    location           JSONB NOT NULL DEFAULT '{}',
//	    traffic_source     JSONB NOT NULL DEFAULT '{}',
//	    page_views         JSONB NOT NULL DEFAULT '[]',
//	    interactions       JSONB NOT NULL DEFAULT '[]',
//	    conversions        JSONB NOT NULL DEFAULT '[]',
//	    identity           JSONB,
//	    total_page_views   INTEGER NOT NULL DEFAULT 0,
//	    max_scroll_depth   INTEGER NOT NULL DEFAULT 0,
//	    total_time_seconds BIGINT NOT NULL DEFAULT 0,
//	    entry_page         TEXT NOT NULL DEFAULT '',
//	    exit_page          TEXT NOT NULL DEFAULT '',
//	    is_active          BOOLEAN NOT NULL DEFAULT TRUE,
//	    is_bot             BOOLEAN NOT NULL DEFAULT FALSE,
//	    identified         BOOLEAN NOT NULL DEFAULT FALSE,
//	    visitor_type       TEXT NOT NULL DEFAULT 'new',
//	    visit_count        INTEGER NOT NULL DEFAULT 1,
//	    session_start      TIMESTAMPTZ NOT NULL,
//	    session_end        TIMESTAMPTZ,
//	    first_visit        TIMESTAMPTZ NOT NULL,
//	    last_visit         TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_sessions_visitor ON sessions (visitor_id, session_start DESC, session_id DESC);
//	CREATE INDEX idx_sessions_start ON sessions (session_start DESC);
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

const sessionColumns = `
	session_id, visitor_id, ip_address, user_agent,
	device, location, traffic_source,
	page_views, interactions, conversions, identity,
	total_page_views, max_scroll_depth, total_time_seconds,
	entry_page, exit_page,
	is_active, is_bot, identified, visitor_type, visit_count,
	session_start, session_end, first_visit, last_visit`

func (s *PostgresSessionStore) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (s *PostgresSessionStore) LatestByVisitorID(ctx context.Context, visitorID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE visitor_id = $1
		ORDER BY session_start DESC, session_id DESC
		LIMIT 1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, visitorID))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest session for visitor %s: %w", visitorID, err)
	}
	return sess, nil
}

// Upsert writes the full record. The ON CONFLICT update deliberately leaves
// session_start, first_visit, visit_count and visitor_type untouched so a
// concurrent creator losing the insert race cannot rewrite creation-derived
// fields.
func (s *PostgresSessionStore) Upsert(ctx context.Context, sess *models.Session) error {
	device, err := json.Marshal(sess.Device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	location, err := json.Marshal(sess.Location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}
	traffic, err := json.Marshal(sess.TrafficSource)
	if err != nil {
		return fmt.Errorf("failed to marshal traffic source: %w", err)
	}
	pageViews, err := json.Marshal(sess.PageViews)
	if err != nil {
		return fmt.Errorf("failed to marshal page views: %w", err)
	}
	interactions, err := json.Marshal(sess.Interactions)
	if err != nil {
		return fmt.Errorf("failed to marshal interactions: %w", err)
	}
	conversions, err := json.Marshal(sess.Conversions)
	if err != nil {
		return fmt.Errorf("failed to marshal conversions: %w", err)
	}
	var identity []byte
	if sess.Identity != nil {
		identity, err = json.Marshal(sess.Identity)
		if err != nil {
			return fmt.Errorf("failed to marshal identity: %w", err)
		}
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (session_id) DO UPDATE SET
			visitor_id = EXCLUDED.visitor_id,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			device = EXCLUDED.device,
			location = EXCLUDED.location,
			traffic_source = EXCLUDED.traffic_source,
			page_views = EXCLUDED.page_views,
			interactions = EXCLUDED.interactions,
			conversions = EXCLUDED.conversions,
			identity = EXCLUDED.identity,
			total_page_views = EXCLUDED.total_page_views,
			max_scroll_depth = GREATEST(sessions.max_scroll_depth, EXCLUDED.max_scroll_depth),
			total_time_seconds = EXCLUDED.total_time_seconds,
			entry_page = EXCLUDED.entry_page,
			exit_page = EXCLUDED.exit_page,
			is_active = EXCLUDED.is_active,
			is_bot = EXCLUDED.is_bot,
			identified = EXCLUDED.identified,
			session_end = COALESCE(sessions.session_end, EXCLUDED.session_end),
			last_visit = EXCLUDED.last_visit`

	_, err = s.db.ExecContext(ctx, query,
		sess.SessionID, sess.VisitorID, sess.IPAddress, sess.UserAgent,
		device, location, traffic,
		pageViews, interactions, conversions, identity,
		sess.TotalPageViews, sess.MaxScrollDepth, sess.TotalTimeOnSiteSeconds,
		sess.EntryPage, sess.ExitPage,
		sess.IsActive, sess.IsBot, sess.Identified, sess.VisitorType, sess.VisitCount,
		sess.SessionStart, sess.SessionEnd, sess.FirstVisit, sess.LastVisit,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *PostgresSessionStore) List(ctx context.Context, f SessionFilter) ([]models.Session, int, error) {
	where, args := buildSessionWhere(f)

	var total int
	countQuery := `SELECT count(*) FROM sessions` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions` + where +
		` ORDER BY session_start DESC, session_id DESC`
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		args = append(args, f.Limit, (page-1)*f.Limit)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (s *PostgresSessionStore) ListActive(ctx context.Context, now time.Time, window time.Duration) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE is_active = TRUE AND last_visit > $1
		ORDER BY session_start DESC, session_id DESC`
	rows, err := s.db.QueryContext(ctx, query, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func buildSessionWhere(f SessionFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Start != nil {
		add("session_start >= $%d", *f.Start)
	}
	if f.End != nil {
		add("session_start < $%d", *f.End)
	}
	if f.DeviceType != "" {
		add("device->>'type' = $%d", f.DeviceType)
	}
	if f.Country != "" {
		add("location->>'country' = $%d", f.Country)
	}
	if f.Source != "" {
		add("traffic_source->>'source' = $%d", f.Source)
	}
	if f.VisitorType != "" {
		add("visitor_type = $%d", f.VisitorType)
	}
	if f.IsBot != nil {
		add("is_bot = $%d", *f.IsBot)
	}
	if f.Identified != nil {
		add("identified = $%d", *f.Identified)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var device, location, traffic, pageViews, interactions, conversions []byte
	var identity sql.NullString
	var sessionEnd sql.NullTime

	err := row.Scan(
		&sess.SessionID, &sess.VisitorID, &sess.IPAddress, &sess.UserAgent,
		&device, &location, &traffic,
		&pageViews, &interactions, &conversions, &identity,
		&sess.TotalPageViews, &sess.MaxScrollDepth, &sess.TotalTimeOnSiteSeconds,
		&sess.EntryPage, &sess.ExitPage,
		&sess.IsActive, &sess.IsBot, &sess.Identified, &sess.VisitorType, &sess.VisitCount,
		&sess.SessionStart, &sessionEnd, &sess.FirstVisit, &sess.LastVisit,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(device, &sess.Device); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device: %w", err)
	}
	if err := json.Unmarshal(location, &sess.Location); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	if err := json.Unmarshal(traffic, &sess.TrafficSource); err != nil {
		return nil, fmt.Errorf("failed to unmarshal traffic source: %w", err)
	}
	if err := json.Unmarshal(pageViews, &sess.PageViews); err != nil {
		return nil, fmt.Errorf("failed to unmarshal page views: %w", err)
	}
	if err := json.Unmarshal(interactions, &sess.Interactions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interactions: %w", err)
	}
	if err := json.Unmarshal(conversions, &sess.Conversions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversions: %w", err)
	}
	if identity.Valid && identity.String != "" {
		if err := json.Unmarshal([]byte(identity.String), &sess.Identity); err != nil {
			return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
		}
	}
	if sessionEnd.Valid {
		end := sessionEnd.Time
		sess.SessionEnd = &end
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]models.Session, error) {
	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error while listing sessions: %w", err)
	}
	return out, nil
}
