package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"lendwise/api/database"
	"lendwise/api/models"
)

// ErrSessionNotFound is returned by lookups that matched no session.
var ErrSessionNotFound = errors.New("session not found")

// SessionFilter restricts a session listing. Nil/zero fields are ignored.
// Date bounds apply to sessionStart as a half-open [Start, End) range.
type SessionFilter struct {
	Start       *time.Time
	End         *time.Time
	DeviceType  string
	Country     string
	Source      string
	VisitorType string
	IsBot       *bool
	Identified  *bool

	// Page is 1-based; Limit <= 0 disables pagination entirely (used by the
	// aggregation engine, which needs the whole filtered slice).
	Page  int
	Limit int
}

// SessionStore is the durable keyed storage of session records. Upsert for a
// given sessionId must be effectively atomic: two concurrent first-writes for
// the same new sessionId must collapse into one record.
type SessionStore interface {
	// GetBySessionID returns the session or ErrSessionNotFound.
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)

	// LatestByVisitorID returns the most recent session for a visitor,
	// ordered by sessionStart descending with sessionId descending as the
	// stable tie-break, or ErrSessionNotFound.
	LatestByVisitorID(ctx context.Context, visitorID string) (*models.Session, error)

	// Upsert writes the full record, creating it if absent. sessionStart,
	// firstVisit, visitCount and visitorType are creation-time fields and
	// are never overwritten by a losing concurrent creator.
	Upsert(ctx context.Context, s *models.Session) error

	// List returns matching sessions sorted by sessionStart descending,
	// plus the total match count for pagination.
	List(ctx context.Context, f SessionFilter) ([]models.Session, int, error)

	// ListActive returns sessions satisfying the liveness predicate
	// isActive && now-lastVisit < window.
	ListActive(ctx context.Context, now time.Time, window time.Duration) ([]models.Session, error)
}

// NewSessionStoreFromEnv selects the session store backend. Postgres is the
// default; SESSION_STORE=memory keeps everything in-process for local
// development without a database.
func NewSessionStoreFromEnv(dbClient *database.DBClient) (SessionStore, error) {
	switch backend := os.Getenv("SESSION_STORE"); backend {
	case "", "postgres":
		if dbClient == nil {
			return nil, fmt.Errorf("postgres session store requires a database connection")
		}
		return NewPostgresSessionStore(dbClient.DB), nil
	case "memory":
		return NewMemorySessionStore(), nil
	default:
		return nil, fmt.Errorf("unknown SESSION_STORE backend: %s", backend)
	}
}
