// Package sqlite implements the repository interfaces on an embedded
// SQLite store via database/sql.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/Datify-sh/Datify/internal/repository"
)

// timeLayout is the stored timestamp format. It matches the strftime
// pattern the schema defaults and triggers use, so string comparison
// orders rows chronologically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Repository implements persistence interfaces on SQLite.
type Repository struct {
	db *sql.DB
}

// New constructs a Repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for migration wiring.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository     = (*Repository)(nil)
	_ repository.ProjectRepository  = (*Repository)(nil)
	_ repository.DatabaseRepository = (*Repository)(nil)
	_ repository.MetricsRepository  = (*Repository)(nil)
	_ repository.TokenRepository    = (*Repository)(nil)
)

// Open opens (creating when absent) the state-store file with the pragmas
// every connection needs: WAL journaling, enforced foreign keys, a 30s busy
// timeout, and NORMAL synchronous mode.
func Open(databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("empty database url")
	}

	dsn := buildDSN(databaseURL)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return db, nil
}

// buildDSN normalizes the configured URL (plain path, file: URI, or
// sqlite:// URL) and appends the per-connection pragmas.
func buildDSN(databaseURL string) string {
	path := databaseURL
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	pragmas := []string{
		"_pragma=busy_timeout(30000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
		"_pragma=synchronous(NORMAL)",
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(pragmas, "&")
}

func isConstraintViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlitelib.SQLITE_CONSTRAINT
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err == nil {
		return t, nil
	}
	// Rows written by SQLite itself may carry more or fewer fractional
	// digits than the canonical layout.
	return time.Parse(time.RFC3339, raw)
}

func nullableTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(raw sql.NullString) *string {
	if !raw.Valid {
		return nil
	}
	s := raw.String
	return &s
}

func nullableInt(raw sql.NullInt64) *int {
	if !raw.Valid {
		return nil
	}
	v := int(raw.Int64)
	return &v
}
