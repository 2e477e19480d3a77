package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultLimit bounds Recent when the caller passes a non-positive limit.
const DefaultLimit = 100

// SQLite is a Journal backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the journal database at dsn.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	j := &SQLite{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

func (j *SQLite) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			consumer TEXT NOT NULL,
			provider TEXT NOT NULL,
			descriptor TEXT NOT NULL,
			outcome TEXT NOT NULL,
			status INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL,
			error TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_provider ON exchanges(provider)`,
	}

	for _, stmt := range statements {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts e, assigning an ID and timestamp when they are unset.
func (j *SQLite) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, consumer, provider, descriptor, outcome, status, attempts, duration_ns, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Consumer, e.Provider, e.Descriptor, string(e.Outcome), e.Status, e.Attempts,
		int64(e.Duration), errText, e.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, consumer, provider, descriptor, outcome, status, attempts, duration_ns, error, created_at
		 FROM exchanges ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			outcome  string
			duration int64
			errText  sql.NullString
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.Consumer, &e.Provider, &e.Descriptor, &outcome, &e.Status,
			&e.Attempts, &duration, &errText, &created); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.Duration = time.Duration(duration)
		e.Error = errText.String
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (j *SQLite) Close() error {
	return j.db.Close()
}
