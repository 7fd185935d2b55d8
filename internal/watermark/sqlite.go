package watermark

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per table, replaced atomically on Set.
// It avoids the full-ledger scan the file backend pays on every read.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) a watermark database at
// path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening watermark database: %w", err)
	}

	// Serialized writes; the upsert below must not interleave.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS watermarks (
			table_name TEXT PRIMARY KEY,
			ts         TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing watermark schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the stored watermark or Sentinel when none exists.
func (s *SQLiteStore) Get(table string) (time.Time, error) {
	var raw string
	err := s.db.QueryRow(`SELECT ts FROM watermarks WHERE table_name = ?`, table).Scan(&raw)
	if err == sql.ErrNoRows {
		return Sentinel, nil
	}
	if err != nil {
		return Sentinel, fmt.Errorf("reading watermark for %s: %w", table, err)
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return Sentinel, fmt.Errorf("reading watermark for %s: %w", table, err)
	}
	return ts, nil
}

// Set replaces the table's watermark in a single upsert.
func (s *SQLiteStore) Set(table string, ts time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO watermarks (table_name, ts, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			ts = excluded.ts,
			updated_at = excluded.updated_at
	`, table, ts.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing watermark for %s: %w", table, err)
	}
	return nil
}

// List returns every stored watermark.
func (s *SQLiteStore) List() (map[string]time.Time, error) {
	rows, err := s.db.Query(`SELECT table_name, ts FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("listing watermarks: %w", err)
	}
	defer rows.Close()

	marks := make(map[string]time.Time)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("listing watermarks: %w", err)
		}
		ts, err := parseTimestamp(raw)
		if err != nil {
			continue
		}
		marks[name] = ts
	}
	return marks, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
