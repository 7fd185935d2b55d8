package watermark

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// FileStore is an append-only ledger of `table=RFC3339` lines.
// Appends never rewrite prior records, so a crash mid-write can at worst
// produce a torn final line, which reads skip. The latest well-formed
// record per table wins.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a ledger at path. The file is created lazily on the
// first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get resolves the last well-formed record for the table.
func (s *FileStore) Get(table string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marks, err := s.readAll()
	if err != nil {
		return Sentinel, err
	}
	if ts, ok := marks[table]; ok {
		return ts, nil
	}
	return Sentinel, nil
}

// Set appends a new record and syncs it to disk.
func (s *FileStore) Set(table string, ts time.Time) error {
	if strings.ContainsAny(table, "=\n") {
		return fmt.Errorf("invalid table name %q for watermark ledger", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening watermark ledger: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s=%s\n", table, ts.UTC().Format(time.RFC3339Nano))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending watermark record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing watermark ledger: %w", err)
	}
	return nil
}

// List returns the effective watermark per table.
func (s *FileStore) List() (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

// Close is a no-op; the ledger holds no open handles between calls.
func (s *FileStore) Close() error {
	return nil
}

// readAll scans the full ledger and resolves last-write-wins per table.
// Malformed lines (torn appends, unparsable timestamps) are skipped.
func (s *FileStore) readAll() (map[string]time.Time, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("opening watermark ledger: %w", err)
	}
	defer f.Close()

	marks := make(map[string]time.Time)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, raw, ok := strings.Cut(line, "=")
		if !ok || name == "" {
			continue
		}
		ts, err := parseTimestamp(raw)
		if err != nil {
			continue
		}
		marks[name] = ts
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading watermark ledger: %w", err)
	}
	return marks, nil
}

// parseTimestamp accepts the formats the ledger has historically carried:
// RFC3339 with or without sub-second precision, and the bare ISO date-time
// form without a zone (interpreted as UTC).
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable watermark timestamp %q", s)
}
