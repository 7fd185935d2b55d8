// Package watermark persists per-table high-water marks between runs.
// Two backends exist: an append-only text ledger (crash-safe appends,
// last-write-wins reads) and a SQLite store that keeps the latest value
// indexed per table.
package watermark

import "time"

// Sentinel is the watermark returned for a table that has never been
// migrated. Incremental extraction with the sentinel selects every row.
var Sentinel = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Store is the durable per-table high-water-mark ledger.
// Set is atomic per table record; concurrent table workers may call it
// without external locking.
type Store interface {
	// Get returns the most recently successfully set watermark for the
	// table, or Sentinel if none exists.
	Get(table string) (time.Time, error)

	// Set records a new watermark for the table. A failed Set must leave
	// any previously stored value readable.
	Set(table string, ts time.Time) error

	// List returns the effective watermark for every known table.
	List() (map[string]time.Time, error)

	Close() error
}

// IsSentinel reports whether ts is the never-migrated sentinel.
func IsSentinel(ts time.Time) bool {
	return ts.Equal(Sentinel)
}
