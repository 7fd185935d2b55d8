package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks migration progress across tables
type Tracker struct {
	bar       *progressbar.ProgressBar
	total     int64
	rows      atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	startTime time.Time
}

// New creates a new progress tracker
func New() *Tracker {
	return &Tracker{
		startTime: time.Now(),
	}
}

// SetTotal sets the total number of tables to migrate
func (t *Tracker) SetTotal(total int64) {
	t.total = total
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Migrating"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tables"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// AddRows records rows moved for the final throughput summary
func (t *Tracker) AddRows(n int64) {
	t.rows.Add(n)
}

// Rows returns the total rows moved so far
func (t *Tracker) Rows() int64 {
	return t.rows.Load()
}

// TableComplete marks one table as finished
func (t *Tracker) TableComplete() {
	t.completed.Add(1)
	if t.bar != nil {
		t.bar.Add64(1)
	}
}

// TableFailed marks one table as failed
func (t *Tracker) TableFailed() {
	t.failed.Add(1)
	if t.bar != nil {
		t.bar.Add64(1)
	}
}

// Finish closes the bar and prints the run summary
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	rows := t.rows.Load()
	rowsPerSec := float64(rows) / elapsed.Seconds()

	fmt.Println()
	fmt.Printf("Migrated %d tables (%d failed), %d rows in %s (%.0f rows/sec)\n",
		t.completed.Load(), t.failed.Load(), rows, elapsed.Round(time.Second), rowsPerSec)
}
