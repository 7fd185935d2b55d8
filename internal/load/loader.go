// Package load writes transformed datasets into the lake's partition
// layout.
package load

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
	"github.com/jdhollis/mssql-lake-migrate/internal/logging"
	"github.com/jdhollis/mssql-lake-migrate/internal/sink"
)

// Window identifies the slice of source data a partition object carries.
// It names the object deterministically, so re-running the same window
// after a partial failure overwrites the previous attempt instead of
// duplicating rows beside it.
type Window struct {
	From time.Time
	To   time.Time
	Full bool
}

// FullWindow is the window for a full table load.
func FullWindow() Window {
	return Window{Full: true}
}

// IncrementalWindow covers rows changed after from, up to and including
// to.
func IncrementalWindow(from, to time.Time) Window {
	return Window{From: from, To: to}
}

// String renders the window as an object-name fragment.
func (w Window) String() string {
	if w.Full {
		return "full"
	}
	const layout = "20060102T150405Z"
	return w.From.UTC().Format(layout) + "-" + w.To.UTC().Format(layout)
}

// Loader places datasets into layered, date-partitioned lake paths.
type Loader struct {
	sink  sink.DataSink
	layer string
}

// New creates a Loader writing into the given layer.
func New(s sink.DataSink, layer string) *Loader {
	return &Loader{sink: s, layer: layer}
}

// Write lands the dataset for table under
// {layer}/{table}/{yyyy}/{mm}/{dd}/{table}-{window}.parquet and returns
// the written location. Failure is fatal to the table's migration attempt
// and is surfaced to the caller unretried.
func (l *Loader) Write(ctx context.Context, ds *dataset.Dataset, table string, w Window, asOf time.Time) (string, error) {
	p := PartitionPath(l.layer, table, w, asOf)

	location, err := l.sink.WritePartition(ctx, ds, p)
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", table, err)
	}

	logging.Info("Loaded %d rows to %s", ds.RowCount(), location)
	return location, nil
}

// TablePrefix returns the lake prefix holding every partition of a table.
func (l *Loader) TablePrefix(table string) string {
	return path.Join(l.layer, table)
}

// Sink exposes the underlying sink for read-back during validation.
func (l *Loader) Sink() sink.DataSink {
	return l.sink
}

// PartitionPath builds the partition object path for one load.
func PartitionPath(layer, table string, w Window, asOf time.Time) string {
	day := asOf.UTC()
	return path.Join(
		layer,
		table,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d", day.Day()),
		fmt.Sprintf("%s-%s.parquet", table, w),
	)
}
