// Package transform normalizes extracted datasets for the lake: canonical
// column names, best-effort timestamp coercion, and lineage metadata.
package transform

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
	"github.com/jdhollis/mssql-lake-migrate/internal/logging"
)

// Lineage column names stamped on every migrated row.
const (
	ColIngestionTimestamp = "_ingestion_timestamp"
	ColSourceSystem       = "_source_system"
	ColMigrationBatchID   = "_migration_batch_id"
)

// LineageColumns lists the metadata columns the transformer appends, in
// order.
var LineageColumns = []string{ColIngestionTimestamp, ColSourceSystem, ColMigrationBatchID}

// Transformer applies the lake normalization to datasets. One Transformer
// spans one pipeline invocation; every table it touches shares the same
// batch ID.
type Transformer struct {
	sourceSystem string
	batchID      string
	now          func() time.Time
}

// New creates a Transformer with a fresh batch ID. The ID is time-derived
// for operator legibility, with a UUID suffix so concurrent invocations in
// the same second cannot collide.
func New(sourceSystem string) *Transformer {
	return &Transformer{
		sourceSystem: sourceSystem,
		batchID:      time.Now().UTC().Format("20060102150405") + "-" + uuid.NewString()[:8],
		now:          time.Now,
	}
}

// BatchID returns this invocation's batch identifier.
func (t *Transformer) BatchID() string {
	return t.batchID
}

// Apply returns a new dataset with normalized column names, coerced
// timestamp columns, and lineage columns appended. The input is not
// modified.
func (t *Transformer) Apply(ds *dataset.Dataset) *dataset.Dataset {
	out := Comparable(ds)

	ingested := t.now().UTC()
	out.Columns = append(out.Columns,
		dataset.Column{Name: ColIngestionTimestamp, DataType: "TIMESTAMP"},
		dataset.Column{Name: ColSourceSystem, DataType: "VARCHAR"},
		dataset.Column{Name: ColMigrationBatchID, DataType: "VARCHAR"},
	)
	for i, row := range out.Rows {
		out.Rows[i] = append(row, ingested, t.sourceSystem, t.batchID)
	}
	return out
}

// Comparable applies only the content-changing steps (name normalization
// and timestamp coercion), without lineage. Validation uses it to bring a
// source dataset into the same shape as landed data.
func Comparable(ds *dataset.Dataset) *dataset.Dataset {
	out := ds.Clone()
	for i := range out.Columns {
		out.Columns[i].Name = NormalizeColumnName(out.Columns[i].Name)
	}
	coerceTimestampColumns(out)
	return out
}

// NormalizeColumnName converts a column name to the canonical destination
// form: lower case, spaces to underscores, all other non-word characters
// dropped.
func NormalizeColumnName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r == ' ':
			sb.WriteRune('_')
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// coerceTimestampColumns reinterprets textual columns as timestamps where
// every value parses. The coercion is all-or-nothing per column; a single
// unparsable value leaves the column untouched. Failures are non-fatal.
func coerceTimestampColumns(ds *dataset.Dataset) {
	for idx, col := range ds.Columns {
		if !isTextual(col.DataType) {
			continue
		}
		converted, ok := tryParseColumn(ds, idx)
		if !ok {
			continue
		}
		logging.Debug("Coerced column %s to timestamp", col.Name)
		ds.Columns[idx].DataType = "TIMESTAMP"
		for i := range ds.Rows {
			ds.Rows[i][idx] = converted[i]
		}
	}
}

func isTextual(dataType string) bool {
	dt := strings.ToUpper(dataType)
	if dt == "" {
		return true
	}
	for _, marker := range []string{"CHAR", "TEXT", "CLOB", "STRING"} {
		if strings.Contains(dt, marker) {
			return true
		}
	}
	return false
}

// tryParseColumn parses every non-null value of a column as a timestamp.
// Returns the converted values only if all of them parse and at least one
// non-null value exists.
func tryParseColumn(ds *dataset.Dataset, idx int) ([]any, bool) {
	converted := make([]any, len(ds.Rows))
	any := false
	for i, row := range ds.Rows {
		v := row[idx]
		if v == nil {
			converted[i] = nil
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		ts, ok := parseTimestamp(s)
		if !ok {
			return nil, false
		}
		converted[i] = ts
		any = true
	}
	return converted, any
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
