// Package source provides read access to the migration source database.
// The DataSource interface is the narrow contract the pipeline depends on;
// SQLSource implements it for SQL Server and PostgreSQL.
package source

import (
	"context"
	"time"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
)

// QueryOptions narrows a table read.
type QueryOptions struct {
	// Since, when set, restricts the read to rows whose OrderBy column is
	// strictly greater than this timestamp, ordered ascending.
	Since *time.Time

	// OrderBy is the change-tracking column used with Since.
	OrderBy string

	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}

// DataSource is the external collaborator that yields table data.
type DataSource interface {
	// Query reads a table, optionally filtered and ordered per opts.
	Query(ctx context.Context, table string, opts QueryOptions) (*dataset.Dataset, error)

	// Ping verifies the connection is usable.
	Ping(ctx context.Context) error

	Close() error
}
