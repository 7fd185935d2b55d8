package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
	"github.com/jdhollis/mssql-lake-migrate/internal/dbconfig"
	"github.com/jdhollis/mssql-lake-migrate/internal/logging"
)

// SQLSource reads tables through database/sql with dialect-aware quoting.
type SQLSource struct {
	db     *sql.DB
	dbType string
	schema string
}

// Connect opens a connection pool against the configured source.
func Connect(ctx context.Context, cfg *dbconfig.SourceConfig, maxConns int) (*SQLSource, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening source connection: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to source %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	logging.Info("Connected to source: %s.%s", cfg.Host, cfg.Database)

	return &SQLSource{db: db, dbType: cfg.Type, schema: cfg.Schema}, nil
}

// Ping verifies the pool is still usable.
func (s *SQLSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// Query reads the table into memory. With opts.Since set, only rows whose
// change-tracking column is strictly newer are returned, in ascending
// change order so the caller can derive the new watermark from the batch.
func (s *SQLSource) Query(ctx context.Context, table string, opts QueryOptions) (*dataset.Dataset, error) {
	query, args := s.buildQuery(table, opts)
	logging.Debug("Source query: %s", strings.Join(strings.Fields(query), " "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	return scanDataset(rows, table)
}

func (s *SQLSource) buildQuery(table string, opts QueryOptions) (string, []any) {
	from := s.quote(s.schema) + "." + s.quote(table)

	if opts.Since == nil {
		if opts.Limit > 0 && s.dbType == dbconfig.TypeMSSQL {
			return fmt.Sprintf("SELECT TOP %d * FROM %s", opts.Limit, from), nil
		}
		q := "SELECT * FROM " + from
		if opts.Limit > 0 {
			q += fmt.Sprintf(" LIMIT %d", opts.Limit)
		}
		return q, nil
	}

	col := s.quote(opts.OrderBy)
	if s.dbType == dbconfig.TypeMSSQL {
		q := "SELECT"
		if opts.Limit > 0 {
			q += fmt.Sprintf(" TOP %d", opts.Limit)
		}
		q += fmt.Sprintf(" * FROM %s WHERE %s > @p1 ORDER BY %s ASC", from, col, col)
		return q, []any{sql.Named("p1", opts.Since.UTC())}
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s > $1 ORDER BY %s ASC", from, col, col)
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return q, []any{opts.Since.UTC()}
}

func (s *SQLSource) quote(ident string) string {
	if s.dbType == dbconfig.TypeMSSQL {
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// scanDataset materializes a sql.Rows result into a Dataset, preserving
// column order and declared database types.
func scanDataset(rows *sql.Rows, table string) (*dataset.Dataset, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading column types of %s: %w", table, err)
	}

	ds := &dataset.Dataset{Columns: make([]dataset.Column, len(cols))}
	for i, name := range cols {
		ds.Columns[i] = dataset.Column{Name: name, DataType: types[i].DatabaseTypeName()}
	}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row of %s: %w", table, err)
		}
		for i, v := range values {
			// Drivers return text columns as []byte; normalize so the
			// rest of the pipeline sees one representation.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		ds.Rows = append(ds.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows of %s: %w", table, err)
	}
	return ds, nil
}
