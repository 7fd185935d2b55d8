// Package sink writes encoded partitions into the destination data lake
// and reads them back for validation. Two backends exist: local filesystem
// and a MinIO/S3-compatible object store. Both encode partitions as
// snappy-compressed parquet.
package sink

import (
	"context"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
)

// DataSink is the external collaborator that persists partitions.
// Paths are slash-separated and relative to the sink's root.
type DataSink interface {
	// WritePartition encodes the dataset at path, creating intermediate
	// partitions as needed, and returns the absolute location written.
	WritePartition(ctx context.Context, ds *dataset.Dataset, path string) (string, error)

	// ReadPartition decodes a previously written partition.
	ReadPartition(ctx context.Context, path string) (*dataset.Dataset, error)

	// List returns the paths of all partition objects under prefix,
	// relative to the sink root.
	List(ctx context.Context, prefix string) ([]string, error)
}
