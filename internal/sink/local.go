package sink

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
	"github.com/jdhollis/mssql-lake-migrate/internal/logging"
)

// LocalSink writes partitions under a root directory on the local
// filesystem.
type LocalSink struct {
	root string
}

// NewLocalSink creates a sink rooted at dir.
func NewLocalSink(dir string) *LocalSink {
	return &LocalSink{root: dir}
}

// WritePartition encodes the dataset to root/path, creating the partition
// directory if absent.
func (s *LocalSink) WritePartition(ctx context.Context, ds *dataset.Dataset, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating partition directory: %w", err)
	}

	pf, err := local.NewLocalFileWriter(full)
	if err != nil {
		return "", fmt.Errorf("creating partition file: %w", err)
	}

	rows, err := writeParquet(pf, ds)
	if closeErr := pf.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing partition file: %w", closeErr)
	}
	if err != nil {
		// A partial file at a deterministic path would be picked up by
		// the next read; remove it so the failure is clean.
		os.Remove(full)
		return "", err
	}

	logging.Debug("Wrote %d rows to %s", rows, full)
	return full, nil
}

// ReadPartition decodes the partition at root/path.
func (s *LocalSink) ReadPartition(ctx context.Context, path string) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := filepath.Join(s.root, filepath.FromSlash(path))
	pf, err := local.NewLocalFileReader(full)
	if err != nil {
		return nil, fmt.Errorf("opening partition %s: %w", path, err)
	}
	defer pf.Close()

	return readParquet(pf)
}

// List walks root/prefix and returns all parquet object paths relative to
// the root, in lexical order.
func (s *LocalSink) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := filepath.Join(s.root, filepath.FromSlash(prefix))
	var paths []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".parquet") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing partitions under %s: %w", prefix, err)
	}
	return paths, nil
}
