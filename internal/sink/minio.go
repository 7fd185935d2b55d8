package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/writerfile"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
	"github.com/jdhollis/mssql-lake-migrate/internal/logging"
)

// MinioConfig holds the connection settings for an object-store sink.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	BasePrefix string
	UseSSL     bool
}

// MinioSink writes partitions into an S3-compatible object store.
type MinioSink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioSink connects to the object store and verifies the bucket
// exists.
func NewMinioSink(ctx context.Context, cfg MinioConfig) (*MinioSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s not found", cfg.Bucket)
	}

	return &MinioSink{client: client, bucket: cfg.Bucket, prefix: cfg.BasePrefix}, nil
}

// WritePartition encodes the dataset into a buffer and uploads it in one
// put, so a failed upload leaves no partial object behind.
func (s *MinioSink) WritePartition(ctx context.Context, ds *dataset.Dataset, p string) (string, error) {
	buf := &bytes.Buffer{}
	pf := writerfile.NewWriterFile(buf)

	rows, err := writeParquet(pf, ds)
	if closeErr := pf.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}

	key := s.key(p)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("uploading partition %s: %w", key, err)
	}

	location := fmt.Sprintf("minio://%s/%s", s.bucket, key)
	logging.Debug("Wrote %d rows to %s", rows, location)
	return location, nil
}

// ReadPartition downloads and decodes the partition at path.
func (s *MinioSink) ReadPartition(ctx context.Context, p string) (*dataset.Dataset, error) {
	key := s.key(p)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching partition %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("reading partition %s: %w", key, err)
	}

	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, fmt.Errorf("opening partition %s: %w", key, err)
	}
	defer pf.Close()
	return readParquet(pf)
}

// List returns all parquet object paths under prefix, relative to the
// sink's base prefix, in lexical order.
func (s *MinioSink) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	if full != "" && !strings.HasSuffix(full, "/") {
		full += "/"
	}

	var paths []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    full,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing partitions under %s: %w", prefix, obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".parquet") {
			continue
		}
		rel := strings.TrimPrefix(obj.Key, s.prefixWithSlash())
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *MinioSink) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

func (s *MinioSink) prefixWithSlash() string {
	if s.prefix == "" {
		return ""
	}
	return strings.TrimSuffix(s.prefix, "/") + "/"
}
