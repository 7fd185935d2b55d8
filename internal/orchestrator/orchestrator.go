// Package orchestrator wires the extract, transform, and load stages into
// per-table migration runs and drives post-migration validation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jdhollis/mssql-lake-migrate/internal/config"
	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
	"github.com/jdhollis/mssql-lake-migrate/internal/extract"
	"github.com/jdhollis/mssql-lake-migrate/internal/load"
	"github.com/jdhollis/mssql-lake-migrate/internal/logging"
	"github.com/jdhollis/mssql-lake-migrate/internal/progress"
	"github.com/jdhollis/mssql-lake-migrate/internal/sink"
	"github.com/jdhollis/mssql-lake-migrate/internal/source"
	"github.com/jdhollis/mssql-lake-migrate/internal/transform"
	"github.com/jdhollis/mssql-lake-migrate/internal/validate"
	"github.com/jdhollis/mssql-lake-migrate/internal/watermark"
)

// Stage names identifying where in the pipeline a table failed.
const (
	StageConnect   = "connect"
	StageExtract   = "extract"
	StageTransform = "transform"
	StageLoad      = "load"
	StageWatermark = "watermark"
	StageValidate  = "validate"
)

// StageError wraps a failure with the table and pipeline stage it occurred
// in.
type StageError struct {
	Table string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("table %s: %s: %v", e.Table, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// TableFailure records one table that did not migrate.
type TableFailure struct {
	Table string
	Err   error
}

// RunResult summarizes one migration run.
type RunResult struct {
	BatchID  string
	Tables   int
	Rows     int64
	Failures []TableFailure
	Duration time.Duration
}

// job pairs a table with its load mode.
type job struct {
	table dataset.Table
	mode  extract.Mode
}

// Orchestrator runs migrations for the configured tables.
type Orchestrator struct {
	cfg         *config.Config
	src         source.DataSource
	marks       watermark.Store
	loader      *load.Loader
	extractor   *extract.Extractor
	transformer *transform.Transformer
	tracker     *progress.Tracker
}

// New connects to the source, opens the watermark store and the lake sink,
// and returns a ready Orchestrator. Close releases the connections.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	src, err := source.Connect(ctx, &cfg.Source, cfg.Migration.Workers)
	if err != nil {
		return nil, &StageError{Stage: StageConnect, Err: err}
	}

	marks, err := openWatermarkStore(cfg)
	if err != nil {
		src.Close()
		return nil, err
	}

	dataSink, err := openSink(ctx, cfg)
	if err != nil {
		src.Close()
		marks.Close()
		return nil, err
	}

	return &Orchestrator{
		cfg:         cfg,
		src:         src,
		marks:       marks,
		loader:      load.New(dataSink, cfg.Lake.Layer),
		extractor:   extract.New(src, marks, cfg.Migration.BatchSize),
		transformer: transform.New(cfg.Migration.SourceSystem),
		tracker:     progress.New(),
	}, nil
}

func openWatermarkStore(cfg *config.Config) (watermark.Store, error) {
	switch cfg.Watermark.Backend {
	case "sqlite":
		return watermark.NewSQLiteStore(cfg.Watermark.Path)
	default:
		return watermark.NewFileStore(cfg.Watermark.Path), nil
	}
}

func openSink(ctx context.Context, cfg *config.Config) (sink.DataSink, error) {
	if cfg.Lake.Sink == "minio" {
		return sink.NewMinioSink(ctx, sink.MinioConfig{
			Endpoint:   cfg.Lake.Minio.Endpoint,
			AccessKey:  cfg.Lake.Minio.AccessKey,
			SecretKey:  cfg.Lake.Minio.SecretKey,
			Bucket:     cfg.Lake.Minio.Bucket,
			BasePrefix: cfg.Lake.Minio.BasePrefix,
			UseSSL:     cfg.Lake.Minio.UseSSL,
		})
	}
	return sink.NewLocalSink(cfg.Lake.Root), nil
}

// Close releases the source connection and the watermark store.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.src != nil {
		errs = append(errs, o.src.Close())
	}
	if o.marks != nil {
		errs = append(errs, o.marks.Close())
	}
	return errors.Join(errs...)
}

// Run migrates the configured tables with a bounded worker pool. Tables
// fail independently; the run succeeds partially and reports failures per
// table. only restricts the run to the named tables when non-empty.
func (o *Orchestrator) Run(ctx context.Context, only []string) (*RunResult, error) {
	jobs, err := o.buildJobs(only)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logging.Info("Starting migration run %s: %d tables, %d workers",
		o.transformer.BatchID(), len(jobs), o.cfg.Migration.Workers)
	o.tracker.SetTotal(int64(len(jobs)))

	sem := make(chan struct{}, o.cfg.Migration.Workers)
	var wg sync.WaitGroup
	errCh := make(chan TableFailure, len(jobs))

	for _, j := range jobs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := o.migrateTable(ctx, j.table, j.mode); err != nil {
				logging.Error("Table %s failed: %v", j.table.Name, err)
				errCh <- TableFailure{Table: j.table.Name, Err: err}
				o.tracker.TableFailed()
				return
			}
			o.tracker.TableComplete()
		}(j)
	}

	wg.Wait()
	close(errCh)

	result := &RunResult{
		BatchID:  o.transformer.BatchID(),
		Tables:   len(jobs),
		Duration: time.Since(start),
	}
	for f := range errCh {
		if errors.Is(f.Err, context.Canceled) || errors.Is(f.Err, context.DeadlineExceeded) {
			return nil, context.Canceled
		}
		result.Failures = append(result.Failures, f)
	}
	sort.Slice(result.Failures, func(i, k int) bool {
		return result.Failures[i].Table < result.Failures[k].Table
	})
	result.Rows = o.tracker.Rows()

	o.tracker.Finish()
	logging.Info("Migration run %s finished: %d/%d tables succeeded",
		result.BatchID, result.Tables-len(result.Failures), result.Tables)
	return result, nil
}

// buildJobs resolves the configured table groups, optionally filtered to
// the named tables.
func (o *Orchestrator) buildJobs(only []string) ([]job, error) {
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	var jobs []job
	add := func(tables []dataset.Table, mode extract.Mode) {
		for _, t := range tables {
			if len(wanted) > 0 && !wanted[t.Name] {
				continue
			}
			delete(wanted, t.Name)
			jobs = append(jobs, job{table: t, mode: mode})
		}
	}
	add(o.cfg.Tables.FullLoad, extract.FullLoad)
	add(o.cfg.Tables.Incremental, extract.Incremental)

	for name := range wanted {
		return nil, fmt.Errorf("table %s is not configured", name)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no tables to migrate")
	}
	return jobs, nil
}

// migrateTable runs one table through extract, transform, and load, then
// advances the watermark.
func (o *Orchestrator) migrateTable(ctx context.Context, table dataset.Table, mode extract.Mode) error {
	extractCtx := ctx
	if o.cfg.Migration.QueryTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, o.cfg.Migration.QueryTimeout)
		defer cancel()
	}

	res, err := o.extractor.Extract(extractCtx, table, mode)
	if err != nil {
		return &StageError{Table: table.Name, Stage: StageExtract, Err: err}
	}

	if res.Data.RowCount() == 0 {
		// Nothing new. The watermark stays put so the next run retries
		// the same window.
		logging.Info("No rows to migrate for %s", table.Name)
		return nil
	}

	out := o.transformer.Apply(res.Data)

	window := load.FullWindow()
	if mode == extract.Incremental {
		window = load.IncrementalWindow(res.Watermark, res.MaxChange)
	}
	if _, err := o.loader.Write(ctx, out, table.Name, window, time.Now()); err != nil {
		return &StageError{Table: table.Name, Stage: StageLoad, Err: err}
	}
	o.tracker.AddRows(int64(out.RowCount()))

	// The watermark only moves after a successful load, and only in
	// incremental mode. A failed write above means the next run re-reads
	// the same window.
	if mode == extract.Incremental && res.HasMax {
		if err := o.marks.Set(table.Name, res.MaxChange); err != nil {
			// The data landed; a stale watermark only causes the next run
			// to re-extract rows the deterministic partition name will
			// overwrite.
			logging.Warn("Failed to advance watermark for %s: %v", table.Name, err)
		} else {
			logging.Info("Advanced watermark for %s to %s",
				table.Name, res.MaxChange.Format(time.RFC3339))
		}
	}
	return nil
}

// Validate re-extracts every configured table from the source and compares
// it against the latest landed partition. only restricts validation to the
// named tables when non-empty.
func (o *Orchestrator) Validate(ctx context.Context, only []string) ([]validate.Report, error) {
	jobs, err := o.buildJobs(only)
	if err != nil {
		return nil, err
	}

	reports := make([]validate.Report, 0, len(jobs))
	for _, j := range jobs {
		rep, err := o.validateTable(ctx, j.table, j.mode)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (o *Orchestrator) validateTable(ctx context.Context, table dataset.Table, mode extract.Mode) (validate.Report, error) {
	rep := validate.Report{Table: table.Name, GeneratedAt: time.Now().UTC()}
	keyColumn := transform.NormalizeColumnName(table.BusinessKey)

	src, err := o.src.Query(ctx, table.Name, source.QueryOptions{})
	if err != nil {
		return rep, &StageError{Table: table.Name, Stage: StageValidate, Err: err}
	}
	comparable := transform.Comparable(src)

	// A full-load table is wholly contained in its newest partition; an
	// incremental table is spread across one partition per extraction
	// window, so every window is read and merged.
	var target *dataset.Dataset
	if mode == extract.Incremental {
		target, err = o.mergedPartitions(ctx, table.Name, keyColumn)
	} else {
		target, err = o.latestPartition(ctx, table.Name)
	}
	if err != nil {
		return rep, &StageError{Table: table.Name, Stage: StageValidate, Err: err}
	}

	rep.RowCount = validate.RowCounts(comparable.RowCount(), target.RowCount())
	rep.Schema = validate.Schemas(comparable.Columns, target.Columns)

	criticalColumns := make([]string, len(table.CriticalColumns))
	for i, c := range table.CriticalColumns {
		criticalColumns[i] = transform.NormalizeColumnName(c)
	}
	rep.Nulls = validate.Nulls(target, criticalColumns)

	rep.Checksum, err = validate.Checksums(comparable, target, keyColumn)
	if err != nil {
		return rep, &StageError{Table: table.Name, Stage: StageValidate, Err: err}
	}

	logging.Info("Validated %s: %v", table.Name, rep.Pass())
	return rep, nil
}

// latestPartition reads the most recently landed partition of a table,
// lineage stripped. Partition paths embed the load date, so the lexically
// greatest path is the newest.
func (o *Orchestrator) latestPartition(ctx context.Context, table string) (*dataset.Dataset, error) {
	paths, err := o.tablePartitions(ctx, table)
	if err != nil {
		return nil, err
	}
	ds, err := o.loader.Sink().ReadPartition(ctx, paths[len(paths)-1])
	if err != nil {
		return nil, err
	}
	return stripLineage(ds), nil
}

// mergedPartitions reads every landed window of an incremental table into
// one dataset, lineage stripped. Rows are deduplicated by RowKey: after a
// failed watermark advance the next window overlaps the previous one and
// lands the same logical rows in a second object.
func (o *Orchestrator) mergedPartitions(ctx context.Context, table, keyColumn string) (*dataset.Dataset, error) {
	paths, err := o.tablePartitions(ctx, table)
	if err != nil {
		return nil, err
	}

	var merged *dataset.Dataset
	seen := make(map[string]bool)
	for _, p := range paths {
		part, err := o.loader.Sink().ReadPartition(ctx, p)
		if err != nil {
			return nil, err
		}
		part = stripLineage(part)
		if merged == nil {
			merged = &dataset.Dataset{Columns: part.Columns}
		}

		keyIdx := merged.ColumnIndex(keyColumn)
		colIdx := make([]int, len(merged.Columns))
		for i, c := range merged.Columns {
			colIdx[i] = part.ColumnIndex(c.Name)
		}
		for _, row := range part.Rows {
			aligned := make([]any, len(merged.Columns))
			for i, j := range colIdx {
				if j >= 0 {
					aligned[i] = row[j]
				}
			}
			if keyIdx >= 0 {
				rk := dataset.RowKey(aligned[keyIdx], aligned)
				if seen[rk] {
					continue
				}
				seen[rk] = true
			}
			merged.Rows = append(merged.Rows, aligned)
		}
	}
	return merged, nil
}

// tablePartitions lists a table's landed partitions in lexical (oldest to
// newest) order.
func (o *Orchestrator) tablePartitions(ctx context.Context, table string) ([]string, error) {
	paths, err := o.loader.Sink().List(ctx, o.loader.TablePrefix(table))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no partitions found for %s", table)
	}
	sort.Strings(paths)
	return paths, nil
}

// stripLineage removes the migration metadata columns so landed data can
// be compared against a fresh source extract.
func stripLineage(ds *dataset.Dataset) *dataset.Dataset {
	lineage := make(map[string]bool, len(transform.LineageColumns))
	for _, c := range transform.LineageColumns {
		lineage[c] = true
	}

	keep := make([]int, 0, len(ds.Columns))
	out := &dataset.Dataset{}
	for i, c := range ds.Columns {
		if lineage[c.Name] {
			continue
		}
		keep = append(keep, i)
		out.Columns = append(out.Columns, c)
	}

	out.Rows = make([][]any, len(ds.Rows))
	for i, row := range ds.Rows {
		stripped := make([]any, len(keep))
		for k, idx := range keep {
			stripped[k] = row[idx]
		}
		out.Rows[i] = stripped
	}
	return out
}

// Watermarks lists the stored per-table watermarks.
func (o *Orchestrator) Watermarks() (map[string]time.Time, error) {
	return o.marks.List()
}

// ResetWatermark rewinds a table to the sentinel so the next incremental
// run re-extracts everything.
func (o *Orchestrator) ResetWatermark(table string) error {
	if err := o.marks.Set(table, watermark.Sentinel); err != nil {
		return &StageError{Table: table, Stage: StageWatermark, Err: err}
	}
	logging.Info("Reset watermark for %s", table)
	return nil
}
