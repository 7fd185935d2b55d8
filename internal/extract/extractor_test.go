package extract

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
	"github.com/jdhollis/mssql-lake-migrate/internal/source"
	"github.com/jdhollis/mssql-lake-migrate/internal/watermark"
)

// fakeSource records the last query options and serves a canned dataset.
type fakeSource struct {
	data     *dataset.Dataset
	err      error
	lastOpts source.QueryOptions
	lastTbl  string
}

func (f *fakeSource) Query(_ context.Context, table string, opts source.QueryOptions) (*dataset.Dataset, error) {
	f.lastTbl = table
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeSource) Ping(context.Context) error { return nil }
func (f *fakeSource) Close() error               { return nil }

func salesTable() dataset.Table {
	return dataset.Table{Name: "fact_sales", BusinessKey: "sale_id", ChangeColumn: "last_modified"}
}

func salesData(changeTimes ...time.Time) *dataset.Dataset {
	ds := &dataset.Dataset{
		Columns: []dataset.Column{
			{Name: "sale_id", DataType: "BIGINT"},
			{Name: "last_modified", DataType: "DATETIME"},
		},
	}
	for i, ts := range changeTimes {
		ds.Rows = append(ds.Rows, []any{int64(i + 1), ts})
	}
	return ds
}

func newStore(t *testing.T) watermark.Store {
	t.Helper()
	return watermark.NewFileStore(filepath.Join(t.TempDir(), "wm.txt"))
}

func TestFullLoadHasNoPredicate(t *testing.T) {
	src := &fakeSource{data: salesData(time.Now())}
	e := New(src, newStore(t), 0)

	res, err := e.Extract(context.Background(), salesTable(), FullLoad)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if src.lastOpts.Since != nil {
		t.Error("full load must not carry a timestamp predicate")
	}
	if res.HasMax {
		t.Error("full load must not report a max change value")
	}
	if res.Data.RowCount() != 1 {
		t.Errorf("RowCount = %d", res.Data.RowCount())
	}
}

func TestIncrementalUsesSentinelOnFirstRun(t *testing.T) {
	src := &fakeSource{data: salesData()}
	e := New(src, newStore(t), 0)

	res, err := e.Extract(context.Background(), salesTable(), Incremental)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if src.lastOpts.Since == nil {
		t.Fatal("incremental load must carry a timestamp predicate")
	}
	if !watermark.IsSentinel(*src.lastOpts.Since) {
		t.Errorf("first run predicate = %v, want sentinel", *src.lastOpts.Since)
	}
	if src.lastOpts.OrderBy != "last_modified" {
		t.Errorf("OrderBy = %q", src.lastOpts.OrderBy)
	}
	if !watermark.IsSentinel(res.Watermark) {
		t.Errorf("result watermark = %v, want sentinel", res.Watermark)
	}
}

func TestIncrementalUsesStoredWatermark(t *testing.T) {
	marks := newStore(t)
	stored := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := marks.Set("fact_sales", stored); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{data: salesData()}
	e := New(src, marks, 0)

	if _, err := e.Extract(context.Background(), salesTable(), Incremental); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !src.lastOpts.Since.Equal(stored) {
		t.Errorf("predicate = %v, want %v", src.lastOpts.Since, stored)
	}
}

func TestIncrementalReportsMaxChange(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	src := &fakeSource{data: salesData(t1, t3, t2)} // out of order on purpose
	e := New(src, newStore(t), 0)

	res, err := e.Extract(context.Background(), salesTable(), Incremental)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.HasMax {
		t.Fatal("expected HasMax")
	}
	if !res.MaxChange.Equal(t3) {
		t.Errorf("MaxChange = %v, want %v", res.MaxChange, t3)
	}
}

func TestIncrementalMaxChangeFromStrings(t *testing.T) {
	ds := &dataset.Dataset{
		Columns: []dataset.Column{
			{Name: "sale_id", DataType: "BIGINT"},
			{Name: "last_modified", DataType: "VARCHAR"},
		},
		Rows: [][]any{
			{int64(1), "2024-06-01T10:00:00Z"},
			{int64(2), "2024-06-05 08:30:00"},
		},
	}
	src := &fakeSource{data: ds}
	e := New(src, newStore(t), 0)

	res, err := e.Extract(context.Background(), salesTable(), Incremental)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := time.Date(2024, 6, 5, 8, 30, 0, 0, time.UTC)
	if !res.MaxChange.Equal(want) {
		t.Errorf("MaxChange = %v, want %v", res.MaxChange, want)
	}
}

func TestEmptyBatchIsSuccess(t *testing.T) {
	src := &fakeSource{data: salesData()}
	e := New(src, newStore(t), 0)

	res, err := e.Extract(context.Background(), salesTable(), Incremental)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Data.RowCount() != 0 {
		t.Errorf("RowCount = %d, want 0", res.Data.RowCount())
	}
	if res.HasMax {
		t.Error("empty batch must not report a max change value")
	}
}

func TestMissingChangeColumnFails(t *testing.T) {
	ds := &dataset.Dataset{
		Columns: []dataset.Column{{Name: "sale_id", DataType: "BIGINT"}},
		Rows:    [][]any{{int64(1)}},
	}
	src := &fakeSource{data: ds}
	e := New(src, newStore(t), 0)

	if _, err := e.Extract(context.Background(), salesTable(), Incremental); err == nil {
		t.Fatal("expected error for missing change column")
	}
}

func TestQueryErrorPropagates(t *testing.T) {
	srcErr := errors.New("connection reset")
	src := &fakeSource{err: srcErr}
	e := New(src, newStore(t), 0)

	_, err := e.Extract(context.Background(), salesTable(), FullLoad)
	if !errors.Is(err, srcErr) {
		t.Errorf("err = %v, want wrapped %v", err, srcErr)
	}
}

func TestBatchSizeAppliesToIncrementalOnly(t *testing.T) {
	src := &fakeSource{data: salesData()}
	e := New(src, newStore(t), 250)

	if _, err := e.Extract(context.Background(), salesTable(), Incremental); err != nil {
		t.Fatal(err)
	}
	if src.lastOpts.Limit != 250 {
		t.Errorf("incremental Limit = %d, want 250", src.lastOpts.Limit)
	}

	// A capped full load would silently drop rows beyond the cap.
	if _, err := e.Extract(context.Background(), salesTable(), FullLoad); err != nil {
		t.Fatal(err)
	}
	if src.lastOpts.Limit != 0 {
		t.Errorf("full-load Limit = %d, want 0", src.lastOpts.Limit)
	}
}
