package validate

import (
	"testing"
	"time"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
)

func customerDataset() *dataset.Dataset {
	return &dataset.Dataset{
		Columns: []dataset.Column{
			{Name: "customer_id", DataType: "BIGINT"},
			{Name: "name", DataType: "VARCHAR"},
			{Name: "balance", DataType: "DECIMAL"},
		},
		Rows: [][]any{
			{int64(1), "Ada", 10.5},
			{int64(2), "Grace", 20.0},
			{int64(3), "Edsger", nil},
		},
	}
}

// shuffled returns the same rows in a different order.
func shuffled(ds *dataset.Dataset) *dataset.Dataset {
	out := ds.Clone()
	out.Rows = [][]any{ds.Rows[2], ds.Rows[0], ds.Rows[1]}
	return out
}

func TestRowCounts(t *testing.T) {
	if r := RowCounts(100, 100); !r.Pass {
		t.Error("equal counts must pass")
	}
	r := RowCounts(100, 99)
	if r.Pass {
		t.Error("unequal counts must fail")
	}
	if r.SourceRows != 100 || r.TargetRows != 99 {
		t.Errorf("counts = %d/%d", r.SourceRows, r.TargetRows)
	}
}

func TestSchemasEqualSetsPassRegardlessOfOrder(t *testing.T) {
	source := []dataset.Column{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	target := []dataset.Column{{Name: "c"}, {Name: "a"}, {Name: "b"}}

	if r := Schemas(source, target); !r.Pass {
		t.Errorf("reordered identical schemas must pass: %+v", r)
	}
}

func TestSchemasReportDifferences(t *testing.T) {
	source := []dataset.Column{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	target := []dataset.Column{{Name: "b"}, {Name: "d"}}

	r := Schemas(source, target)
	if r.Pass {
		t.Fatal("differing schemas must fail")
	}
	if len(r.MissingInTarget) != 2 || r.MissingInTarget[0] != "a" || r.MissingInTarget[1] != "c" {
		t.Errorf("MissingInTarget = %v", r.MissingInTarget)
	}
	if len(r.ExtraInTarget) != 1 || r.ExtraInTarget[0] != "d" {
		t.Errorf("ExtraInTarget = %v", r.ExtraInTarget)
	}
}

func TestNulls(t *testing.T) {
	ds := customerDataset()

	r := Nulls(ds, []string{"customer_id", "name"})
	if !r.Pass {
		t.Errorf("columns without nulls must pass: %+v", r)
	}

	r = Nulls(ds, []string{"balance"})
	if r.Pass {
		t.Fatal("null in critical column must fail")
	}
	if r.NullCounts["balance"] != 1 {
		t.Errorf("NullCounts = %v, want balance:1", r.NullCounts)
	}

	r = Nulls(ds, []string{"no_such_column"})
	if r.Pass {
		t.Error("missing critical column must fail")
	}
	if len(r.MissingColumns) != 1 || r.MissingColumns[0] != "no_such_column" {
		t.Errorf("MissingColumns = %v", r.MissingColumns)
	}
}

func TestChecksumsIdenticalSetsPassAnyOrder(t *testing.T) {
	source := customerDataset()
	target := shuffled(source)

	r, err := Checksums(source, target, "customer_id")
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	if !r.Pass || r.Mismatched != 0 {
		t.Errorf("identical sets in different order must pass: %+v", r)
	}
}

func TestChecksumsMissingRow(t *testing.T) {
	source := customerDataset()
	target := source.Clone()
	target.Rows = target.Rows[:2]

	r, err := Checksums(source, target, "customer_id")
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	if r.Pass {
		t.Fatal("missing row must fail")
	}
	if r.Mismatched != 1 || len(r.MissingInTarget) != 1 || len(r.ExtraInTarget) != 0 {
		t.Errorf("removing one row must produce a difference of exactly 1: %+v", r)
	}
}

func TestChecksumsChangedValue(t *testing.T) {
	source := customerDataset()
	target := source.Clone()
	target.Rows[1][2] = 21.0

	r, err := Checksums(source, target, "customer_id")
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	if r.Pass {
		t.Fatal("changed value must fail")
	}
	// The old fingerprint is missing from the target and the new one is
	// extra, so a single changed value shows up on both sides.
	if r.Mismatched != 2 || len(r.MissingInTarget) != 1 || len(r.ExtraInTarget) != 1 {
		t.Errorf("changing one value must produce a difference of exactly 2: %+v", r)
	}
}

func TestChecksumsDuplicateBusinessKeysFail(t *testing.T) {
	source := customerDataset()
	source.Rows = append(source.Rows, []any{int64(1), "Ada II", 99.0})
	target := source.Clone()

	r, err := Checksums(source, target, "customer_id")
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	if r.Pass {
		t.Fatal("duplicate business keys must fail even when both sides agree")
	}
	if r.DuplicateSourceKeys["1"] != 2 || r.DuplicateTargetKeys["1"] != 2 {
		t.Errorf("duplicates = %v / %v", r.DuplicateSourceKeys, r.DuplicateTargetKeys)
	}
}

func TestChecksumsMissingKeyColumn(t *testing.T) {
	source := customerDataset()
	target := source.Clone()

	if _, err := Checksums(source, target, "uuid"); err == nil {
		t.Error("absent key column must be an error, not a result")
	}
}

func TestReportPass(t *testing.T) {
	r := Report{
		Table:       "dim_customer",
		RowCount:    RowCountResult{Pass: true},
		Schema:      SchemaResult{Pass: true},
		Checksum:    ChecksumResult{Pass: true},
		Nulls:       NullResult{Pass: true},
		GeneratedAt: time.Now(),
	}
	if !r.Pass() {
		t.Error("all checks passing must pass the report")
	}

	r.Checksum.Pass = false
	if r.Pass() {
		t.Error("one failing check must fail the report")
	}
}
