// Package validate implements the post-migration consistency checks:
// row counts, schema equivalence, critical-column nulls, and row-level
// checksum comparison. Checks are pure functions of their inputs;
// mismatches are results, never errors.
package validate

import (
	"fmt"
	"sort"
	"time"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
)

// RowCountResult reports whether source and target row counts match.
type RowCountResult struct {
	Pass       bool `json:"pass"`
	SourceRows int  `json:"source_rows"`
	TargetRows int  `json:"target_rows"`
}

// RowCounts compares source and target row counts.
func RowCounts(source, target int) RowCountResult {
	return RowCountResult{
		Pass:       source == target,
		SourceRows: source,
		TargetRows: target,
	}
}

// SchemaResult reports column-name set differences between source and
// target.
type SchemaResult struct {
	Pass            bool     `json:"pass"`
	MissingInTarget []string `json:"missing_in_target,omitempty"`
	ExtraInTarget   []string `json:"extra_in_target,omitempty"`
}

// Schemas compares the sets of column names. Declared types are not
// compared; the lake encoding widens types by design.
func Schemas(source, target []dataset.Column) SchemaResult {
	sourceSet := make(map[string]bool, len(source))
	for _, c := range source {
		sourceSet[c.Name] = true
	}
	targetSet := make(map[string]bool, len(target))
	for _, c := range target {
		targetSet[c.Name] = true
	}

	var missing, extra []string
	for name := range sourceSet {
		if !targetSet[name] {
			missing = append(missing, name)
		}
	}
	for name := range targetSet {
		if !sourceSet[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)

	return SchemaResult{
		Pass:            len(missing) == 0 && len(extra) == 0,
		MissingInTarget: missing,
		ExtraInTarget:   extra,
	}
}

// NullResult reports critical columns carrying nulls.
type NullResult struct {
	Pass bool `json:"pass"`

	// NullCounts maps each offending column to its null count. Columns
	// with zero nulls are omitted.
	NullCounts map[string]int `json:"null_counts,omitempty"`

	// MissingColumns lists configured critical columns absent from the
	// dataset; their nulls cannot be counted, so their presence fails
	// the check.
	MissingColumns []string `json:"missing_columns,omitempty"`
}

// Nulls counts null values per critical column in the candidate dataset.
func Nulls(ds *dataset.Dataset, criticalColumns []string) NullResult {
	res := NullResult{Pass: true}

	for _, name := range criticalColumns {
		values, ok := ds.Column(name)
		if !ok {
			res.MissingColumns = append(res.MissingColumns, name)
			res.Pass = false
			continue
		}
		count := 0
		for _, v := range values {
			if v == nil {
				count++
			}
		}
		if count > 0 {
			if res.NullCounts == nil {
				res.NullCounts = make(map[string]int)
			}
			res.NullCounts[name] = count
			res.Pass = false
		}
	}
	return res
}

// ChecksumResult reports row-level divergence between source and target.
type ChecksumResult struct {
	Pass bool `json:"pass"`

	// Mismatched is the size of the symmetric difference between the two
	// RowKey sets.
	Mismatched int `json:"mismatched"`

	// MissingInTarget and ExtraInTarget hold the offending RowKeys for
	// diagnosis, sorted.
	MissingInTarget []string `json:"missing_in_target,omitempty"`
	ExtraInTarget   []string `json:"extra_in_target,omitempty"`

	// DuplicateSourceKeys and DuplicateTargetKeys map duplicated
	// business key values to their occurrence counts. Duplicates would
	// silently collapse under set comparison, so they fail the check.
	DuplicateSourceKeys map[string]int `json:"duplicate_source_keys,omitempty"`
	DuplicateTargetKeys map[string]int `json:"duplicate_target_keys,omitempty"`
}

// Checksums compares the two datasets as sets of RowKeys (business key +
// content fingerprint). Any changed value alters the fingerprint and makes
// the row's key appear on exactly one side, so the check catches missing,
// extra, and modified rows alike, independent of row order.
//
// The error return signals misuse (the key column absent from a dataset),
// not a data mismatch.
func Checksums(source, target *dataset.Dataset, keyColumn string) (ChecksumResult, error) {
	sourceKeys, sourceDups, err := keySet(source, keyColumn)
	if err != nil {
		return ChecksumResult{}, fmt.Errorf("source: %w", err)
	}
	targetKeys, targetDups, err := keySet(target, keyColumn)
	if err != nil {
		return ChecksumResult{}, fmt.Errorf("target: %w", err)
	}

	var missing, extra []string
	for key := range sourceKeys {
		if !targetKeys[key] {
			missing = append(missing, key)
		}
	}
	for key := range targetKeys {
		if !sourceKeys[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)

	res := ChecksumResult{
		Mismatched:          len(missing) + len(extra),
		MissingInTarget:     missing,
		ExtraInTarget:       extra,
		DuplicateSourceKeys: sourceDups,
		DuplicateTargetKeys: targetDups,
	}
	res.Pass = res.Mismatched == 0 && len(sourceDups) == 0 && len(targetDups) == 0
	return res, nil
}

// keySet collects the RowKey set of a dataset and the duplicate business
// key counts.
func keySet(ds *dataset.Dataset, keyColumn string) (map[string]bool, map[string]int, error) {
	keyIdx := ds.ColumnIndex(keyColumn)
	if keyIdx < 0 {
		return nil, nil, fmt.Errorf("key column %s not found", keyColumn)
	}

	keys := make(map[string]bool, len(ds.Rows))
	business := make(map[string]int, len(ds.Rows))
	for _, row := range ds.Rows {
		keys[dataset.RowKey(row[keyIdx], row)] = true
		business[dataset.CanonicalValue(row[keyIdx])]++
	}

	var dups map[string]int
	for k, n := range business {
		if n > 1 {
			if dups == nil {
				dups = make(map[string]int)
			}
			dups[k] = n
		}
	}
	return keys, dups, nil
}

// Report aggregates the four checks for one table. Overall status is the
// conjunction of all of them.
type Report struct {
	Table       string         `json:"table"`
	RowCount    RowCountResult `json:"row_count"`
	Schema      SchemaResult   `json:"schema"`
	Checksum    ChecksumResult `json:"checksum"`
	Nulls       NullResult     `json:"nulls"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Pass reports whether every check passed.
func (r *Report) Pass() bool {
	return r.RowCount.Pass && r.Schema.Pass && r.Checksum.Pass && r.Nulls.Pass
}
