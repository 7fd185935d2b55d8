// Package report renders validation results as a Markdown document for
// operator review.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jdhollis/mssql-lake-migrate/internal/validate"
)

const maxListedKeys = 20

// Markdown renders one report per validated table into a single document.
// Tables are rendered in the order given.
func Markdown(reports []validate.Report) string {
	var b strings.Builder

	b.WriteString("# Data Validation Report\n\n")
	if len(reports) > 0 {
		b.WriteString(fmt.Sprintf("Generated: %s\n\n", reports[0].GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	}

	passed := 0
	for _, r := range reports {
		if r.Pass() {
			passed++
		}
	}
	b.WriteString(fmt.Sprintf("**Summary:** %d/%d tables passed\n\n", passed, len(reports)))

	b.WriteString("| Table | Row Count | Schema | Checksum | Nulls | Status |\n")
	b.WriteString("|-------|-----------|--------|----------|-------|--------|\n")
	for _, r := range reports {
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			r.Table,
			mark(r.RowCount.Pass), mark(r.Schema.Pass), mark(r.Checksum.Pass), mark(r.Nulls.Pass),
			status(r.Pass())))
	}
	b.WriteString("\n")

	for _, r := range reports {
		if r.Pass() {
			continue
		}
		writeDetail(&b, r)
	}

	return b.String()
}

func writeDetail(b *strings.Builder, r validate.Report) {
	fmt.Fprintf(b, "## %s\n\n", r.Table)

	if !r.RowCount.Pass {
		fmt.Fprintf(b, "- Row count mismatch: source %d, target %d\n",
			r.RowCount.SourceRows, r.RowCount.TargetRows)
	}
	if !r.Schema.Pass {
		if len(r.Schema.MissingInTarget) > 0 {
			fmt.Fprintf(b, "- Columns missing in target: %s\n", strings.Join(r.Schema.MissingInTarget, ", "))
		}
		if len(r.Schema.ExtraInTarget) > 0 {
			fmt.Fprintf(b, "- Extra columns in target: %s\n", strings.Join(r.Schema.ExtraInTarget, ", "))
		}
	}
	if !r.Checksum.Pass {
		fmt.Fprintf(b, "- Checksum mismatches: %d\n", r.Checksum.Mismatched)
		writeKeyList(b, "Missing in target", r.Checksum.MissingInTarget)
		writeKeyList(b, "Extra in target", r.Checksum.ExtraInTarget)
		writeDuplicates(b, "source", r.Checksum.DuplicateSourceKeys)
		writeDuplicates(b, "target", r.Checksum.DuplicateTargetKeys)
	}
	if !r.Nulls.Pass {
		for _, col := range sortedKeys(r.Nulls.NullCounts) {
			fmt.Fprintf(b, "- Null values in critical column %s: %d\n", col, r.Nulls.NullCounts[col])
		}
		if len(r.Nulls.MissingColumns) > 0 {
			fmt.Fprintf(b, "- Critical columns absent from target: %s\n", strings.Join(r.Nulls.MissingColumns, ", "))
		}
	}
	b.WriteString("\n")
}

func writeKeyList(b *strings.Builder, label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	shown := keys
	truncated := 0
	if len(shown) > maxListedKeys {
		truncated = len(shown) - maxListedKeys
		shown = shown[:maxListedKeys]
	}
	fmt.Fprintf(b, "  - %s: %s", label, strings.Join(shown, ", "))
	if truncated > 0 {
		fmt.Fprintf(b, " (and %d more)", truncated)
	}
	b.WriteString("\n")
}

func writeDuplicates(b *strings.Builder, side string, dups map[string]int) {
	for _, key := range sortedKeys(dups) {
		fmt.Fprintf(b, "  - Duplicate business key in %s: %s (%d rows)\n", side, key, dups[key])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mark(pass bool) string {
	if pass {
		return "✅"
	}
	return "❌"
}

func status(pass bool) string {
	if pass {
		return "PASSED"
	}
	return "FAILED"
}
