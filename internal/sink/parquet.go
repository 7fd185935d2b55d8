package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
)

const parquetConcurrency = 4

// buildParquetSchema renders the parquet-go JSON schema for a dataset.
// Every field is OPTIONAL since any source column may carry NULLs.
func buildParquetSchema(ds *dataset.Dataset) string {
	fields := make([]map[string]string, 0, len(ds.Columns))
	for _, c := range ds.Columns {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", c.Name, parquetPhysicalType(c.DataType)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// parquetPhysicalType maps a declared source type to a parquet physical
// type. Anything unrecognized lands as UTF8 text.
func parquetPhysicalType(dataType string) string {
	dt := strings.ToUpper(dataType)
	switch {
	case dt == "BOOLEAN" || dt == "BOOL" || dt == "BIT":
		return "BOOLEAN"
	case strings.Contains(dt, "INT"):
		return "INT64"
	case dt == "FLOAT" || dt == "REAL" || dt == "DOUBLE" ||
		strings.Contains(dt, "NUMERIC") || strings.Contains(dt, "DECIMAL") ||
		strings.Contains(dt, "NUMBER") || strings.Contains(dt, "MONEY"):
		return "DOUBLE"
	default:
		return "BYTE_ARRAY, convertedtype=UTF8"
	}
}

// writeParquet encodes the dataset into pf with snappy compression and
// returns the number of rows written.
func writeParquet(pf source.ParquetFile, ds *dataset.Dataset) (int64, error) {
	pw, err := writer.NewJSONWriter(buildParquetSchema(ds), pf, parquetConcurrency)
	if err != nil {
		return 0, fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var rows int64
	for _, row := range ds.Rows {
		encoded, err := encodeParquetRow(ds.Columns, row)
		if err != nil {
			_ = pw.WriteStop()
			return rows, err
		}
		if err := pw.Write(encoded); err != nil {
			_ = pw.WriteStop()
			return rows, fmt.Errorf("writing parquet row: %w", err)
		}
		rows++
	}
	if err := pw.WriteStop(); err != nil {
		return rows, fmt.Errorf("finalizing parquet file: %w", err)
	}
	return rows, nil
}

// encodeParquetRow renders one row as the JSON document the parquet writer
// consumes, converting values to the column's physical type.
func encodeParquetRow(cols []dataset.Column, row []any) (string, error) {
	doc := make(map[string]any, len(cols))
	for i, c := range cols {
		v, err := parquetValue(c, row[i])
		if err != nil {
			return "", err
		}
		doc[c.Name] = v
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding parquet row: %w", err)
	}
	return string(b), nil
}

func parquetValue(c dataset.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch parquetPhysicalType(c.DataType) {
	case "BOOLEAN":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case "INT64":
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		}
	case "DOUBLE":
		switch x := v.(type) {
		case float32:
			return float64(x), nil
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		}
	default:
		return dataset.CanonicalValue(v), nil
	}
	// Type drift between the declared column type and the runtime value;
	// fall back to the canonical string so no data is dropped.
	if s, ok := v.(string); ok {
		return s, nil
	}
	return nil, fmt.Errorf("column %s: cannot encode %T as %s", c.Name, v, parquetPhysicalType(c.DataType))
}

// readParquet decodes a full partition back into a dataset. Column names
// come from the file footer; values round-trip through JSON with numbers
// preserved as json.Number.
func readParquet(pf source.ParquetFile) (*dataset.Dataset, error) {
	pr, err := reader.NewParquetReader(pf, nil, parquetConcurrency)
	if err != nil {
		return nil, fmt.Errorf("opening parquet reader: %w", err)
	}
	defer pr.ReadStop()

	cols := footerColumns(pr)
	ds := &dataset.Dataset{Columns: cols}

	num := int(pr.GetNumRows())
	if num == 0 {
		return ds, nil
	}

	raw, err := pr.ReadByNumber(num)
	if err != nil {
		return nil, fmt.Errorf("reading parquet rows: %w", err)
	}

	for _, rec := range raw {
		doc, err := recordToMap(rec)
		if err != nil {
			return nil, err
		}
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = lookupField(doc, c.Name)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// footerColumns extracts the leaf column names and physical types from the
// file footer, preserving write order. The footer holds the Go-mangled
// field names, so each is mapped back to its external form.
func footerColumns(pr *reader.ParquetReader) []dataset.Column {
	var cols []dataset.Column
	for _, se := range pr.Footer.Schema {
		if se.NumChildren != nil && *se.NumChildren > 0 {
			continue // group node
		}
		dt := ""
		if se.Type != nil {
			dt = se.Type.String()
		}
		cols = append(cols, dataset.Column{Name: externalName(se.Name), DataType: dt})
	}
	return cols
}

// externalName reverses the Go-identifier transformation the writer applies
// to tag names: a leading non-letter is carried behind a generated prefix,
// and a leading lower-case letter is upper-cased. Columns land in the lake
// lower_snake_cased, so down-casing the first rune restores the original.
func externalName(in string) string {
	if trimmed := strings.TrimPrefix(in, "PARGO_PREFIX_"); trimmed != in {
		return trimmed
	}
	r := []rune(in)
	if len(r) > 0 {
		r[0] = unicode.ToLower(r[0])
	}
	return string(r)
}

// recordToMap converts one dynamically typed record from the reader into a
// key-value document. Numbers stay as json.Number so int64 values survive.
func recordToMap(rec any) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("decoding parquet record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding parquet record: %w", err)
	}
	return doc, nil
}

// lookupField finds a column's value in a decoded record. The reader
// exposes Go-identifier field names (first letter upper-cased, leading
// underscores carried behind a generated prefix), so matching is relaxed.
func lookupField(doc map[string]any, name string) any {
	if v, ok := doc[name]; ok {
		return v
	}
	for k, v := range doc {
		trimmed := strings.TrimPrefix(k, "PARGO_PREFIX_")
		if strings.EqualFold(trimmed, name) {
			return v
		}
	}
	return nil
}
