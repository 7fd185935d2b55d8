// Package dataset defines the in-memory tabular data model shared by the
// extract, transform, load, and validation stages.
package dataset

// Table describes a migratable source table.
type Table struct {
	Name            string   `yaml:"name" json:"name"`
	BusinessKey     string   `yaml:"business_key" json:"business_key"`
	ChangeColumn    string   `yaml:"change_column" json:"change_column"`
	CriticalColumns []string `yaml:"critical_columns" json:"critical_columns"`
}

// Column describes a single column's name and declared type.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// Dataset is an ordered sequence of rows sharing one schema.
// Row values are positionally aligned with Columns.
type Dataset struct {
	Columns []Column
	Rows    [][]any
}

// RowCount returns the number of rows.
func (d *Dataset) RowCount() int {
	return len(d.Rows)
}

// ColumnNames returns the column names in schema order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column, or -1 if absent.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns all values of the named column in row order.
// The second return value is false if the column does not exist.
func (d *Dataset) Column(name string) ([]any, bool) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	values := make([]any, len(d.Rows))
	for i, row := range d.Rows {
		values[i] = row[idx]
	}
	return values, true
}

// Clone returns a deep copy of the dataset's structure. Row values are
// copied by reference; they are treated as immutable throughout the
// pipeline.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: make([]Column, len(d.Columns)),
		Rows:    make([][]any, len(d.Rows)),
	}
	copy(out.Columns, d.Columns)
	for i, row := range d.Rows {
		out.Rows[i] = make([]any, len(row))
		copy(out.Rows[i], row)
	}
	return out
}
