package features

import (
	"math"
)

// Record is one raw candidate row keyed by column name. A column missing from
// the map is absent; a column holding NaN is present with a missing value.
type Record map[string]float64

// Table is a column-ordered, row-major numeric table.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]float64
}

// NewTable creates an empty table with the given column order.
func NewTable(columns []string) *Table {
	t := &Table{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	copy(t.columns, columns)
	for i, c := range columns {
		t.index[c] = i
	}
	return t
}

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Has reports whether the column exists.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// AppendRow adds a row; values must follow the column order.
func (t *Table) AppendRow(values []float64) {
	row := make([]float64, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []float64 {
	out := make([]float64, len(t.rows[i]))
	copy(out, t.rows[i])
	return out
}

// Value returns the cell at row i, column name, or NaN if the column is unknown.
func (t *Table) Value(i int, column string) float64 {
	j, ok := t.index[column]
	if !ok {
		return math.NaN()
	}
	return t.rows[i][j]
}

// Column returns a copy of the named column.
func (t *Table) Column(column string) []float64 {
	j, ok := t.index[column]
	if !ok {
		return nil
	}
	out := make([]float64, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[j]
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := NewTable(t.columns)
	c.rows = make([][]float64, len(t.rows))
	for i, r := range t.rows {
		c.rows[i] = make([]float64, len(r))
		copy(c.rows[i], r)
	}
	return c
}

// WithColumns returns a copy with extra columns appended, initialised to NaN.
func (t *Table) WithColumns(extra ...string) *Table {
	cols := append(t.Columns(), extra...)
	c := NewTable(cols)
	c.rows = make([][]float64, len(t.rows))
	for i, r := range t.rows {
		row := make([]float64, len(cols))
		copy(row, r)
		for j := len(r); j < len(cols); j++ {
			row[j] = math.NaN()
		}
		c.rows[i] = row
	}
	return c
}

// Without returns a copy with the given rows removed.
func (t *Table) Without(drop map[int]bool) *Table {
	c := NewTable(t.columns)
	for i, r := range t.rows {
		if drop[i] {
			continue
		}
		c.AppendRow(r)
	}
	return c
}

// Select projects the table onto columns in the given order. Columns the
// table lacks are returned in missing and the projection is nil.
func (t *Table) Select(columns []string) (*Table, []string) {
	var missing []string
	pos := make([]int, len(columns))
	for k, c := range columns {
		j, ok := t.index[c]
		if !ok {
			missing = append(missing, c)
			continue
		}
		pos[k] = j
	}
	if len(missing) > 0 {
		return nil, missing
	}

	out := NewTable(columns)
	out.rows = make([][]float64, len(t.rows))
	for i, r := range t.rows {
		row := make([]float64, len(columns))
		for k, j := range pos {
			row[k] = r[j]
		}
		out.rows[i] = row
	}
	return out, nil
}

func (t *Table) set(i int, column string, v float64) {
	t.rows[i][t.index[column]] = v
}
