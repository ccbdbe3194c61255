package tabular

import (
	"fmt"
	"strings"
)

// Table is an in-memory tabular batch: one header and zero or more rows of
// the same width. Every cell is a string; typed interpretation happens at the
// consumer.
type Table struct {
	Columns []string
	Rows    [][]string
}

func New(columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// ColumnIndex returns the position of a column, or -1 when absent.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// RequireColumns verifies the header carries every named column. A miss is a
// structural failure for the whole file.
func (t *Table) RequireColumns(names ...string) error {
	missing := []string{}
	for _, n := range names {
		if !t.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("tabular: missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Get returns the cell at (row, column name), empty string when the column is
// absent.
func (t *Table) Get(row int, name string) string {
	i := t.ColumnIndex(name)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][i]
}

func (t *Table) AppendRow(row []string) {
	r := make([]string, len(t.Columns))
	copy(r, row)
	t.Rows = append(t.Rows, r)
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// RenameColumns rewrites header names in place according to the mapping.
// Unknown keys are ignored.
func (t *Table) RenameColumns(mapping map[string]string) {
	if len(mapping) == 0 {
		return
	}
	for i, c := range t.Columns {
		if renamed, ok := mapping[c]; ok && renamed != "" {
			t.Columns[i] = renamed
		}
	}
}

// DropColumns removes the named columns from the header and every row.
func (t *Table) DropColumns(names ...string) {
	if len(names) == 0 {
		return
	}
	drop := map[string]bool{}
	for _, n := range names {
		drop[n] = true
	}
	keep := []int{}
	cols := []string{}
	for i, c := range t.Columns {
		if drop[c] {
			continue
		}
		keep = append(keep, i)
		cols = append(cols, c)
	}
	rows := make([][]string, len(t.Rows))
	for ri, row := range t.Rows {
		nr := make([]string, len(keep))
		for j, i := range keep {
			nr[j] = row[i]
		}
		rows[ri] = nr
	}
	t.Columns = cols
	t.Rows = rows
}
