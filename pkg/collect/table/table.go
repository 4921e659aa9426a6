// Package table provides the tabular structures produced by a sweep
// collection. A Table has a fixed, ordered column set and an ordered
// sequence of immutable rows. Tables are assembled with a Builder and are
// read-only once built.
package table

import (
	"errors"
	"fmt"
)

// Identity columns appended to every collected table.
const (
	ColumnRunID = "run_id"
	ColumnName  = "name"
)

// Table kinds.
const (
	KindConfig  = "config"
	KindResults = "results"
)

// ErrColumnCount is returned when a row does not match the table width.
var ErrColumnCount = errors.New("row does not match column count")

// ErrDuplicateColumn is returned when a column name repeats.
var ErrDuplicateColumn = errors.New("duplicate column")

// Row is one immutable table row. Cells are positional and follow the
// owning table's column order. A nil cell is null.
type Row struct {
	cells []any
}

// Len returns the number of cells.
func (r Row) Len() int {
	return len(r.cells)
}

// Cell returns the cell at index i.
func (r Row) Cell(i int) any {
	return r.cells[i]
}

// Cells returns a copy of the row's cells.
func (r Row) Cells() []any {
	out := make([]any, len(r.cells))
	copy(out, r.cells)
	return out
}

// Table is an ordered sequence of rows under a fixed column set.
type Table struct {
	name    string
	columns []string
	index   map[string]int
	rows    []Row
}

// Name returns the table name (KindConfig, KindResults, or a caller-chosen name).
func (t *Table) Name() string {
	return t.name
}

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.columns)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns row i.
func (t *Table) Row(i int) Row {
	return t.rows[i]
}

// Rows returns the rows in order. The returned slice must not be modified.
func (t *Table) Rows() []Row {
	return t.rows
}

// ColumnIndex returns the position of column name, or -1 when absent.
func (t *Table) ColumnIndex(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Value returns the cell at row i under the named column.
// The boolean is false when the column does not exist.
func (t *Table) Value(i int, column string) (any, bool) {
	c := t.ColumnIndex(column)
	if c < 0 {
		return nil, false
	}
	return t.rows[i].cells[c], true
}

// Strings returns the header followed by every row with cells encoded by
// FormatCell. This is the exact text content of a CSV export.
func (t *Table) Strings() [][]string {
	out := make([][]string, 0, len(t.rows)+1)
	out = append(out, t.Columns())
	for _, row := range t.rows {
		out = append(out, row.Strings())
	}
	return out
}

// Strings returns the row's cells encoded by FormatCell.
func (r Row) Strings() []string {
	out := make([]string, len(r.cells))
	for i, c := range r.cells {
		out[i] = FormatCell(c)
	}
	return out
}

// Builder accumulates rows for a table. Rows are appended in order and a
// Table is produced once by Build.
type Builder struct {
	name    string
	columns []string
	index   map[string]int
	rows    []Row
	built   bool
}

// NewBuilder creates a builder for a table with the given columns.
func NewBuilder(name string, columns []string) (*Builder, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c)
		}
		index[c] = i
	}

	cols := make([]string, len(columns))
	copy(cols, columns)

	return &Builder{
		name:    name,
		columns: cols,
		index:   index,
	}, nil
}

// Columns returns a copy of the builder's column names.
func (b *Builder) Columns() []string {
	out := make([]string, len(b.columns))
	copy(out, b.columns)
	return out
}

// Append adds a row. cells must have one value per column.
// The slice is copied so the caller may reuse it.
func (b *Builder) Append(cells []any) error {
	if b.built {
		return errors.New("builder already finalized")
	}
	if len(cells) != len(b.columns) {
		return fmt.Errorf("%w: got %d cells, want %d", ErrColumnCount, len(cells), len(b.columns))
	}
	row := make([]any, len(cells))
	copy(row, cells)
	b.rows = append(b.rows, Row{cells: row})
	return nil
}

// AppendMap adds a row from a column -> value mapping. Columns missing from
// values become null; keys that are not columns are ignored.
func (b *Builder) AppendMap(values map[string]any) error {
	cells := make([]any, len(b.columns))
	for name, v := range values {
		if i, ok := b.index[name]; ok {
			cells[i] = v
		}
	}
	return b.Append(cells)
}

// Len returns the number of rows appended so far.
func (b *Builder) Len() int {
	return len(b.rows)
}

// Build finalizes the table. The builder cannot be used afterwards.
func (b *Builder) Build() *Table {
	b.built = true
	return &Table{
		name:    b.name,
		columns: b.columns,
		index:   b.index,
		rows:    b.rows,
	}
}

// Bundle is the pair of tables produced for one sweep.
type Bundle struct {
	// Source is the sweep path the tables were collected from.
	Source string

	// Config is the hyperparameter table.
	Config *Table

	// Results is the metric history table.
	Results *Table
}

// Get returns the table of the given kind, or nil.
func (b *Bundle) Get(kind string) *Table {
	switch kind {
	case KindConfig:
		return b.Config
	case KindResults:
		return b.Results
	default:
		return nil
	}
}
