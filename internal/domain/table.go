package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/guregu/null"
)

// Table is a time-indexed, ordered collection of named numeric columns.
// A cell whose Valid flag is false is missing.
//
// Tables are treated as immutable values: every transformation in this
// package builds a new Table and never writes through to its input.
type Table struct {
	times   []time.Time
	names   []string
	columns map[string][]null.Float
}

// Row is a single materialized table row.
type Row struct {
	Time   time.Time
	Values map[string]null.Float
}

// NewTable creates an empty table with the given columns. Repeated names keep
// their first occurrence.
func NewTable(names ...string) Table {
	t := Table{columns: make(map[string][]null.Float, len(names))}
	for _, n := range names {
		if _, ok := t.columns[n]; ok {
			continue
		}
		t.names = append(t.names, n)
		t.columns[n] = nil
	}
	return t
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.times) }

// Empty reports whether the table has no rows.
func (t Table) Empty() bool { return len(t.times) == 0 }

// Names returns a copy of the column names in order.
func (t Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Has reports whether the table has a column with the given name.
func (t Table) Has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Time returns the timestamp of row i.
func (t Table) Time(i int) time.Time { return t.times[i] }

// Times returns a copy of the time index.
func (t Table) Times() []time.Time {
	out := make([]time.Time, len(t.times))
	copy(out, t.times)
	return out
}

// Value returns the cell at row i of the named column. Unknown columns read
// as missing.
func (t Table) Value(i int, name string) null.Float {
	col, ok := t.columns[name]
	if !ok {
		return null.Float{}
	}
	return col[i]
}

// Column returns a copy of the named column.
func (t Table) Column(name string) ([]null.Float, bool) {
	col, ok := t.columns[name]
	if !ok {
		return nil, false
	}
	out := make([]null.Float, len(col))
	copy(out, col)
	return out, true
}

// Row materializes row i.
func (t Table) Row(i int) Row {
	r := Row{Time: t.times[i], Values: make(map[string]null.Float, len(t.names))}
	for _, n := range t.names {
		r.Values[n] = t.columns[n][i]
	}
	return r
}

// AppendRow returns a new table with one row added at the end. Values for
// columns the table does not have are added as new columns, missing in all
// earlier rows; columns absent from values are missing in the new row.
func (t Table) AppendRow(ts time.Time, values map[string]null.Float) Table {
	names := t.Names()
	for _, n := range sortedKeys(values) {
		if !t.Has(n) {
			names = append(names, n)
		}
	}

	out := NewTable(names...)
	out.times = append(t.Times(), ts)
	for _, n := range out.names {
		col := make([]null.Float, 0, len(out.times))
		if src, ok := t.columns[n]; ok {
			col = append(col, src...)
		} else {
			col = append(col, make([]null.Float, t.Len())...)
		}
		out.columns[n] = append(col, values[n])
	}
	return out
}

// Concat returns the rows of t followed by the rows of other. The column set
// is the union of both, in first-seen order.
func (t Table) Concat(other Table) Table {
	out := NewTable(append(t.Names(), other.names...)...)
	out.times = append(t.Times(), other.times...)
	for _, n := range out.names {
		col := make([]null.Float, 0, len(out.times))
		col = appendColumn(col, t, n)
		col = appendColumn(col, other, n)
		out.columns[n] = col
	}
	return out
}

// WithColumn returns a copy of t with the named column set to vals. vals must
// have one entry per row.
func (t Table) WithColumn(name string, vals []null.Float) Table {
	names := t.Names()
	if !t.Has(name) {
		names = append(names, name)
	}
	out := NewTable(names...)
	out.times = t.times
	for _, n := range out.names {
		if n == name {
			out.columns[n] = vals
			continue
		}
		out.columns[n] = t.columns[n]
	}
	return out
}

// selectRows builds a new table from the given row indices, in order.
func (t Table) selectRows(idx []int) Table {
	out := NewTable(t.names...)
	out.times = make([]time.Time, len(idx))
	for i, j := range idx {
		out.times[i] = t.times[j]
	}
	for _, n := range t.names {
		src := t.columns[n]
		col := make([]null.Float, len(idx))
		for i, j := range idx {
			col[i] = src[j]
		}
		out.columns[n] = col
	}
	return out
}

func appendColumn(dst []null.Float, t Table, name string) []null.Float {
	if src, ok := t.columns[name]; ok {
		return append(dst, src...)
	}
	return append(dst, make([]null.Float, t.Len())...)
}

func sortedKeys(m map[string]null.Float) []string {
	return slices.Sorted(maps.Keys(m))
}
