package frame

import (
	"sort"
	"strconv"
	"strings"
)

// Frame is an ordered tabular payload as returned by the vendor API.
// Columns keep the vendor's declared ordering; rows map column name to a
// value that is either a string, a float64, or nil.
type Frame struct {
	Columns []string
	Rows    []Row
}

// Row maps column name to cell value.
type Row map[string]any

// New creates an empty frame with the given column ordering.
func New(columns []string) *Frame {
	return &Frame{Columns: columns}
}

// Append adds a row to the frame. Cells for columns the frame does not
// declare are ignored.
func (f *Frame) Append(row Row) {
	f.Rows = append(f.Rows, row)
}

// Empty reports whether the frame holds no rows.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Rows) == 0
}

// RowCount returns the number of rows.
func (f *Frame) RowCount() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Concat appends every row of other to f. The column set of the first
// non-empty page wins; pages with extra columns keep only the known ones.
func (f *Frame) Concat(other *Frame) {
	if other.Empty() {
		return
	}
	if len(f.Columns) == 0 {
		f.Columns = other.Columns
	}
	f.Rows = append(f.Rows, other.Rows...)
}

// preferredSortColumns is the fixed preference order for the canonical sort.
var preferredSortColumns = []string{"ts_code", "ann_date", "end_date", "trade_date"}

// SortKeys returns the canonical sort-key columns for the frame: the subset
// of the preferred columns that are present, in preference order, or every
// column in lexicographic order when none of them are.
func (f *Frame) SortKeys() []string {
	present := make(map[string]bool, len(f.Columns))
	for _, c := range f.Columns {
		present[c] = true
	}
	var keys []string
	for _, c := range preferredSortColumns {
		if present[c] {
			keys = append(keys, c)
		}
	}
	if len(keys) > 0 {
		return keys
	}
	keys = append(keys, f.Columns...)
	sort.Strings(keys)
	return keys
}

// Deduplicate removes rows whose every cell equals a previously seen row,
// keeping first occurrences. Used after paginated fetches with overlapping
// offsets.
func (f *Frame) Deduplicate() {
	if f.Empty() {
		return
	}
	seen := make(map[string]bool, len(f.Rows))
	out := f.Rows[:0]
	for _, row := range f.Rows {
		key := f.rowKey(row)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	f.Rows = out
}

func (f *Frame) rowKey(row Row) string {
	var b strings.Builder
	for _, c := range f.Columns {
		b.WriteString(FormatCell(row[c]))
		b.WriteByte(0x1f)
	}
	return b.String()
}

// FormatCell renders one cell the way the canonical CSV does: empty for
// nil, six decimal places for floats, verbatim for strings.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', 6, 64)
	case int:
		return strconv.FormatFloat(float64(x), 'f', 6, 64)
	case int64:
		return strconv.FormatFloat(float64(x), 'f', 6, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return ""
	}
}

// sorted returns the frame's rows stably ordered by the canonical sort keys.
// The receiver is not mutated.
func (f *Frame) sorted() []Row {
	keys := f.SortKeys()
	rows := make([]Row, len(f.Rows))
	copy(rows, f.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, b := FormatCell(rows[i][k]), FormatCell(rows[j][k])
			if a != b {
				return a < b
			}
		}
		return false
	})
	return rows
}
