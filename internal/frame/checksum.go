package frame

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"strings"
)

// EmptyChecksum is the sentinel checksum for a frame with no rows.
const EmptyChecksum = "empty"

// Checksum returns the hex MD5 of the canonical CSV rendering of the frame:
// rows stably sorted by the canonical sort keys, no index column, floats at
// six decimal places. The empty frame yields the "empty" sentinel without
// computing a digest. The result depends only on row content, not on the
// order rows arrived in.
func (f *Frame) Checksum() string {
	if f.Empty() {
		return EmptyChecksum
	}
	h := md5.Sum([]byte(f.canonicalCSV()))
	return hex.EncodeToString(h[:])
}

// canonicalCSV renders the sorted frame as CSV with a header row.
func (f *Frame) canonicalCSV() string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write(f.Columns)
	record := make([]string, len(f.Columns))
	for _, row := range f.sorted() {
		for i, c := range f.Columns {
			record[i] = FormatCell(row[c])
		}
		_ = w.Write(record)
	}
	w.Flush()
	return b.String()
}
