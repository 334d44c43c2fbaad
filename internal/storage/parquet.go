package storage

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/quantarc/quantarc/internal/frame"
)

// columnKinds classifies each frame column for the parquet schema: a column
// is a double when every non-null cell is numeric, otherwise a string.
func columnKinds(fr *frame.Frame) map[string]bool {
	numeric := make(map[string]bool, len(fr.Columns))
	for _, c := range fr.Columns {
		numeric[c] = false
	}
	for _, c := range fr.Columns {
		sawValue := false
		allFloat := true
		for _, row := range fr.Rows {
			switch row[c].(type) {
			case nil:
			case float64:
				sawValue = true
			default:
				sawValue = true
				allFloat = false
			}
		}
		numeric[c] = sawValue && allFloat
	}
	return numeric
}

func frameSchema(fr *frame.Frame) *parquet.Schema {
	numeric := columnKinds(fr)
	group := parquet.Group{}
	for _, c := range fr.Columns {
		if numeric[c] {
			group[c] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		} else {
			group[c] = parquet.Optional(parquet.String())
		}
	}
	return parquet.NewSchema("frame", group)
}

// writeParquet renders the frame to path as a snappy-compressed parquet
// file. Callers stage path inside a temporary directory; this function does
// not need to be atomic itself.
func writeParquet(path string, fr *frame.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer f.Close()

	numeric := columnKinds(fr)
	w := parquet.NewGenericWriter[map[string]any](f, frameSchema(fr),
		parquet.Compression(&parquet.Snappy))

	records := make([]map[string]any, 0, len(fr.Rows))
	for _, row := range fr.Rows {
		rec := make(map[string]any, len(fr.Columns))
		for _, c := range fr.Columns {
			v := row[c]
			if v == nil {
				continue
			}
			if numeric[c] {
				rec[c] = v.(float64)
			} else {
				rec[c] = frame.FormatCell(v)
			}
		}
		records = append(records, rec)
	}

	if _, err := w.Write(records); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync parquet file: %w", err)
	}
	return nil
}

// readParquet loads a parquet file back into a frame. columns fixes the
// column ordering (parquet groups sort fields alphabetically; the sidecar
// metadata preserves the vendor's ordering).
func readParquet(path string, columns []string) (*frame.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat parquet file: %w", err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet footer: %w", err)
	}

	reader := parquet.NewGenericReader[map[string]any](pf)
	defer reader.Close()

	fr := frame.New(columns)
	for {
		batch := make([]map[string]any, 256)
		for i := range batch {
			batch[i] = map[string]any{}
		}
		n, err := reader.Read(batch)
		for i := 0; i < n; i++ {
			row := frame.Row{}
			for _, c := range columns {
				row[c] = normalizeCell(batch[i][c])
			}
			fr.Append(row)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return fr, nil
}

func normalizeCell(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case string:
		return x
	case float64:
		return x
	case float32:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
