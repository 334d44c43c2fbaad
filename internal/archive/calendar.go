package archive

import (
	"fmt"
	"sort"

	"github.com/quantarc/quantarc/internal/storage"
)

// calendarAsset is the snapshot asset holding the exchange trading
// calendar. It is refreshed before any trade-date asset runs.
const calendarAsset = "trade_cal"

// TradingDays reads the latest trade-calendar snapshot from local storage
// and returns the open trading days within [from, to] (YYYYMMDD,
// inclusive), sorted ascending. The vendor is never consulted here.
func TradingDays(store *storage.Store, from, to string) ([]string, error) {
	key, ok, err := store.LatestSnapshot(calendarAsset)
	if err != nil {
		return nil, fmt.Errorf("failed to locate trade calendar: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s snapshot not ingested", ErrMissingDependency, calendarAsset)
	}

	fr, err := store.ReadFrame(calendarAsset, storage.SnapshotDir(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read trade calendar: %w", err)
	}

	var days []string
	for _, row := range fr.Rows {
		if !isOpen(row["is_open"]) {
			continue
		}
		day, _ := row["cal_date"].(string)
		if day == "" {
			continue
		}
		if (from == "" || day >= from) && (to == "" || day <= to) {
			days = append(days, day)
		}
	}
	if len(days) == 0 && fr.Empty() {
		return nil, fmt.Errorf("%w: %s snapshot is empty", ErrMissingDependency, calendarAsset)
	}
	sort.Strings(days)
	return days, nil
}

// isOpen tolerates the vendor's inconsistent typing of flag columns: the
// open marker arrives as the number 1 or the string "1".
func isOpen(v any) bool {
	switch x := v.(type) {
	case float64:
		return x == 1
	case string:
		return x == "1"
	default:
		return false
	}
}
