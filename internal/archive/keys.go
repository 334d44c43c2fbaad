package archive

import (
	"fmt"
	"time"
)

// quarterEnds are the fixed month-day suffixes of fiscal-period keys.
var quarterEnds = [4]string{"0331", "0630", "0930", "1231"}

// PeriodKeys emits every fiscal-period key from the origin year through the
// current quarter: four keys per fully elapsed year, truncated so no key
// exceeds the quarter now in progress.
func PeriodKeys(backfillStart string, now time.Time) ([]string, error) {
	origin, err := time.Parse("20060102", backfillStart)
	if err != nil {
		return nil, fmt.Errorf("malformed backfill origin %q: %w", backfillStart, err)
	}
	currentQuarter := quarterEndOf(now)

	var keys []string
	for year := origin.Year(); year <= now.Year(); year++ {
		for _, q := range quarterEnds {
			key := fmt.Sprintf("%04d%s", year, q)
			if key > currentQuarter {
				break
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// quarterEndOf returns the YYYYMMDD end of the quarter containing t.
func quarterEndOf(t time.Time) string {
	q := (int(t.Month()) - 1) / 3
	return fmt.Sprintf("%04d%s", t.Year(), quarterEnds[q])
}

// MonthEndKeys emits the month-end date of every month from the origin
// month through the month containing now.
func MonthEndKeys(backfillStart string, now time.Time) ([]string, error) {
	origin, err := time.Parse("20060102", backfillStart)
	if err != nil {
		return nil, fmt.Errorf("malformed backfill origin %q: %w", backfillStart, err)
	}

	var keys []string
	cursor := time.Date(origin.Year(), origin.Month(), 1, 0, 0, 0, 0, time.UTC)
	limit := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(limit) {
		monthEnd := cursor.AddDate(0, 1, -1)
		keys = append(keys, monthEnd.Format("20060102"))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return keys, nil
}

// DayKeys emits every calendar day from start through end, inclusive, as
// YYYYMMDD keys.
func DayKeys(start, end time.Time) []string {
	var keys []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		keys = append(keys, d.Format("20060102"))
	}
	return keys
}
