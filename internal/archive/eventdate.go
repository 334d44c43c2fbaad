package archive

import (
	"context"
	"time"

	"github.com/quantarc/quantarc/internal/storage"
)

// EventDateArchiver partitions an asset by announcement day. Unlike the
// trade-date variant it walks every calendar day, and an empty day is a
// legitimate outcome rather than a suspicious one.
type EventDateArchiver struct {
	base
}

// Backfill walks every calendar day from the backfill origin through
// today, skipping days already on disk.
func (a *EventDateArchiver) Backfill(ctx context.Context) error {
	origin, err := time.Parse("20060102", a.asset.BackfillStart)
	if err != nil {
		return err
	}
	for _, day := range DayKeys(origin, a.now()) {
		if a.deps.Store.Exists(a.asset.Name, a.relDir(day)) {
			continue
		}
		if _, err := a.processOne(ctx, day, a.opts(day)); err != nil {
			return err
		}
	}
	return nil
}

// Update reprocesses the recent window of calendar days unconditionally.
func (a *EventDateArchiver) Update(ctx context.Context) error {
	lookback := a.asset.Policy.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}
	start := a.now().AddDate(0, 0, -lookback)
	for _, day := range DayKeys(start, a.now()) {
		if _, err := a.processOne(ctx, day, a.opts(day)); err != nil {
			return err
		}
	}
	return nil
}

// ProcessKey refetches a single calendar day.
func (a *EventDateArchiver) ProcessKey(ctx context.Context, key string) error {
	_, err := a.processOne(ctx, key, a.opts(key))
	return err
}

// dateField returns the configured announcement-date field, which names
// both the directory prefix and the request parameter.
func (a *EventDateArchiver) dateField() string {
	if a.asset.DateField != "" {
		return a.asset.DateField
	}
	if p := a.endpoint.Spec.DateParam; p != "" {
		return p
	}
	return "ann_date"
}

func (a *EventDateArchiver) relDir(day string) string {
	return storage.EventDateDir(a.dateField(), day)
}

func (a *EventDateArchiver) opts(day string) processOpts {
	return processOpts{
		params:          map[string]string{a.dateField(): day},
		relDir:          a.relDir(day),
		emptyWritesMeta: true,
	}
}
