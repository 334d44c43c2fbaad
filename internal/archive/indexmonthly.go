package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantarc/quantarc/internal/storage"
)

// defaultLookbackMonths bounds an index-monthly update run when the
// manifest does not size it.
const defaultLookbackMonths = 3

// IndexMonthlyArchiver traverses the Cartesian product of configured index
// codes and month-end dates. Partition keys are the composite
// "<index_code>-<YYYYMMDD>".
type IndexMonthlyArchiver struct {
	base
}

// Backfill processes every (index, month end) pair not yet on disk, sorted
// by index then month.
func (a *IndexMonthlyArchiver) Backfill(ctx context.Context) error {
	months, err := MonthEndKeys(a.asset.BackfillStart, a.now())
	if err != nil {
		return err
	}
	for _, idx := range a.asset.IndexCodes {
		for _, month := range months {
			if a.deps.Store.Exists(a.asset.Name, storage.IndexMonthlyDir(idx, month)) {
				continue
			}
			if _, err := a.processOne(ctx, compositeKey(idx, month), a.opts(idx, month)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Update reprocesses the last lookback months for every index, overwriting
// each pair's partition in place.
func (a *IndexMonthlyArchiver) Update(ctx context.Context) error {
	months, err := MonthEndKeys(a.asset.BackfillStart, a.now())
	if err != nil {
		return err
	}
	lookback := a.asset.Policy.LookbackMonths
	if lookback <= 0 {
		lookback = defaultLookbackMonths
	}
	if len(months) > lookback {
		months = months[len(months)-lookback:]
	}
	for _, idx := range a.asset.IndexCodes {
		for _, month := range months {
			if _, err := a.processOne(ctx, compositeKey(idx, month), a.opts(idx, month)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessKey refetches a single composite key.
func (a *IndexMonthlyArchiver) ProcessKey(ctx context.Context, key string) error {
	idx, month, err := splitCompositeKey(key)
	if err != nil {
		return err
	}
	_, perr := a.processOne(ctx, key, a.opts(idx, month))
	return perr
}

func (a *IndexMonthlyArchiver) opts(idx, month string) processOpts {
	return processOpts{
		params:          map[string]string{"index_code": idx, "trade_date": month},
		relDir:          storage.IndexMonthlyDir(idx, month),
		emptyWritesMeta: true,
	}
}

func compositeKey(idx, month string) string {
	return idx + "-" + month
}

// splitCompositeKey parses "<index_code>-<YYYYMMDD>". Index codes contain
// dashes in some markets, so the split is on the final dash.
func splitCompositeKey(key string) (string, string, error) {
	i := strings.LastIndex(key, "-")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("malformed index-monthly key: %s", key)
	}
	return key[:i], key[i+1:], nil
}
