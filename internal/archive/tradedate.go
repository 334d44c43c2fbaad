package archive

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantarc/quantarc/internal/storage"
)

// defaultLookbackDays bounds a date-keyed update run when the manifest does
// not size it.
const defaultLookbackDays = 7

// TradeDateArchiver partitions an asset by exchange trading day. The
// keyspace comes from the locally stored trade calendar, so non-trading
// days are never fetched.
type TradeDateArchiver struct {
	base
}

// Backfill walks every trading day from the backfill origin through today,
// skipping days whose partition directory already exists.
func (a *TradeDateArchiver) Backfill(ctx context.Context) error {
	days, err := TradingDays(a.deps.Store, a.asset.BackfillStart, a.today())
	if err != nil {
		return err
	}
	log.Info().Str("data_type", a.asset.Name).Int("trading_days", len(days)).
		Msg("Trade-date backfill sweep")
	for _, day := range days {
		if a.deps.Store.Exists(a.asset.Name, storage.TradeDateDir(day)) {
			continue
		}
		if _, err := a.processOne(ctx, day, a.opts(day)); err != nil {
			return err
		}
	}
	return nil
}

// Update reprocesses the trading days of the recent window unconditionally,
// overwriting each day's partition in place.
func (a *TradeDateArchiver) Update(ctx context.Context) error {
	lookback := a.asset.Policy.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}
	days, err := TradingDays(a.deps.Store, recentWindowStart(a.now(), lookback), a.today())
	if err != nil {
		return err
	}
	for _, day := range days {
		if _, err := a.processOne(ctx, day, a.opts(day)); err != nil {
			return err
		}
	}
	return nil
}

// ProcessKey refetches a single trading day.
func (a *TradeDateArchiver) ProcessKey(ctx context.Context, key string) error {
	_, err := a.processOne(ctx, key, a.opts(key))
	return err
}

func (a *TradeDateArchiver) opts(day string) processOpts {
	return processOpts{
		params:          map[string]string{a.dateParam(): day},
		relDir:          storage.TradeDateDir(day),
		emptyWritesMeta: true,
		// A trading day with prior non-empty history should not come back
		// empty; engage the confirming-refetch path when it would.
		expectData: a.hasPriorData(day),
	}
}

// hasPriorData reports whether the key (or the asset as a whole) has
// produced rows before, which makes an empty response suspicious.
func (a *TradeDateArchiver) hasPriorData(day string) bool {
	if rows, ok, _ := a.deps.Log.LastRowCount(a.asset.Name, day); ok && rows > 0 {
		return true
	}
	_, ok, _ := a.deps.Log.LastSuccessDate(a.asset.Name)
	return ok
}

func (a *TradeDateArchiver) dateParam() string {
	if p := a.endpoint.Spec.DateParam; p != "" {
		return p
	}
	return "trade_date"
}

// recentWindowStart is a small helper shared with the quality checker.
func recentWindowStart(now time.Time, days int) string {
	return now.AddDate(0, 0, -days).Format("20060102")
}
