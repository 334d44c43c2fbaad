package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantarc/quantarc/internal/archive"
	"github.com/quantarc/quantarc/internal/manifest"
	"github.com/quantarc/quantarc/internal/requestlog"
	"github.com/quantarc/quantarc/internal/storage"
)

// defaultPeriodLookbackMonths restricts the period completeness check to
// recent quarters.
const defaultPeriodLookbackMonths = 8

// Failure is one missing or unreadable partition. An empty Key marks an
// asset-level failure (e.g. the trade calendar could not be read) that a
// targeted refetch cannot repair.
type Failure struct {
	DataType string `json:"data_type"`
	Key      string `json:"partition_key,omitempty"`
	Reason   string `json:"reason"`
}

// Report summarizes one quality workflow run.
type Report struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	CheckedAssets   int       `json:"checked_assets"`
	InitialFailures []Failure `json:"initial_failures"`
	Refetched       int       `json:"refetched"`
	Unresolved      []Failure `json:"unresolved"`
}

// Clean reports whether no failures remain.
func (r *Report) Clean() bool { return len(r.Unresolved) == 0 }

// Checker verifies coverage of the stored partitions against the expected
// keyspaces.
type Checker struct {
	store *storage.Store
	log   *requestlog.Store
	now   func() time.Time
}

// NewChecker creates a checker over one store and request log.
func NewChecker(store *storage.Store, rlog *requestlog.Store, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	return &Checker{store: store, log: rlog, now: now}
}

// Check computes the expected partition set for one asset and returns a
// failure per expectation the store or log does not satisfy. Event-date
// assets have no completeness check: empty days are semantically valid.
func (c *Checker) Check(asset manifest.Asset) []Failure {
	switch asset.Kind {
	case manifest.KindPeriod:
		return c.checkPeriod(asset)
	case manifest.KindTradeDate:
		return c.checkTradeDate(asset)
	case manifest.KindSnapshot:
		return c.checkSnapshot(asset)
	default:
		return nil
	}
}

func (c *Checker) checkPeriod(asset manifest.Asset) []Failure {
	keys, err := archive.PeriodKeys(asset.BackfillStart, c.now())
	if err != nil {
		return []Failure{{DataType: asset.Name, Reason: err.Error()}}
	}
	lookback := asset.Policy.LookbackMonths
	if lookback <= 0 {
		lookback = defaultPeriodLookbackMonths
	}
	cutoff := c.now().AddDate(0, -lookback, 0).Format("20060102")

	var failures []Failure
	for _, key := range keys {
		if key < cutoff {
			continue
		}
		// A logged no_data outcome satisfies the check without a
		// partition; fiscal periods the vendor has nothing for stay
		// directory-less.
		if ok, _ := c.log.HasOutcome(asset.Name, key, requestlog.StatusNoData); ok {
			if _, exists, _ := c.store.LatestVersion(asset.Name, key); !exists {
				continue
			}
		}
		logged, _ := c.log.HasOutcome(asset.Name, key,
			requestlog.StatusSuccess, requestlog.StatusUpdated, requestlog.StatusNoChange)
		if !logged {
			failures = append(failures, Failure{DataType: asset.Name, Key: key, Reason: "no successful log record"})
			continue
		}
		rel, exists, err := c.store.LatestVersion(asset.Name, key)
		if err != nil || !exists {
			failures = append(failures, Failure{DataType: asset.Name, Key: key, Reason: "partition missing on disk"})
			continue
		}
		if _, err := c.store.ReadMetadata(asset.Name, rel); err != nil {
			failures = append(failures, Failure{DataType: asset.Name, Key: key, Reason: "partition unreadable"})
		}
	}
	return failures
}

func (c *Checker) checkTradeDate(asset manifest.Asset) []Failure {
	lookback := asset.Policy.LookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	from := c.now().AddDate(0, 0, -lookback).Format("20060102")
	days, err := archive.TradingDays(c.store, from, c.now().Format("20060102"))
	if err != nil {
		return []Failure{{DataType: asset.Name, Reason: err.Error()}}
	}

	var failures []Failure
	for _, day := range days {
		if !c.store.Exists(asset.Name, storage.TradeDateDir(day)) {
			failures = append(failures, Failure{DataType: asset.Name, Key: day, Reason: "trading day missing on disk"})
		}
	}
	return failures
}

func (c *Checker) checkSnapshot(asset manifest.Asset) []Failure {
	key, ok, err := c.store.LatestSnapshot(asset.Name)
	if err != nil || !ok {
		return []Failure{{DataType: asset.Name, Reason: "no snapshot on disk"}}
	}
	meta, err := c.store.ReadMetadata(asset.Name, storage.SnapshotDir(key))
	if err != nil {
		return []Failure{{DataType: asset.Name, Key: key, Reason: "snapshot unreadable"}}
	}
	if meta.RowCount == 0 {
		return []Failure{{DataType: asset.Name, Key: key, Reason: "latest snapshot is empty"}}
	}
	return nil
}

// RunWorkflow performs the full quality pass: sweep every asset, issue a
// targeted single-partition refetch per repairable failure, sweep again,
// and report what persists.
func RunWorkflow(ctx context.Context, checker *Checker, assets []manifest.Asset,
	build func(manifest.Asset) (archive.Archiver, error)) (*Report, error) {

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: checker.now().UTC(),
	}

	byName := make(map[string]manifest.Asset, len(assets))
	for _, a := range assets {
		byName[a.Name] = a
		report.CheckedAssets++
		report.InitialFailures = append(report.InitialFailures, checker.Check(a)...)
	}
	if len(report.InitialFailures) == 0 {
		return report, nil
	}
	log.Warn().Int("failures", len(report.InitialFailures)).Str("run_id", report.RunID).
		Msg("Quality sweep found gaps; issuing targeted refetches")

	for _, f := range report.InitialFailures {
		if f.Key == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		archiver, err := build(byName[f.DataType])
		if err != nil {
			log.Error().Err(err).Str("data_type", f.DataType).Msg("Failed to construct archiver for refetch")
			continue
		}
		if err := archiver.ProcessKey(ctx, f.Key); err != nil {
			return report, fmt.Errorf("refetch of %s/%s aborted: %w", f.DataType, f.Key, err)
		}
		report.Refetched++
	}

	for _, a := range assets {
		report.Unresolved = append(report.Unresolved, checker.Check(a)...)
	}
	if report.Clean() {
		log.Info().Str("run_id", report.RunID).Int("refetched", report.Refetched).
			Msg("Quality workflow resolved all gaps")
	} else {
		log.Error().Str("run_id", report.RunID).Int("unresolved", len(report.Unresolved)).
			Msg("Quality workflow finished with persistent failures")
	}
	return report, nil
}
