package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/quantarc/quantarc/internal/storage"
)

// CodeArchiver partitions an asset by instrument code. One fetch returns a
// code's whole history, so backfill and update are the same operation:
// process whatever the request log has not seen succeed yet.
type CodeArchiver struct {
	base
}

// Backfill processes every driver code without a successful log entry.
func (a *CodeArchiver) Backfill(ctx context.Context) error {
	codes, err := a.driverCodes()
	if err != nil {
		return err
	}
	done, err := a.deps.Log.SuccessfulKeys(a.asset.Name)
	if err != nil {
		return fmt.Errorf("failed to load completed codes: %w", err)
	}
	pending := 0
	for _, code := range codes {
		if done[code] {
			continue
		}
		pending++
		if _, err := a.processOne(ctx, code, a.opts(code)); err != nil {
			return err
		}
	}
	log.Info().Str("data_type", a.asset.Name).Int("codes", len(codes)).
		Int("processed", pending).Msg("Code-driven sweep finished")
	return nil
}

// Update picks up whatever codes are still missing, exactly like Backfill.
func (a *CodeArchiver) Update(ctx context.Context) error {
	return a.Backfill(ctx)
}

// ProcessKey refetches a single instrument code.
func (a *CodeArchiver) ProcessKey(ctx context.Context, key string) error {
	_, err := a.processOne(ctx, key, a.opts(key))
	return err
}

func (a *CodeArchiver) opts(code string) processOpts {
	return processOpts{
		params:          map[string]string{"ts_code": code},
		relDir:          storage.CodeDir(code),
		emptyWritesMeta: true,
	}
}

// driverCodes resolves the archiver's code universe. "static:" sources
// carry an inline comma-separated list; any other source names a snapshot
// asset whose latest version is read from local storage.
func (a *CodeArchiver) driverCodes() ([]string, error) {
	src := a.asset.DriverSource
	if src == "" {
		return nil, fmt.Errorf("asset %s: code archiver requires a driver source", a.asset.Name)
	}

	if list, ok := strings.CutPrefix(src, "static:"); ok {
		var codes []string
		for _, c := range strings.Split(list, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codes = append(codes, c)
			}
		}
		sort.Strings(codes)
		return codes, nil
	}

	key, ok, err := a.deps.Store.LatestSnapshot(src)
	if err != nil {
		return nil, fmt.Errorf("failed to locate driver snapshot %s: %w", src, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s snapshot not ingested", ErrMissingDependency, src)
	}
	fr, err := a.deps.Store.ReadFrame(src, storage.SnapshotDir(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read driver snapshot %s: %w", src, err)
	}

	seen := make(map[string]bool, fr.RowCount())
	var codes []string
	for _, row := range fr.Rows {
		code, _ := row["ts_code"].(string)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
