package archive

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/quantarc/quantarc/internal/requestlog"
	"github.com/quantarc/quantarc/internal/storage"
)

// defaultRetentionDays bounds how long daily snapshots are kept when the
// manifest does not say.
const defaultRetentionDays = 30

// SnapshotArchiver replaces an asset's entire state once per day, keyed by
// ingest date. Old snapshots are pruned past the retention horizon.
type SnapshotArchiver struct {
	base
}

// Backfill is not meaningful for a snapshot asset; it re-routes to Update.
func (a *SnapshotArchiver) Backfill(ctx context.Context) error {
	log.Debug().Str("data_type", a.asset.Name).
		Msg("Snapshot asset has no historical keyspace; running update instead")
	return a.Update(ctx)
}

// Update fetches the full current state and writes today's snapshot, then
// prunes snapshots older than the retention window.
func (a *SnapshotArchiver) Update(ctx context.Context) error {
	return a.ProcessKey(ctx, a.today())
}

// ProcessKey writes the snapshot for one ingest day.
func (a *SnapshotArchiver) ProcessKey(ctx context.Context, key string) error {
	status, err := a.processOne(ctx, key, processOpts{
		params:          map[string]string{},
		relDir:          storage.SnapshotDir(key),
		emptyWritesMeta: true,
		expectData:      true,
	})
	if err != nil {
		return err
	}
	if status == requestlog.StatusSuccess || status == requestlog.StatusUpdated {
		retention := a.asset.Policy.RetentionDays
		if retention <= 0 {
			retention = defaultRetentionDays
		}
		if _, err := a.deps.Store.PruneSnapshots(a.asset.Name, retention, a.now()); err != nil {
			log.Warn().Err(err).Str("data_type", a.asset.Name).Msg("Snapshot retention sweep failed")
		}
	}
	return nil
}
