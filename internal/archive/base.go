package archive

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantarc/quantarc/internal/frame"
	"github.com/quantarc/quantarc/internal/manifest"
	"github.com/quantarc/quantarc/internal/metrics"
	"github.com/quantarc/quantarc/internal/provider"
	"github.com/quantarc/quantarc/internal/requestlog"
	"github.com/quantarc/quantarc/internal/storage"
)

// Fetcher is the narrow vendor surface archivers depend on. provider.Client
// implements it; tests substitute scripted fetchers.
type Fetcher interface {
	Call(ctx context.Context, ep provider.Endpoint, params map[string]string) (*frame.Frame, provider.Status)
	CallExpectData(ctx context.Context, ep provider.Endpoint, params map[string]string) (*frame.Frame, provider.Status)
}

// Deps bundles the collaborators shared by every archiver variant.
type Deps struct {
	Fetcher Fetcher
	Store   *storage.Store
	Log     *requestlog.Store
	// Now supplies wall-clock time; injectable for retention and keyspace
	// tests. Nil means time.Now.
	Now func() time.Time
}

// Archiver is the capability set every variant implements. Backfill
// traverses the full historical keyspace skipping keys already present;
// Update reprocesses a recent-window subset; ProcessKey handles one
// partition (used by the quality workflow for targeted refetch).
type Archiver interface {
	DataType() string
	Kind() manifest.Kind
	Backfill(ctx context.Context) error
	Update(ctx context.Context) error
	ProcessKey(ctx context.Context, key string) error
}

// ErrMissingDependency marks an asset whose required local input (such as
// the trade calendar snapshot) has not been ingested yet.
var ErrMissingDependency = errors.New("missing dependency asset")

// New constructs the archiver variant named by the manifest entry. Endpoint
// resolution happens here; an unknown data type is a construction-time
// error.
func New(asset manifest.Asset, deps Deps) (Archiver, error) {
	ep, err := provider.Resolve(asset.Name)
	if err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	b := base{asset: asset, endpoint: ep, deps: deps}

	switch asset.Kind {
	case manifest.KindPeriod:
		return &PeriodArchiver{base: b}, nil
	case manifest.KindTradeDate:
		return &TradeDateArchiver{base: b}, nil
	case manifest.KindEventDate:
		return &EventDateArchiver{base: b}, nil
	case manifest.KindSnapshot:
		return &SnapshotArchiver{base: b}, nil
	case manifest.KindCode:
		return &CodeArchiver{base: b}, nil
	case manifest.KindIndexMonthly:
		return &IndexMonthlyArchiver{base: b}, nil
	default:
		return nil, errors.New("unknown archiver kind: " + string(asset.Kind))
	}
}

// base carries the state and the per-key process contract shared by all
// variants.
type base struct {
	asset    manifest.Asset
	endpoint provider.Endpoint
	deps     Deps
}

func (b *base) DataType() string    { return b.asset.Name }
func (b *base) Kind() manifest.Kind { return b.asset.Kind }

func (b *base) now() time.Time { return b.deps.Now() }

// today returns the current date as a partition key (YYYYMMDD).
func (b *base) today() string { return b.now().Format("20060102") }

// ingestDate returns the current date in the ISO form used by version
// directories and log entries.
func (b *base) ingestDate() string { return b.now().Format("2006-01-02") }

func (b *base) logOutcome(key string, params map[string]string, rowCount int, checksum, status, errMsg string) {
	b.deps.Log.Record(requestlog.Entry{
		DataType:     b.asset.Name,
		PartitionKey: key,
		IngestDate:   b.ingestDate(),
		Params:       requestlog.MarshalParams(params),
		RowCount:     rowCount,
		Checksum:     checksum,
		Status:       status,
		ErrorMessage: errMsg,
		CreatedAt:    b.now().UTC(),
	})
}

// processOpts tunes the shared per-key routine for one variant.
type processOpts struct {
	// params composed for the vendor request.
	params map[string]string
	// relDir is the partition directory relative to the asset directory.
	// Versioned (period) assets derive the ingest-date subdirectory here.
	relDir string
	// versioned marks fiscal-period assets: history is kept as one
	// subdirectory per ingest date and an unchanged checksum writes
	// nothing.
	versioned bool
	// expectData engages the suspicious-empty retry path.
	expectData bool
	// emptyWritesMeta writes a metadata-only partition for an empty frame
	// instead of skipping the write entirely.
	emptyWritesMeta bool
}

// processOne runs the archiver process contract for a single key:
// fetch, checksum, change detection, regression guard, atomic write, log.
// The returned status is the logged outcome; the error return is reserved
// for cancellation.
func (b *base) processOne(ctx context.Context, key string, opts processOpts) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fetch := b.deps.Fetcher.Call
	if opts.expectData {
		fetch = b.deps.Fetcher.CallExpectData
	}

	fr, status := fetch(ctx, b.endpoint, opts.params)
	if status == provider.StatusError {
		b.logOutcome(key, opts.params, 0, "", requestlog.StatusError, "vendor call failed")
		return requestlog.StatusError, nil
	}

	if fr.Empty() {
		if opts.emptyWritesMeta {
			meta := b.metadataFor(key, fr)
			if err := b.deps.Store.WritePartition(b.asset.Name, opts.relDir, fr, meta); err != nil {
				log.Error().Err(err).Str("data_type", b.asset.Name).Str("partition_key", key).
					Msg("Failed to write empty partition")
				b.logOutcome(key, opts.params, 0, frame.EmptyChecksum, requestlog.StatusError, err.Error())
				return requestlog.StatusError, nil
			}
		}
		b.logOutcome(key, opts.params, 0, frame.EmptyChecksum, requestlog.StatusNoData, "")
		return requestlog.StatusNoData, nil
	}

	checksum := fr.Checksum()

	lastChecksum, seen, err := b.deps.Log.LastChecksum(b.asset.Name, key)
	if err != nil {
		log.Warn().Err(err).Str("data_type", b.asset.Name).Str("partition_key", key).
			Msg("Checksum lookup failed; treating key as new")
		seen = false
	}
	if opts.versioned && seen && lastChecksum == checksum {
		b.logOutcome(key, opts.params, fr.RowCount(), checksum, requestlog.StatusNoChange, "")
		return requestlog.StatusNoChange, nil
	}

	// A shrinking partition is suspect: require a confirming fetch before
	// accepting fewer rows than the last stored version.
	if lastRows, ok, _ := b.deps.Log.LastRowCount(b.asset.Name, key); ok && fr.RowCount() < lastRows {
		confirm, confirmStatus := b.deps.Fetcher.CallExpectData(ctx, b.endpoint, opts.params)
		if confirmStatus == provider.StatusError || confirm.Checksum() != checksum {
			msg := "row-count regression unconfirmed"
			log.Warn().Str("data_type", b.asset.Name).Str("partition_key", key).
				Int("previous_rows", lastRows).Int("fetched_rows", fr.RowCount()).
				Msg("Row-count regression rejected; partition left untouched")
			b.logOutcome(key, opts.params, fr.RowCount(), checksum, requestlog.StatusError, msg)
			return requestlog.StatusError, nil
		}
		log.Info().Str("data_type", b.asset.Name).Str("partition_key", key).
			Int("previous_rows", lastRows).Int("fetched_rows", fr.RowCount()).
			Msg("Row-count regression confirmed by second fetch")
	}

	relDir := opts.relDir
	if opts.versioned {
		relDir = storage.PeriodVersionDir(key, b.ingestDate())
	}
	meta := b.metadataFor(key, fr)
	meta.Checksum = checksum
	if err := b.deps.Store.WritePartition(b.asset.Name, relDir, fr, meta); err != nil {
		log.Error().Err(err).Str("data_type", b.asset.Name).Str("partition_key", key).
			Msg("Failed to write partition")
		b.logOutcome(key, opts.params, fr.RowCount(), checksum, requestlog.StatusError, err.Error())
		return requestlog.StatusError, nil
	}
	metrics.PartitionsWritten.WithLabelValues(b.asset.Name).Inc()

	outcome := requestlog.StatusSuccess
	if seen {
		outcome = requestlog.StatusUpdated
	}
	b.logOutcome(key, opts.params, fr.RowCount(), checksum, outcome, "")
	return outcome, nil
}

func (b *base) metadataFor(key string, fr *frame.Frame) storage.Metadata {
	return storage.Metadata{
		PartitionKey: key,
		IngestDate:   b.ingestDate(),
		RowCount:     fr.RowCount(),
		Checksum:     fr.Checksum(),
		CreatedAt:    b.now().UTC().Format(time.RFC3339),
		SchemaFields: fr.Columns,
	}
}
