package quality

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/quantarc/internal/archive"
	"github.com/quantarc/quantarc/internal/frame"
	"github.com/quantarc/quantarc/internal/manifest"
	"github.com/quantarc/quantarc/internal/provider"
	"github.com/quantarc/quantarc/internal/requestlog"
	"github.com/quantarc/quantarc/internal/storage"
)

type stubFetcher struct {
	onCall func(params map[string]string) (*frame.Frame, provider.Status)
	calls  int
}

func (s *stubFetcher) Call(_ context.Context, _ provider.Endpoint, params map[string]string) (*frame.Frame, provider.Status) {
	s.calls++
	return s.onCall(params)
}

func (s *stubFetcher) CallExpectData(ctx context.Context, ep provider.Endpoint, params map[string]string) (*frame.Frame, provider.Status) {
	return s.Call(ctx, ep, params)
}

func serve(fr *frame.Frame) func(map[string]string) (*frame.Frame, provider.Status) {
	return func(map[string]string) (*frame.Frame, provider.Status) { return fr, provider.StatusSuccess }
}

func dataFrame(n int) *frame.Frame {
	fr := frame.New([]string{"ts_code", "val"})
	for i := 0; i < n; i++ {
		fr.Append(frame.Row{"ts_code": "code" + string(rune('a'+i)), "val": float64(i)})
	}
	return fr
}

var testNow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, f *stubFetcher) (archive.Deps, *storage.Store, *requestlog.Store, *Checker) {
	t.Helper()
	store := storage.NewStore(t.TempDir(), "tushare")
	rlog, err := requestlog.Open(filepath.Join(t.TempDir(), "request_log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { rlog.Close() })

	deps := archive.Deps{Fetcher: f, Store: store, Log: rlog, Now: func() time.Time { return testNow }}
	return deps, store, rlog, NewChecker(store, rlog, func() time.Time { return testNow })
}

func seedCalendar(t *testing.T, store *storage.Store) {
	t.Helper()
	cal := frame.New([]string{"cal_date", "is_open"})
	for day, open := range map[string]float64{
		"20260818": 1, "20260819": 1, "20260820": 1, "20260821": 1,
		"20260822": 0, "20260823": 0, "20260824": 1,
	} {
		cal.Append(frame.Row{"cal_date": day, "is_open": open})
	}
	require.NoError(t, store.WritePartition("trade_cal", storage.SnapshotDir("20260824"), cal, storage.Metadata{
		PartitionKey: "20260824", RowCount: cal.RowCount(), Checksum: cal.Checksum(), SchemaFields: cal.Columns,
	}))
}

func TestTradeDateGapIsDetectedAndRepaired(t *testing.T) {
	fetcher := &stubFetcher{onCall: serve(dataFrame(3))}
	deps, store, _, checker := newFixture(t, fetcher)
	seedCalendar(t, store)

	asset := manifest.Asset{Name: "daily", Kind: manifest.KindTradeDate,
		BackfillStart: "20260818", Policy: manifest.Policy{LookbackDays: 7}}
	a, err := archive.New(asset, deps)
	require.NoError(t, err)
	require.NoError(t, a.Backfill(context.Background()))
	require.Empty(t, checker.Check(asset), "a fully ingested window is clean")

	// Lose one trading day on disk.
	require.NoError(t, os.RemoveAll(store.PartitionDir("daily", storage.TradeDateDir("20260820"))))

	failures := checker.Check(asset)
	require.Len(t, failures, 1)
	assert.Equal(t, "20260820", failures[0].Key)

	build := func(a manifest.Asset) (archive.Archiver, error) { return archive.New(a, deps) }
	report, err := RunWorkflow(context.Background(), checker, []manifest.Asset{asset}, build)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Refetched)
	assert.True(t, report.Clean())
	assert.True(t, store.Exists("daily", storage.TradeDateDir("20260820")))
}

func TestPeriodCheckAcceptsNoDataOutcome(t *testing.T) {
	fetcher := &stubFetcher{onCall: serve(frame.New([]string{"ts_code"}))}
	deps, _, _, checker := newFixture(t, fetcher)

	asset := manifest.Asset{Name: "income", Kind: manifest.KindPeriod, BackfillStart: "20260101"}
	a, err := archive.New(asset, deps)
	require.NoError(t, err)
	require.NoError(t, a.Backfill(context.Background()))

	assert.Empty(t, checker.Check(asset),
		"a logged no_data outcome satisfies the check without a partition")
}

func TestPeriodMissingVersionIsDetectedAndRepaired(t *testing.T) {
	fetcher := &stubFetcher{onCall: serve(dataFrame(3))}
	deps, store, _, checker := newFixture(t, fetcher)

	asset := manifest.Asset{Name: "income", Kind: manifest.KindPeriod, BackfillStart: "20260101"}
	a, err := archive.New(asset, deps)
	require.NoError(t, err)
	require.NoError(t, a.Backfill(context.Background()))
	require.Empty(t, checker.Check(asset))

	require.NoError(t, os.RemoveAll(store.PartitionDir("income", storage.PeriodDir("20260630"))))
	failures := checker.Check(asset)
	require.Len(t, failures, 1)
	assert.Equal(t, "20260630", failures[0].Key)

	// The vendor has restated the quarter meanwhile, so the refetch writes
	// a fresh version.
	fetcher.onCall = serve(dataFrame(4))
	build := func(a manifest.Asset) (archive.Archiver, error) { return archive.New(a, deps) }
	report, err := RunWorkflow(context.Background(), checker, []manifest.Asset{asset}, build)
	require.NoError(t, err)

	assert.True(t, report.Clean())
	_, ok, err := store.LatestVersion("income", "20260630")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSnapshotCheck(t *testing.T) {
	fetcher := &stubFetcher{onCall: serve(dataFrame(2))}
	_, store, _, checker := newFixture(t, fetcher)
	asset := manifest.Asset{Name: "stock_basic", Kind: manifest.KindSnapshot}

	failures := checker.Check(asset)
	require.Len(t, failures, 1)
	assert.Empty(t, failures[0].Key, "a missing snapshot is an asset-level failure")

	empty := frame.New([]string{"ts_code"})
	require.NoError(t, store.WritePartition("stock_basic", storage.SnapshotDir("20260820"), empty, storage.Metadata{
		PartitionKey: "20260820", RowCount: 0, Checksum: frame.EmptyChecksum, SchemaFields: empty.Columns,
	}))
	failures = checker.Check(asset)
	require.Len(t, failures, 1)
	assert.Equal(t, "20260820", failures[0].Key)

	fr := dataFrame(2)
	require.NoError(t, store.WritePartition("stock_basic", storage.SnapshotDir("20260824"), fr, storage.Metadata{
		PartitionKey: "20260824", RowCount: fr.RowCount(), Checksum: fr.Checksum(), SchemaFields: fr.Columns,
	}))
	assert.Empty(t, checker.Check(asset))
}

func TestEventDateAssetsHaveNoCompletenessCheck(t *testing.T) {
	_, _, _, checker := newFixture(t, &stubFetcher{})
	asset := manifest.Asset{Name: "dividend", Kind: manifest.KindEventDate, BackfillStart: "20260101"}
	assert.Empty(t, checker.Check(asset), "empty announcement days are semantically valid")
}

func TestRunWorkflowLeavesAssetLevelFailuresUnresolved(t *testing.T) {
	fetcher := &stubFetcher{onCall: serve(dataFrame(2))}
	deps, _, _, checker := newFixture(t, fetcher)

	// No calendar on disk: the trade-date check fails at the asset level
	// and a targeted refetch cannot repair it.
	asset := manifest.Asset{Name: "daily", Kind: manifest.KindTradeDate, BackfillStart: "20260818"}
	build := func(a manifest.Asset) (archive.Archiver, error) { return archive.New(a, deps) }

	report, err := RunWorkflow(context.Background(), checker, []manifest.Asset{asset}, build)
	require.NoError(t, err)

	assert.False(t, report.Clean())
	assert.Zero(t, report.Refetched)
	require.NotEmpty(t, report.Unresolved)
	assert.Empty(t, report.Unresolved[0].Key)
}
