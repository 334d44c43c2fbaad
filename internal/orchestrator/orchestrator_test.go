package orchestrator

import (
	"context"
	"encoding/json"
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
	"github.com/quantarc/quantarc/internal/quality"
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

var testNow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func calendarFrame() *frame.Frame {
	cal := frame.New([]string{"cal_date", "is_open"})
	for day, open := range map[string]float64{
		"20260818": 1, "20260819": 1, "20260820": 1, "20260821": 1,
		"20260822": 0, "20260823": 0, "20260824": 1,
	} {
		cal.Append(frame.Row{"cal_date": day, "is_open": open})
	}
	return cal
}

func newFixture(t *testing.T, man manifest.Manifest, f *stubFetcher) (*Orchestrator, *storage.Store, string) {
	t.Helper()
	store := storage.NewStore(t.TempDir(), "tushare")
	rlog, err := requestlog.Open(filepath.Join(t.TempDir(), "request_log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { rlog.Close() })

	deps := archive.Deps{Fetcher: f, Store: store, Log: rlog, Now: func() time.Time { return testNow }}
	checker := quality.NewChecker(store, rlog, func() time.Time { return testNow })
	reportDir := filepath.Join(t.TempDir(), "reports")
	return New(man, deps, checker, reportDir), store, reportDir
}

func readReport(t *testing.T, reportDir string) RunReport {
	t.Helper()
	entries, err := os.ReadDir(reportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(reportDir, entries[0].Name()))
	require.NoError(t, err)
	var report RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func TestRunUpdateCleanManifest(t *testing.T) {
	fetcher := &stubFetcher{onCall: func(map[string]string) (*frame.Frame, provider.Status) {
		return calendarFrame(), provider.StatusSuccess
	}}
	man := manifest.Manifest{Assets: []manifest.Asset{
		{Name: "trade_cal", Kind: manifest.KindSnapshot, Policy: manifest.Policy{RetentionDays: 30}},
	}}
	orch, store, reportDir := newFixture(t, man, fetcher)

	code, err := orch.Run(context.Background(), ModeUpdate)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	key, ok, err := store.LatestSnapshot("trade_cal")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20260824", key)

	report := readReport(t, reportDir)
	assert.Equal(t, ModeUpdate, report.Mode)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Assets, 1)
	assert.Equal(t, "ok", report.Assets[0].Status)
	require.NotNil(t, report.Quality)
	assert.Empty(t, report.Quality.Unresolved)
}

func TestRunIsolatesFailingAssets(t *testing.T) {
	fetcher := &stubFetcher{onCall: func(map[string]string) (*frame.Frame, provider.Status) {
		return calendarFrame(), provider.StatusSuccess
	}}
	man := manifest.Manifest{Assets: []manifest.Asset{
		{Name: "no_such_endpoint", Kind: manifest.KindTradeDate, BackfillStart: "20260818"},
		{Name: "trade_cal", Kind: manifest.KindSnapshot},
	}}
	orch, _, reportDir := newFixture(t, man, fetcher)

	code, err := orch.Run(context.Background(), ModeBackfill)
	require.NoError(t, err, "a failing asset is recorded, not fatal")
	assert.Equal(t, ExitQualityUnresolved, code)

	report := readReport(t, reportDir)
	require.Len(t, report.Assets, 2)
	assert.Equal(t, "failed", report.Assets[0].Status)
	assert.Equal(t, "ok", report.Assets[1].Status, "later assets still run")
	require.NotNil(t, report.Quality)
	assert.NotEmpty(t, report.Quality.Unresolved)
}

func TestRunUpdateHonorsRunWindow(t *testing.T) {
	fetcher := &stubFetcher{onCall: func(map[string]string) (*frame.Frame, provider.Status) {
		fr := frame.New([]string{"ts_code", "val"})
		fr.Append(frame.Row{"ts_code": "000001.SZ", "val": 1.0})
		return fr, provider.StatusSuccess
	}}
	// August is outside the January-May reporting season.
	man := manifest.Manifest{Assets: []manifest.Asset{
		{Name: "income", Kind: manifest.KindPeriod, BackfillStart: "20260101",
			Policy: manifest.Policy{RunWindow: &manifest.RunWindow{StartMonth: 1, EndMonth: 5}}},
	}}
	orch, _, reportDir := newFixture(t, man, fetcher)

	code, err := orch.Run(context.Background(), ModeUpdate)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	report := readReport(t, reportDir)
	require.Len(t, report.Assets, 1)
	assert.Equal(t, "skipped", report.Assets[0].Status)
	require.NotNil(t, report.Quality)
	assert.Equal(t, 3, report.Quality.Refetched,
		"the quality workflow still repairs the missing quarters")
}

func TestRunQualityCheckModeDoesNoSweep(t *testing.T) {
	fetcher := &stubFetcher{onCall: func(map[string]string) (*frame.Frame, provider.Status) {
		return calendarFrame(), provider.StatusSuccess
	}}
	man := manifest.Manifest{Assets: []manifest.Asset{
		{Name: "trade_cal", Kind: manifest.KindSnapshot},
	}}
	orch, store, _ := newFixture(t, man, fetcher)

	// Pre-seed a healthy snapshot so the check passes without ingestion.
	cal := calendarFrame()
	require.NoError(t, store.WritePartition("trade_cal", storage.SnapshotDir("20260824"), cal, storage.Metadata{
		PartitionKey: "20260824", RowCount: cal.RowCount(), Checksum: cal.Checksum(), SchemaFields: cal.Columns,
	}))

	code, err := orch.Run(context.Background(), ModeQualityCheck)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)
	assert.Zero(t, fetcher.calls, "quality_check mode must not ingest anything when clean")
}

func TestRunRejectsUnknownMode(t *testing.T) {
	orch, _, _ := newFixture(t, manifest.Manifest{}, &stubFetcher{})

	code, err := orch.Run(context.Background(), Mode("weekly"))
	assert.Error(t, err)
	assert.Equal(t, ExitHardFailure, code)
}
