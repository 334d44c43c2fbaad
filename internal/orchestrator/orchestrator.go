package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantarc/quantarc/internal/archive"
	"github.com/quantarc/quantarc/internal/manifest"
	"github.com/quantarc/quantarc/internal/quality"
)

// Mode selects what an orchestrator run does.
type Mode string

const (
	ModeBackfill     Mode = "backfill"
	ModeUpdate       Mode = "update"
	ModeQualityCheck Mode = "quality_check"
)

// Exit codes per the CLI contract.
const (
	ExitOK                = 0
	ExitHardFailure       = 1
	ExitQualityUnresolved = 2
)

// AssetOutcome records how one manifest entry fared within a run.
type AssetOutcome struct {
	Asset  string `json:"asset"`
	Status string `json:"status"` // "ok", "skipped", "failed"
	Error  string `json:"error,omitempty"`
}

// RunReport is the artifact written after every orchestrator run.
type RunReport struct {
	RunID      string          `json:"run_id"`
	Mode       Mode            `json:"mode"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Assets     []AssetOutcome  `json:"assets"`
	Quality    *quality.Report `json:"quality,omitempty"`
}

// Orchestrator drives the manifest through one of the three run modes.
// Every asset is isolated: a failing asset is recorded and the sweep moves
// on. Cancellation is honored between partitions, never mid-request.
type Orchestrator struct {
	man       manifest.Manifest
	deps      archive.Deps
	checker   *quality.Checker
	reportDir string
}

// New assembles an orchestrator over shared archiver dependencies.
func New(man manifest.Manifest, deps archive.Deps, checker *quality.Checker, reportDir string) *Orchestrator {
	return &Orchestrator{man: man, deps: deps, checker: checker, reportDir: reportDir}
}

// Run executes one mode and returns the process exit code.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (int, error) {
	report := &RunReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: o.now().UTC(),
	}
	log.Info().Str("run_id", report.RunID).Str("mode", string(mode)).
		Int("assets", len(o.man.Assets)).Msg("Orchestrator run starting")

	switch mode {
	case ModeBackfill:
		o.sweep(ctx, report, func(a archive.Archiver) error { return a.Backfill(ctx) }, false)
	case ModeUpdate:
		o.sweep(ctx, report, func(a archive.Archiver) error { return a.Update(ctx) }, true)
	case ModeQualityCheck:
		// No ingestion; the workflow below is the whole run.
	default:
		return ExitHardFailure, fmt.Errorf("unknown mode: %s", mode)
	}

	qreport, err := quality.RunWorkflow(ctx, o.checker, o.man.Assets, o.build)
	if err != nil {
		return ExitHardFailure, err
	}
	report.Quality = qreport
	report.FinishedAt = o.now().UTC()
	o.writeReport(report)

	if !qreport.Clean() {
		return ExitQualityUnresolved, nil
	}
	return ExitOK, nil
}

// sweep runs one operation over every manifest entry in declared order.
func (o *Orchestrator) sweep(ctx context.Context, report *RunReport,
	op func(archive.Archiver) error, honorWindow bool) {

	for _, asset := range o.man.Assets {
		if err := ctx.Err(); err != nil {
			report.Assets = append(report.Assets, AssetOutcome{Asset: asset.Name, Status: "skipped", Error: err.Error()})
			continue
		}
		if honorWindow && !asset.Policy.InWindow(o.now().Month()) {
			log.Debug().Str("asset", asset.Name).Msg("Asset outside its run window; skipped")
			report.Assets = append(report.Assets, AssetOutcome{Asset: asset.Name, Status: "skipped"})
			continue
		}

		archiver, err := o.build(asset)
		if err != nil {
			log.Error().Err(err).Str("asset", asset.Name).Msg("Archiver construction failed; asset skipped")
			report.Assets = append(report.Assets, AssetOutcome{Asset: asset.Name, Status: "failed", Error: err.Error()})
			continue
		}
		if err := op(archiver); err != nil {
			if ctx.Err() != nil {
				report.Assets = append(report.Assets, AssetOutcome{Asset: asset.Name, Status: "skipped", Error: err.Error()})
				continue
			}
			log.Error().Err(err).Str("asset", asset.Name).Msg("Asset sweep failed; continuing with next asset")
			report.Assets = append(report.Assets, AssetOutcome{Asset: asset.Name, Status: "failed", Error: err.Error()})
			continue
		}
		report.Assets = append(report.Assets, AssetOutcome{Asset: asset.Name, Status: "ok"})
	}
}

func (o *Orchestrator) build(asset manifest.Asset) (archive.Archiver, error) {
	return archive.New(asset, o.deps)
}

func (o *Orchestrator) now() time.Time {
	if o.deps.Now != nil {
		return o.deps.Now()
	}
	return time.Now()
}

// writeReport persists the run artifact; failure to do so never fails the
// run itself.
func (o *Orchestrator) writeReport(report *RunReport) {
	if o.reportDir == "" {
		return
	}
	if err := os.MkdirAll(o.reportDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("Failed to create report directory")
		return
	}
	name := fmt.Sprintf("%s_%s.json", report.StartedAt.Format("20060102_150405"), report.Mode)
	path := filepath.Join(o.reportDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal run report")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to write run report")
		return
	}
	log.Info().Str("path", path).Str("run_id", report.RunID).Msg("Run report written")
}
