package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantarc/quantarc/internal/archive"
	"github.com/quantarc/quantarc/internal/config"
	"github.com/quantarc/quantarc/internal/manifest"
	"github.com/quantarc/quantarc/internal/orchestrator"
	"github.com/quantarc/quantarc/internal/provider"
	"github.com/quantarc/quantarc/internal/quality"
	"github.com/quantarc/quantarc/internal/ratelimit"
	"github.com/quantarc/quantarc/internal/requestlog"
	"github.com/quantarc/quantarc/internal/storage"
)

var (
	flagConfig string
	flagMode   string

	manualKind         string
	manualDataType     string
	manualMode         string
	manualStartDate    string
	manualLookback     int
	manualDriverSource string
)

// rootCmd is the base command for the quantarc CLI.
var rootCmd = &cobra.Command{
	Use:   "quantarc",
	Short: "quantarc vendor-data ingestion and archival pipeline",
	Long: `quantarc pulls tabular datasets from the vendor API and archives them
as partitioned parquet files with sidecar metadata, a durable request log,
and calendar-driven quality checks.`,
}

// orchestratorCmd drives the full manifest in one of the three run modes.
var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Run the manifest in backfill, update, or quality_check mode",
	RunE:  runOrchestrator,
}

// manualCmd drives a single asset without a manifest file.
var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Run one archiver against one data type",
	RunE:  runManual,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "Path to the config file")

	orchestratorCmd.Flags().StringVar(&flagMode, "mode", "update", "Run mode: backfill, update, or quality_check")
	rootCmd.AddCommand(orchestratorCmd)

	manualCmd.Flags().StringVar(&manualKind, "archiver-kind", "", "Archiver kind (period, trade_date, event_date, snapshot, code, index_monthly)")
	manualCmd.Flags().StringVar(&manualDataType, "data-type", "", "Vendor data type to archive")
	manualCmd.Flags().StringVar(&manualMode, "mode", "update", "backfill or update")
	manualCmd.Flags().StringVar(&manualStartDate, "start-date", "20070101", "Backfill origin (YYYYMMDD)")
	manualCmd.Flags().IntVar(&manualLookback, "lookback", 0, "Update window in the archiver's natural unit")
	manualCmd.Flags().StringVar(&manualDriverSource, "driver-source", "", "Driver source for code-driven kinds")
	_ = manualCmd.MarkFlagRequired("archiver-kind")
	_ = manualCmd.MarkFlagRequired("data-type")
	rootCmd.AddCommand(manualCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(orchestrator.ExitHardFailure)
	}
}

// setup wires the shared dependency graph from configuration.
func setup() (config.Config, archive.Deps, *requestlog.Store, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, archive.Deps{}, nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	limits, err := config.NewLimitStore(cfg.LimitmaxPath)
	if err != nil {
		return cfg, archive.Deps{}, nil, err
	}

	rlog, err := requestlog.Open(filepath.Join(cfg.BaseDataPath, "logs", "request_log.db"))
	if err != nil {
		return cfg, archive.Deps{}, nil, err
	}

	gate := ratelimit.NewGate(cfg.MaxRequestsPerMinute)
	deps := archive.Deps{
		Fetcher: provider.NewClient(cfg, gate, limits),
		Store:   storage.NewStore(cfg.BaseDataPath, cfg.Source),
		Log:     rlog,
	}
	return cfg, deps, rlog, nil
}

func runOrchestrator(cmd *cobra.Command, args []string) error {
	mode := orchestrator.Mode(flagMode)
	switch mode {
	case orchestrator.ModeBackfill, orchestrator.ModeUpdate, orchestrator.ModeQualityCheck:
	default:
		return fmt.Errorf("unknown mode: %s", flagMode)
	}

	cfg, deps, rlog, err := setup()
	if err != nil {
		return err
	}
	defer rlog.Close()

	man := manifest.Default()
	if cfg.ManifestPath != "" {
		man, err = manifest.Load(cfg.ManifestPath)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := quality.NewChecker(deps.Store, rlog, nil)
	orch := orchestrator.New(man, deps, checker, filepath.Join(cfg.BaseDataPath, "reports"))

	code, err := orch.Run(ctx, mode)
	if err != nil {
		log.Error().Err(err).Msg("Orchestrator run failed")
		os.Exit(orchestrator.ExitHardFailure)
	}
	if code != orchestrator.ExitOK {
		os.Exit(code)
	}
	return nil
}

func runManual(cmd *cobra.Command, args []string) error {
	_, deps, rlog, err := setup()
	if err != nil {
		return err
	}
	defer rlog.Close()

	asset := manifest.Asset{
		Name:          manualDataType,
		Kind:          manifest.Kind(manualKind),
		BackfillStart: manualStartDate,
		DriverSource:  manualDriverSource,
	}
	switch asset.Kind {
	case manifest.KindPeriod:
		asset.Policy.LookbackQuarters = manualLookback
	case manifest.KindIndexMonthly:
		asset.Policy.LookbackMonths = manualLookback
	default:
		asset.Policy.LookbackDays = manualLookback
	}
	if err := (manifest.Manifest{Assets: []manifest.Asset{asset}}).Validate(); err != nil {
		return err
	}

	archiver, err := archive.New(asset, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch manualMode {
	case "backfill":
		return archiver.Backfill(ctx)
	case "update":
		return archiver.Update(ctx)
	default:
		return fmt.Errorf("unknown mode: %s", manualMode)
	}
}
