package manifest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind selects which archiver variant traverses an asset's keyspace.
type Kind string

const (
	KindPeriod       Kind = "period"
	KindTradeDate    Kind = "trade_date"
	KindEventDate    Kind = "event_date"
	KindSnapshot     Kind = "snapshot"
	KindCode         Kind = "code"
	KindIndexMonthly Kind = "index_monthly"
)

var knownKinds = map[Kind]bool{
	KindPeriod: true, KindTradeDate: true, KindEventDate: true,
	KindSnapshot: true, KindCode: true, KindIndexMonthly: true,
}

// RunWindow restricts update runs to a span of calendar months, e.g. the
// earnings reporting season.
type RunWindow struct {
	StartMonth int `yaml:"start_month"`
	EndMonth   int `yaml:"end_month"`
}

// Policy carries the update-window sizing for one asset. At most one
// lookback applies, in the archiver's natural time unit.
type Policy struct {
	LookbackQuarters int        `yaml:"lookback_quarters,omitempty"`
	LookbackMonths   int        `yaml:"lookback_months,omitempty"`
	LookbackDays     int        `yaml:"lookback_days,omitempty"`
	RetentionDays    int        `yaml:"retention_days,omitempty"`
	RunWindow        *RunWindow `yaml:"run_window,omitempty"`
}

// InWindow reports whether an update run is allowed in the given month.
// A nil window never restricts. Windows may wrap the year end.
func (p Policy) InWindow(month time.Month) bool {
	w := p.RunWindow
	if w == nil {
		return true
	}
	m := int(month)
	if w.StartMonth <= w.EndMonth {
		return m >= w.StartMonth && m <= w.EndMonth
	}
	return m >= w.StartMonth || m <= w.EndMonth
}

// Asset is one manifest entry: a dataset bound to an archiver kind, a
// backfill origin, and an update policy.
type Asset struct {
	Name          string   `yaml:"name"`
	Kind          Kind     `yaml:"kind"`
	BackfillStart string   `yaml:"backfill_start,omitempty"`
	DriverSource  string   `yaml:"driver_source,omitempty"`
	DateField     string   `yaml:"date_field,omitempty"`
	IndexCodes    []string `yaml:"index_codes,omitempty"`
	Policy        Policy   `yaml:"policy"`
}

// Manifest is the declarative asset list, processed in order.
type Manifest struct {
	Assets []Asset `yaml:"assets"`
}

// Load reads a manifest from a YAML file and validates it.
func Load(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate checks every entry for structural problems that would only
// surface mid-run otherwise.
func (m Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Assets))
	for _, a := range m.Assets {
		if a.Name == "" {
			return fmt.Errorf("manifest entry without a name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate manifest entry: %s", a.Name)
		}
		seen[a.Name] = true
		if !knownKinds[a.Kind] {
			return fmt.Errorf("asset %s: unknown archiver kind %q", a.Name, a.Kind)
		}
		if a.BackfillStart != "" {
			if _, err := time.Parse("20060102", a.BackfillStart); err != nil {
				return fmt.Errorf("asset %s: malformed backfill_start %q", a.Name, a.BackfillStart)
			}
		}
		if a.Kind == KindIndexMonthly && len(a.IndexCodes) == 0 {
			return fmt.Errorf("asset %s: index_monthly requires index_codes", a.Name)
		}
		if w := a.Policy.RunWindow; w != nil {
			if w.StartMonth < 1 || w.StartMonth > 12 || w.EndMonth < 1 || w.EndMonth > 12 {
				return fmt.Errorf("asset %s: run_window months must be 1-12", a.Name)
			}
		}
	}
	return nil
}

// Default returns the built-in manifest covering the vendor's common
// assets. The trade calendar comes first: trade-date archivers and the
// quality checker read it from local storage.
func Default() Manifest {
	return Manifest{Assets: []Asset{
		{Name: "trade_cal", Kind: KindSnapshot, Policy: Policy{RetentionDays: 30}},
		{Name: "stock_basic", Kind: KindSnapshot, Policy: Policy{RetentionDays: 30}},
		{Name: "daily", Kind: KindTradeDate, BackfillStart: "20070101", Policy: Policy{LookbackDays: 7}},
		{Name: "adj_factor", Kind: KindTradeDate, BackfillStart: "20070101", Policy: Policy{LookbackDays: 7}},
		{Name: "daily_basic", Kind: KindTradeDate, BackfillStart: "20070101", Policy: Policy{LookbackDays: 7}},
		{Name: "income", Kind: KindPeriod, BackfillStart: "20070101", Policy: Policy{LookbackQuarters: 12, RunWindow: &RunWindow{StartMonth: 1, EndMonth: 5}}},
		{Name: "balancesheet", Kind: KindPeriod, BackfillStart: "20070101", Policy: Policy{LookbackQuarters: 12}},
		{Name: "cashflow", Kind: KindPeriod, BackfillStart: "20070101", Policy: Policy{LookbackQuarters: 12}},
		{Name: "dividend", Kind: KindEventDate, BackfillStart: "20070101", Policy: Policy{LookbackDays: 30}},
		{Name: "stk_holdernumber", Kind: KindCode, DriverSource: "stock_basic"},
		{Name: "index_weight", Kind: KindIndexMonthly, BackfillStart: "20070101",
			IndexCodes: []string{"000300.SH", "000905.SH", "000852.SH"},
			Policy:     Policy{LookbackMonths: 3}},
	}}
}
