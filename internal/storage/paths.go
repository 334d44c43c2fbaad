package storage

import "path/filepath"

// Partition file names inside a leaf directory.
const (
	DataFileName     = "data.parquet"
	MetadataFileName = "metadata.json"
)

// PeriodDir returns the partition directory for a fiscal-period key.
func PeriodDir(key string) string {
	return "period=" + key
}

// PeriodVersionDir returns the versioned subdirectory for one ingest date
// (ISO format) within a fiscal-period partition.
func PeriodVersionDir(key, ingestDate string) string {
	return filepath.Join(PeriodDir(key), "ingest_date="+ingestDate)
}

// TradeDateDir returns the partition directory for a trading-day key.
func TradeDateDir(key string) string {
	return "trade_date=" + key
}

// EventDateDir returns the partition directory for an event-day key under
// the configured date field (ann_date by default).
func EventDateDir(field, key string) string {
	return field + "=" + key
}

// SnapshotDir returns the partition directory for an ingest-day snapshot.
func SnapshotDir(key string) string {
	return "snapshot_date=" + key
}

// CodeDir returns the partition directory for an instrument code.
func CodeDir(code string) string {
	return "ts_code=" + code
}

// IndexMonthlyDir returns the nested partition directory for an
// (index code, month end) pair.
func IndexMonthlyDir(indexCode, monthEnd string) string {
	return filepath.Join("index_code="+indexCode, "trade_date="+monthEnd)
}
