package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantarc/quantarc/internal/frame"
)

// Metadata is the sidecar record written next to every partition data file.
type Metadata struct {
	PartitionKey string   `json:"partition_key"`
	IngestDate   string   `json:"ingest_date"`
	RowCount     int      `json:"row_count"`
	Checksum     string   `json:"checksum"`
	CreatedAt    string   `json:"created_at"`
	SchemaFields []string `json:"schema_fields"`
}

// Store is the directory-partitioned columnar store rooted at
// <base>/raw/landing/<source>. Every leaf partition holds data.parquet
// (omitted when the frame is empty) plus metadata.json, and is committed by
// an atomic directory rename.
type Store struct {
	base   string
	source string
}

// NewStore creates a store for one vendor source under base.
func NewStore(base, source string) *Store {
	return &Store{base: base, source: source}
}

// AssetDir returns the directory holding every partition of one data type.
func (s *Store) AssetDir(dataType string) string {
	return filepath.Join(s.base, "raw", "landing", s.source, dataType)
}

// PartitionDir resolves a partition-relative directory to its absolute path.
func (s *Store) PartitionDir(dataType, rel string) string {
	return filepath.Join(s.AssetDir(dataType), rel)
}

// Exists reports whether the partition has been committed: the presence of
// metadata.json is the marker, so known-empty partitions count as present.
func (s *Store) Exists(dataType, rel string) bool {
	_, err := os.Stat(filepath.Join(s.PartitionDir(dataType, rel), MetadataFileName))
	return err == nil
}

// WritePartition commits a frame and its sidecar metadata as one partition.
// Both files are staged in a temporary sibling directory which is then
// renamed into place, so readers see either the previous complete version
// or the new one. An empty frame writes metadata only.
func (s *Store) WritePartition(dataType, rel string, fr *frame.Frame, meta Metadata) error {
	assetDir := s.AssetDir(dataType)
	target := filepath.Join(assetDir, rel)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}

	stage := filepath.Join(assetDir, ".tmp-"+uuid.NewString())
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	if !fr.Empty() {
		if err := writeParquet(filepath.Join(stage, DataFileName), fr); err != nil {
			return err
		}
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal partition metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stage, MetadataFileName), metaBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write partition metadata: %w", err)
	}

	// Swap the staged directory into place. A previous version is moved
	// aside first so the target path never holds a partial partition.
	if _, err := os.Stat(target); err == nil {
		trash := filepath.Join(assetDir, ".tmp-old-"+uuid.NewString())
		if err := os.Rename(target, trash); err != nil {
			return fmt.Errorf("failed to displace previous partition: %w", err)
		}
		defer os.RemoveAll(trash)
	}
	if err := os.Rename(stage, target); err != nil {
		return fmt.Errorf("failed to commit partition: %w", err)
	}

	log.Debug().Str("data_type", dataType).Str("partition", rel).
		Int("rows", fr.RowCount()).Msg("Partition committed")
	return nil
}

// ReadMetadata loads the sidecar metadata of a partition.
func (s *Store) ReadMetadata(dataType, rel string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(s.PartitionDir(dataType, rel), MetadataFileName))
	if err != nil {
		return meta, fmt.Errorf("failed to read partition metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse partition metadata: %w", err)
	}
	return meta, nil
}

// ReadFrame loads a partition's frame. A known-empty partition (metadata
// present, data file absent) yields an empty frame with the recorded
// columns.
func (s *Store) ReadFrame(dataType, rel string) (*frame.Frame, error) {
	meta, err := s.ReadMetadata(dataType, rel)
	if err != nil {
		return nil, err
	}
	if meta.RowCount == 0 {
		return frame.New(meta.SchemaFields), nil
	}
	return readParquet(filepath.Join(s.PartitionDir(dataType, rel), DataFileName), meta.SchemaFields)
}

// ListPartitions returns the key values of immediate partition directories
// named <prefix>=<key> under the asset, sorted ascending. Staging
// directories are skipped.
func (s *Store) ListPartitions(dataType, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.AssetDir(dataType))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list asset directory: %w", err)
	}
	marker := prefix + "="
	var keys []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		if strings.HasPrefix(e.Name(), marker) {
			keys = append(keys, strings.TrimPrefix(e.Name(), marker))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ListVersions returns the ingest dates (ISO format) of the versioned
// subdirectories within a fiscal-period partition, sorted ascending.
func (s *Store) ListVersions(dataType, periodKey string) ([]string, error) {
	dir := s.PartitionDir(dataType, PeriodDir(periodKey))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list period versions: %w", err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "ingest_date=") {
			dates = append(dates, strings.TrimPrefix(e.Name(), "ingest_date="))
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// LatestVersion returns the authoritative (newest ingest date) version
// directory of a fiscal-period partition, relative to the asset directory.
func (s *Store) LatestVersion(dataType, periodKey string) (string, bool, error) {
	dates, err := s.ListVersions(dataType, periodKey)
	if err != nil || len(dates) == 0 {
		return "", false, err
	}
	return PeriodVersionDir(periodKey, dates[len(dates)-1]), true, nil
}

// LatestSnapshot returns the newest snapshot_date key of a snapshot asset.
func (s *Store) LatestSnapshot(dataType string) (string, bool, error) {
	keys, err := s.ListPartitions(dataType, "snapshot_date")
	if err != nil || len(keys) == 0 {
		return "", false, err
	}
	return keys[len(keys)-1], true, nil
}

// PruneSnapshots removes snapshot partitions older than the retention
// horizon and returns the pruned keys.
func (s *Store) PruneSnapshots(dataType string, retentionDays int, now time.Time) ([]string, error) {
	keys, err := s.ListPartitions(dataType, "snapshot_date")
	if err != nil {
		return nil, err
	}
	// A snapshot taken exactly retentionDays ago is already expired, so the
	// cutoff day itself is pruned. retention_days=3 keeps the 3 most recent
	// daily snapshots.
	cutoff := now.AddDate(0, 0, -retentionDays).Format("20060102")
	var pruned []string
	for _, key := range keys {
		if key > cutoff {
			continue
		}
		dir := s.PartitionDir(dataType, SnapshotDir(key))
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("data_type", dataType).Str("snapshot", key).
				Msg("Failed to prune expired snapshot")
			continue
		}
		pruned = append(pruned, key)
	}
	if len(pruned) > 0 {
		log.Info().Str("data_type", dataType).Int("pruned", len(pruned)).
			Int("retention_days", retentionDays).Msg("Expired snapshots pruned")
	}
	return pruned, nil
}
