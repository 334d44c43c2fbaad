package requestlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/quantarc/quantarc/internal/metrics"
)

// Request outcome statuses.
const (
	StatusSuccess  = "success"
	StatusUpdated  = "updated"
	StatusNoChange = "no_change"
	StatusNoData   = "no_data"
	StatusSkipped  = "skipped"
	StatusError    = "error"
)

// Entry is one recorded partition attempt. The unique key is
// (data_type, partition_key, ingest_date); re-running the same key on the
// same day replaces its own prior attempt.
type Entry struct {
	ID           int64     `db:"id"`
	DataType     string    `db:"data_type"`
	PartitionKey string    `db:"partition_key"`
	IngestDate   string    `db:"ingest_date"`
	Params       string    `db:"params"`
	RowCount     int       `db:"row_count"`
	Checksum     string    `db:"checksum"`
	Status       string    `db:"status"`
	ErrorMessage string    `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS request_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    data_type TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    ingest_date TEXT NOT NULL,
    params TEXT,
    row_count INTEGER,
    checksum TEXT,
    status TEXT NOT NULL,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE(data_type, partition_key, ingest_date)
);`

// Store is the durable request log backed by a single sqlite file.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the request log at path. The connection
// carries a busy timeout so short concurrent writers back off instead of
// failing immediately.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open request log: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize request log schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts one attempt. A write failure is reported and swallowed:
// the on-disk partition remains authoritative even when the log misses it.
func (s *Store) Record(e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
        INSERT OR REPLACE INTO request_log
            (data_type, partition_key, ingest_date, params, row_count, checksum, status, error_message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DataType, e.PartitionKey, e.IngestDate, e.Params,
		e.RowCount, e.Checksum, e.Status, e.ErrorMessage, e.CreatedAt)
	if err != nil {
		metrics.LogWriteFailures.Inc()
		log.Error().Err(err).Str("data_type", e.DataType).Str("partition_key", e.PartitionKey).
			Msg("Request log write failed; partition data on disk remains authoritative")
	}
}

// LastChecksum returns the most recent non-error checksum recorded for a
// partition key, or ok=false when the key has never been logged.
func (s *Store) LastChecksum(dataType, partitionKey string) (string, bool, error) {
	var checksum string
	err := s.db.Get(&checksum, `
        SELECT checksum FROM request_log
        WHERE data_type = ? AND partition_key = ? AND status IN (?, ?, ?)
        ORDER BY ingest_date DESC, created_at DESC LIMIT 1`,
		dataType, partitionKey, StatusSuccess, StatusUpdated, StatusNoChange)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query last checksum: %w", err)
	}
	return checksum, true, nil
}

// LastRowCount returns the most recent successfully stored row count for a
// partition key, or ok=false when none exists.
func (s *Store) LastRowCount(dataType, partitionKey string) (int, bool, error) {
	var n int
	err := s.db.Get(&n, `
        SELECT row_count FROM request_log
        WHERE data_type = ? AND partition_key = ? AND status IN (?, ?)
        ORDER BY ingest_date DESC, created_at DESC LIMIT 1`,
		dataType, partitionKey, StatusSuccess, StatusUpdated)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query last row count: %w", err)
	}
	return n, true, nil
}

// LastSuccessDate returns the most recent ingest date with a successful
// outcome for the asset, or ok=false when the asset has never succeeded.
func (s *Store) LastSuccessDate(dataType string) (string, bool, error) {
	var d string
	err := s.db.Get(&d, `
        SELECT ingest_date FROM request_log
        WHERE data_type = ? AND status IN (?, ?)
        ORDER BY ingest_date DESC LIMIT 1`,
		dataType, StatusSuccess, StatusUpdated)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query last success date: %w", err)
	}
	return d, true, nil
}

// SuccessfulKeys returns the set of partition keys with status=success for
// the asset. Code-driven archivers use this to resume an interrupted run.
func (s *Store) SuccessfulKeys(dataType string) (map[string]bool, error) {
	var keys []string
	err := s.db.Select(&keys, `
        SELECT DISTINCT partition_key FROM request_log
        WHERE data_type = ? AND status = ?`, dataType, StatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("failed to query successful keys: %w", err)
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set, nil
}

// HasOutcome reports whether the key has any entry with one of the given
// statuses.
func (s *Store) HasOutcome(dataType, partitionKey string, statuses ...string) (bool, error) {
	query, args, err := sqlx.In(`
        SELECT COUNT(1) FROM request_log
        WHERE data_type = ? AND partition_key = ? AND status IN (?)`,
		dataType, partitionKey, statuses)
	if err != nil {
		return false, fmt.Errorf("failed to build outcome query: %w", err)
	}
	var n int
	if err := s.db.Get(&n, s.db.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("failed to query outcome: %w", err)
	}
	return n > 0, nil
}

// History returns the asset's entries, newest first, optionally bounded to
// ingest dates >= since (YYYY-MM-DD); since may be empty for the full
// history.
func (s *Store) History(dataType, since string) ([]Entry, error) {
	var entries []Entry
	query := `
        SELECT id, data_type, partition_key, ingest_date, params, row_count,
               checksum, status, COALESCE(error_message, '') AS error_message, created_at
        FROM request_log WHERE data_type = ?`
	args := []any{dataType}
	if since != "" {
		query += ` AND ingest_date >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY ingest_date DESC, created_at DESC`
	if err := s.db.Select(&entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return entries, nil
}

// MarshalParams renders request params for the params column. Marshalling a
// flat string map cannot fail; an empty map renders as "{}".
func MarshalParams(params map[string]string) string {
	if params == nil {
		params = map[string]string{}
	}
	data, _ := json.Marshal(params)
	return string(data)
}
