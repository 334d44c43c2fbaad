package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LimitStore persists per-endpoint page-size caps discovered at run time.
// When the vendor returns more rows than the configured cap, the client
// records the larger value here so later runs paginate correctly.
type LimitStore struct {
	mu     sync.Mutex
	path   string
	limits map[string]int
}

// NewLimitStore loads the limitmax file at path, tolerating its absence.
func NewLimitStore(path string) (*LimitStore, error) {
	s := &LimitStore{path: path, limits: make(map[string]int)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read limitmax file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.limits); err != nil {
		return nil, fmt.Errorf("failed to parse limitmax file: %w", err)
	}
	return s, nil
}

// Get returns the stored cap for an endpoint, falling back to def.
func (s *LimitStore) Get(endpoint string, def int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.limits[endpoint]; ok && v > 0 {
		return v
	}
	return def
}

// Set records a newly observed cap and rewrites the file atomically.
// A persistence failure is logged and swallowed; the in-memory value still
// applies for the rest of the run.
func (s *LimitStore) Set(endpoint string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limits[endpoint] == limit {
		return
	}
	s.limits[endpoint] = limit

	if err := s.persistLocked(); err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Int("limitmax", limit).
			Msg("Failed to persist discovered limitmax")
		return
	}
	log.Info().Str("endpoint", endpoint).Int("limitmax", limit).
		Msg("Discovered limitmax persisted")
}

func (s *LimitStore) persistLocked() error {
	data, err := yaml.Marshal(s.limits)
	if err != nil {
		return fmt.Errorf("failed to marshal limitmax map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create limitmax directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write limitmax temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace limitmax file: %w", err)
	}
	return nil
}
