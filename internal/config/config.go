package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the process-wide settings for the archival pipeline.
type Config struct {
	BaseDataPath         string        `yaml:"base_data_path"`
	Source               string        `yaml:"source"`
	APIURL               string        `yaml:"api_url"`
	Token                string        `yaml:"token"`
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute"`
	RetryCount           int           `yaml:"retry_count"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	LimitmaxPath         string        `yaml:"limitmax_path"`
	ManifestPath         string        `yaml:"manifest_path"`
	LogLevel             string        `yaml:"log_level"`
}

// TokenEnvVar names the environment variable that carries the vendor
// credential. It always overrides the config file.
const TokenEnvVar = "QUANTARC_TOKEN"

// Load reads configuration from a YAML file and applies defaults and
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if cfg.BaseDataPath == "" {
		cfg.BaseDataPath = "./data"
	}
	if cfg.Source == "" {
		cfg.Source = "tushare"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.tushare.pro"
	}
	if cfg.MaxRequestsPerMinute == 0 {
		cfg.MaxRequestsPerMinute = 120
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 700 * time.Millisecond
	}
	if cfg.LimitmaxPath == "" {
		cfg.LimitmaxPath = filepath.Join(cfg.BaseDataPath, "limitmax.yaml")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if token := os.Getenv(TokenEnvVar); token != "" {
		cfg.Token = token
	}

	return cfg, nil
}
