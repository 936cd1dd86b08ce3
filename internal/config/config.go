// Package config provides unified configuration for the drawabledb tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for one drawable cache instance.
type Config struct {
	// CaseDir is the base directory of the case; the private cache file
	// lives under it.
	CaseDir string `json:"case_dir" yaml:"case_dir"`

	// CaseDBPath is the shared case database file. Defaults to
	// <case_dir>/case.db.
	CaseDBPath string `json:"case_db_path" yaml:"case_db_path"`

	// CacheDBName is the private cache file name within CaseDir.
	CacheDBName string `json:"cache_db_name" yaml:"cache_db_name"`

	// ExaminerID identifies this examiner in shared seen-state rows.
	ExaminerID int64 `json:"examiner_id" yaml:"examiner_id"`

	// Caches tunes the short-lived in-memory caches.
	Caches CachesConfig `json:"caches" yaml:"caches"`

	// MetricsAddr is the address of the Prometheus metrics endpoint; empty
	// disables it.
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// CachesConfig holds the TTLs and sizes of the write-avoidance caches.
type CachesConfig struct {
	// GroupTTL bounds how stale the group-existence cache may be relative
	// to deletes on other examiner nodes.
	GroupTTL time.Duration `json:"group_ttl" yaml:"group_ttl"`

	// SeenTTL bounds the seen-state cache the same way.
	SeenTTL time.Duration `json:"seen_ttl" yaml:"seen_ttl"`

	GroupSize int `json:"group_size" yaml:"group_size"`
	SeenSize  int `json:"seen_size" yaml:"seen_size"`
	VideoSize int `json:"video_size" yaml:"video_size"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		CaseDir:     "./case",
		CacheDBName: "drawabledb.db",
		ExaminerID:  0,
		Caches: CachesConfig{
			GroupTTL:  5 * time.Minute,
			SeenTTL:   5 * time.Minute,
			GroupSize: 10000,
			SeenSize:  10000,
			VideoSize: 10000,
		},
		LogLevel: "info",
	}
}

// Resolve resolves relative paths and fills defaults based on CaseDir.
func (c *Config) Resolve() {
	if c.CaseDir == "" {
		c.CaseDir = "./case"
	}
	if c.CacheDBName == "" {
		c.CacheDBName = "drawabledb.db"
	}
	if c.CaseDBPath == "" {
		c.CaseDBPath = filepath.Join(c.CaseDir, "case.db")
	}
}

// CachePath returns the path to the private cache file.
func (c *Config) CachePath() string {
	return filepath.Join(c.CaseDir, c.CacheDBName)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CaseDir == "" {
		return fmt.Errorf("case_dir is required")
	}
	if c.CaseDBPath == "" {
		return fmt.Errorf("case_db_path is required")
	}
	if c.ExaminerID < 0 {
		return fmt.Errorf("examiner_id must not be negative, got %d", c.ExaminerID)
	}
	if c.Caches.GroupTTL < 0 || c.Caches.SeenTTL < 0 {
		return fmt.Errorf("cache TTLs must not be negative")
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DRAWABLEDB_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DRAWABLEDB_CASE_DIR"); v != "" {
		cfg.CaseDir = v
	}
	if v := os.Getenv("DRAWABLEDB_CASE_DB_PATH"); v != "" {
		cfg.CaseDBPath = v
	}
	if v := os.Getenv("DRAWABLEDB_CACHE_DB_NAME"); v != "" {
		cfg.CacheDBName = v
	}
	if v := os.Getenv("DRAWABLEDB_EXAMINER_ID"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.ExaminerID)
	}

	if v := os.Getenv("DRAWABLEDB_GROUP_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Caches.GroupTTL = d
		}
	}
	if v := os.Getenv("DRAWABLEDB_SEEN_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Caches.SeenTTL = d
		}
	}
	if v := os.Getenv("DRAWABLEDB_GROUP_CACHE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Caches.GroupSize)
	}
	if v := os.Getenv("DRAWABLEDB_SEEN_CACHE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Caches.SeenSize)
	}
	if v := os.Getenv("DRAWABLEDB_VIDEO_CACHE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Caches.VideoSize)
	}

	if v := os.Getenv("DRAWABLEDB_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("DRAWABLEDB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// EnsureDirectories creates the case directory if needed.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.CaseDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.CaseDir, err)
	}
	return nil
}
