// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all client configuration.
type Config struct {
	// Backend
	ServerURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (empty = disabled)
	MetricsAddr string

	// Local state
	StateDir     string
	BlobCacheDir string
	BlobCacheMax int64

	// Uploads
	MaxUploadSize int64

	// Search
	SearchDebounce time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:      envOr("SERVER_URL", ""),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "console"),
		MetricsAddr:    envOr("METRICS_ADDR", ""),
		StateDir:       envOr("STATE_DIR", defaultStateDir()),
		BlobCacheDir:   envOr("BLOB_CACHE_DIR", ""),
		BlobCacheMax:   envInt64("BLOB_CACHE_MAX", 2<<30), // 2GB default
		MaxUploadSize:  envInt64("MAX_UPLOAD_SIZE", 5<<30),
		SearchDebounce: time.Duration(envInt("SEARCH_DEBOUNCE_MS", 300)) * time.Millisecond,
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("SERVER_URL is required")
	}
	if cfg.BlobCacheDir == "" {
		cfg.BlobCacheDir = filepath.Join(cfg.StateDir, "blobs")
	}

	return cfg, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".breezedrive"
	}
	return filepath.Join(home, ".local", "share", "breezedrive")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
