package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Explicit path that does not exist is an error.
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)

	// No path falls back to defaults when no config file is discoverable.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "/downloads/movies", cfg.Download.MoviesPath)
	assert.Equal(t, "/downloads/tvshows", cfg.Download.TVShowsPath)
	assert.Equal(t, "/downloads/temp", cfg.Download.TempPath)
	assert.Equal(t, 3, cfg.Download.ParallelDownloads)
	assert.Equal(t, 5, cfg.Download.SegmentConcurrency)
	assert.Equal(t, "best", cfg.Download.DefaultQuality)
	assert.Equal(t, "en", cfg.Download.DefaultLanguage)
	assert.Equal(t, 2*time.Second, cfg.Extractor.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Extractor.MaxRetryDelay)
	assert.Equal(t, 2.0, cfg.Extractor.RetryBackoffMultiplier)
	assert.Zero(t, cfg.Extractor.MaxRetries)
	assert.Equal(t, 2*time.Hour, cfg.Muxer.Timeout)
	assert.Equal(t, 100, cfg.Progress.SubscriberBuffer)
	assert.True(t, cfg.Cleanup.Enabled)
	assert.False(t, cfg.Catalogue.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
download:
  movies_path: /media/movies
  parallel_downloads: 5
extractor:
  base_url: https://provider.example
  timeout: 45s
catalogue:
  api_key: secret-key
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/media/movies", cfg.Download.MoviesPath)
	assert.Equal(t, 5, cfg.Download.ParallelDownloads)
	assert.Equal(t, "https://provider.example", cfg.Extractor.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Extractor.Timeout)
	assert.True(t, cfg.Catalogue.Enabled())
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "/downloads/tvshows", cfg.Download.TVShowsPath)
}

func TestLoadExtendedDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
cleanup:
  max_age: 30 days
muxer:
  timeout: 1h30m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*24*time.Hour, cfg.Cleanup.MaxAge)
	assert.Equal(t, 90*time.Minute, cfg.Muxer.Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	t.Setenv("FETCHARR_SERVER_PORT", "7070")
	t.Setenv("FETCHARR_DOWNLOAD_SEGMENT_CONCURRENCY", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Download.SegmentConcurrency)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.Server.Port = 8080
		c.Logging.Level = "info"
		c.Logging.Format = "json"
		c.Download.MoviesPath = "/m"
		c.Download.TVShowsPath = "/t"
		c.Download.TempPath = "/tmp/f"
		c.Download.ParallelDownloads = 3
		c.Download.SegmentConcurrency = 5
		c.Extractor.RetryDelay = 2 * time.Second
		c.Extractor.MaxRetryDelay = 30 * time.Second
		c.Extractor.RetryBackoffMultiplier = 2
		c.Muxer.Timeout = time.Hour
		c.Progress.SubscriberBuffer = 100
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"missing movies path", func(c *Config) { c.Download.MoviesPath = "" }, "movies_path"},
		{"zero parallel", func(c *Config) { c.Download.ParallelDownloads = 0 }, "parallel_downloads"},
		{"zero segment workers", func(c *Config) { c.Download.SegmentConcurrency = 0 }, "segment_concurrency"},
		{"cap below base delay", func(c *Config) { c.Extractor.MaxRetryDelay = time.Second }, "max_retry_delay"},
		{"multiplier below one", func(c *Config) { c.Extractor.RetryBackoffMultiplier = 0.5 }, "retry_backoff_multiplier"},
		{"negative retries", func(c *Config) { c.Extractor.MaxRetries = -1 }, "max_retries"},
		{"zero mux timeout", func(c *Config) { c.Muxer.Timeout = 0 }, "muxer.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
