// Package config provides configuration management for fetcharr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/fetcharr/fetcharr/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultParallelDownloads = 3
	defaultSegmentWorkers    = 5
	defaultExtractorTimeout  = 30 * time.Second
	defaultRetryDelay        = 2 * time.Second
	defaultMaxRetryDelay     = 30 * time.Second
	defaultBackoffMultiplier = 2.0
	defaultSubscriberBuffer  = 100
	defaultMuxTimeout        = 2 * time.Hour
	defaultCleanupCron       = "0 0 * * * *" // hourly, 6-field cron
	defaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Download  DownloadConfig  `mapstructure:"download"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Catalogue CatalogueConfig `mapstructure:"catalogue"`
	Muxer     MuxerConfig     `mapstructure:"muxer"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string        `mapstructure:"level"`  // debug, info, warn, error
	Format     string        `mapstructure:"format"` // json, text
	AddSource  bool          `mapstructure:"add_source"`
	TimeFormat string        `mapstructure:"time_format"`
	File       LogFileConfig `mapstructure:"file"`
}

// LogFileConfig holds rotating log file configuration. When Path is empty
// logs go to stderr only.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DownloadConfig holds output layout and scheduling configuration.
type DownloadConfig struct {
	MoviesPath  string `mapstructure:"movies_path"`
	TVShowsPath string `mapstructure:"tv_shows_path"`
	TempPath    string `mapstructure:"temp_path"`

	// ParallelDownloads is the maximum number of tasks running concurrently.
	ParallelDownloads int `mapstructure:"parallel_downloads"`
	// SegmentConcurrency is the maximum number of in-flight segment fetches
	// per track.
	SegmentConcurrency int `mapstructure:"segment_concurrency"`

	DefaultQuality  string `mapstructure:"default_quality"`
	DefaultLanguage string `mapstructure:"default_language"`
}

// ExtractorConfig holds provider access and retry configuration.
type ExtractorConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`

	// RetryDelay is the base backoff before the first retry.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// MaxRetries caps retry attempts; 0 retries until the context is
	// cancelled.
	MaxRetries int `mapstructure:"max_retries"`
	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	// RetryBackoffMultiplier is the exponent base for backoff growth.
	RetryBackoffMultiplier float64 `mapstructure:"retry_backoff_multiplier"`

	// RateLimitPerHost throttles requests per upstream host in req/s;
	// 0 disables the limiter.
	RateLimitPerHost float64 `mapstructure:"rate_limit_per_host"`
}

// CatalogueConfig holds metadata catalogue access configuration. An empty
// APIKey disables metadata lookups and the resolver falls back to
// user-supplied titles.
type CatalogueConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MuxerConfig holds external muxer configuration.
type MuxerConfig struct {
	BinaryPath string        `mapstructure:"binary_path"` // empty = look up "ffmpeg" on PATH
	Timeout    time.Duration `mapstructure:"timeout"`     // wall-clock cap per mux
	KillGrace  time.Duration `mapstructure:"kill_grace"`  // SIGTERM to SIGKILL window
}

// ProgressConfig holds progress fan-out configuration.
type ProgressConfig struct {
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// CleanupConfig holds orphaned temp directory janitor configuration.
type CleanupConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"` // 6-field cron expression
	// MaxAge is how old a temp directory must be before it is considered
	// orphaned.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FETCHARR_ and use underscores for
// nesting. Example: FETCHARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/fetcharr")
		v.AddConfigPath("$HOME/.fetcharr")
	}

	v.SetEnvPrefix("FETCHARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeHooks()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHooks returns the decode hooks applied when unmarshalling config.
// Duration keys accept extended units such as "30 days" or "2w" on top of
// the standard Go forms.
func DecodeHooks() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

func stringToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != durationType {
			return data, nil
		}
		return duration.Parse(data.(string))
	}
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in
// place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	// Zero keeps SSE streams alive indefinitely.
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", true)

	// Download defaults
	v.SetDefault("download.movies_path", "/downloads/movies")
	v.SetDefault("download.tv_shows_path", "/downloads/tvshows")
	v.SetDefault("download.temp_path", "/downloads/temp")
	v.SetDefault("download.parallel_downloads", defaultParallelDownloads)
	v.SetDefault("download.segment_concurrency", defaultSegmentWorkers)
	v.SetDefault("download.default_quality", "best")
	v.SetDefault("download.default_language", "en")

	// Extractor defaults
	v.SetDefault("extractor.base_url", "")
	v.SetDefault("extractor.timeout", defaultExtractorTimeout)
	v.SetDefault("extractor.user_agent", defaultUserAgent)
	v.SetDefault("extractor.retry_delay", defaultRetryDelay)
	v.SetDefault("extractor.max_retries", 0)
	v.SetDefault("extractor.max_retry_delay", defaultMaxRetryDelay)
	v.SetDefault("extractor.retry_backoff_multiplier", defaultBackoffMultiplier)
	v.SetDefault("extractor.rate_limit_per_host", 0.0)

	// Catalogue defaults
	v.SetDefault("catalogue.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("catalogue.api_key", "")
	v.SetDefault("catalogue.timeout", defaultExtractorTimeout)

	// Muxer defaults
	v.SetDefault("muxer.binary_path", "")
	v.SetDefault("muxer.timeout", defaultMuxTimeout)
	v.SetDefault("muxer.kill_grace", 10*time.Second)

	// Progress defaults
	v.SetDefault("progress.subscriber_buffer", defaultSubscriberBuffer)

	// Cleanup defaults
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.cron", defaultCleanupCron)
	v.SetDefault("cleanup.max_age", 24*time.Hour)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Download.MoviesPath == "" {
		return fmt.Errorf("download.movies_path is required")
	}
	if c.Download.TVShowsPath == "" {
		return fmt.Errorf("download.tv_shows_path is required")
	}
	if c.Download.TempPath == "" {
		return fmt.Errorf("download.temp_path is required")
	}
	if c.Download.ParallelDownloads < 1 {
		return fmt.Errorf("download.parallel_downloads must be at least 1")
	}
	if c.Download.SegmentConcurrency < 1 {
		return fmt.Errorf("download.segment_concurrency must be at least 1")
	}

	if c.Extractor.RetryDelay <= 0 {
		return fmt.Errorf("extractor.retry_delay must be positive")
	}
	if c.Extractor.MaxRetryDelay < c.Extractor.RetryDelay {
		return fmt.Errorf("extractor.max_retry_delay must not be below extractor.retry_delay")
	}
	if c.Extractor.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("extractor.retry_backoff_multiplier must be at least 1")
	}
	if c.Extractor.MaxRetries < 0 {
		return fmt.Errorf("extractor.max_retries must not be negative")
	}

	if c.Muxer.Timeout <= 0 {
		return fmt.Errorf("muxer.timeout must be positive")
	}

	if c.Progress.SubscriberBuffer < 1 {
		return fmt.Errorf("progress.subscriber_buffer must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether catalogue lookups are configured.
func (c *CatalogueConfig) Enabled() bool {
	return c.APIKey != ""
}
