package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fetcharr/fetcharr/internal/catalogue"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/downloader"
	"github.com/fetcharr/fetcharr/internal/extractor"
	internalhttp "github.com/fetcharr/fetcharr/internal/http"
	"github.com/fetcharr/fetcharr/internal/http/handlers"
	"github.com/fetcharr/fetcharr/internal/httpclient"
	"github.com/fetcharr/fetcharr/internal/muxer"
	"github.com/fetcharr/fetcharr/internal/progress"
	"github.com/fetcharr/fetcharr/internal/storage"
	"github.com/fetcharr/fetcharr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fetcharr server",
	Long: `Start the fetcharr HTTP server and download queue.

The server provides:
- REST API for queueing, inspecting and cancelling downloads
- Server-Sent Events stream of download progress
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("movies-path", "", "Library path for finished movies")
	serveCmd.Flags().String("tv-shows-path", "", "Library path for finished TV episodes")
	serveCmd.Flags().String("temp-path", "", "Scratch path for in-flight downloads")
	serveCmd.Flags().Int("parallel-downloads", 0, "Maximum tasks downloading concurrently")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("download.movies_path", serveCmd.Flags().Lookup("movies-path"))
	mustBindPFlag("download.tv_shows_path", serveCmd.Flags().Lookup("tv-shows-path"))
	mustBindPFlag("download.temp_path", serveCmd.Flags().Lookup("temp-path"))
	mustBindPFlag("download.parallel_downloads", serveCmd.Flags().Lookup("parallel-downloads"))
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, config.DecodeHooks()); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := slog.Default()

	// Output and scratch directories.
	layout, err := storage.NewLayout(cfg.Download.MoviesPath, cfg.Download.TVShowsPath, cfg.Download.TempPath)
	if err != nil {
		return fmt.Errorf("initializing storage layout: %w", err)
	}

	// External muxer.
	binary, err := muxer.FindBinary(cfg.Muxer.BinaryPath)
	if err != nil {
		return fmt.Errorf("locating muxer binary: %w", err)
	}
	muxSupervisor := muxer.NewSupervisor(binary, cfg.Muxer.Timeout, cfg.Muxer.KillGrace, logger)

	// Retrying HTTP client shared by the extractor and segment downloads.
	fetchConfig := httpclient.DefaultConfig()
	fetchConfig.Timeout = cfg.Extractor.Timeout
	fetchConfig.RetryAttempts = cfg.Extractor.MaxRetries
	fetchConfig.RetryDelay = cfg.Extractor.RetryDelay
	fetchConfig.RetryMaxDelay = cfg.Extractor.MaxRetryDelay
	fetchConfig.BackoffMultiplier = cfg.Extractor.RetryBackoffMultiplier
	fetchConfig.RateLimitPerHost = cfg.Extractor.RateLimitPerHost
	if cfg.Extractor.UserAgent != "" {
		fetchConfig.UserAgent = cfg.Extractor.UserAgent
	}
	fetchConfig.Logger = logger
	fetchClient := httpclient.New(fetchConfig)

	resolver := extractor.NewResolver(cfg.Extractor.BaseURL, fetchClient, logger)

	catalogueClient := catalogue.NewClient(catalogue.Config{
		APIKey:  cfg.Catalogue.APIKey,
		BaseURL: cfg.Catalogue.BaseURL,
		Timeout: cfg.Catalogue.Timeout,
		Logger:  logger,
	})
	if !catalogueClient.Enabled() {
		logger.Info("catalogue lookups disabled, tasks fall back to catalogue ids as titles")
	}

	segments := downloader.NewSegmentDownloader(fetchClient, cfg.Download.SegmentConcurrency, logger)

	bus := progress.NewBus(logger, cfg.Progress.SubscriberBuffer)

	runner := downloader.NewRunner(
		resolver,
		catalogueClient,
		segments,
		muxSupervisor,
		layout,
		bus,
		cfg.Download.DefaultQuality,
		cfg.Download.DefaultLanguage,
		logger,
	)

	queue := downloader.NewQueue(runner, bus, cfg.Download.ParallelDownloads, logger)

	// Setup graceful shutdown before starting anything.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("starting queue: %w", err)
	}
	defer queue.Stop()

	// Orphaned scratch directories from previous runs are swept at startup
	// and then on the configured schedule.
	if cfg.Cleanup.Enabled {
		janitor := storage.NewJanitor(layout, cfg.Cleanup.MaxAge, queue.InUse, logger)
		janitor.Sweep()
		if err := janitor.Start(cfg.Cleanup.Cron); err != nil {
			return fmt.Errorf("starting cleanup janitor: %w", err)
		}
		defer janitor.Stop()
	}

	// HTTP server and API.
	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	serverConfig.CORSOrigins = cfg.Server.CORSOrigins

	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	handlers.NewHealthHandler(version.Version).WithQueue(queue).Register(server.API())
	handlers.NewTasksHandler(queue).Register(server.API())

	eventsHandler := handlers.NewEventsHandler(bus, logger)
	eventsHandler.RegisterSSE(server.Router())

	logger.Info("starting fetcharr server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
		slog.String("muxer_binary", binary),
	)

	return server.ListenAndServe(ctx)
}
