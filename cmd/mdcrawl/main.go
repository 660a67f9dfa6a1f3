// Package main wires together the mdcrawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mdcrawl/internal/api"
	"mdcrawl/internal/clock/system"
	"mdcrawl/internal/config"
	"mdcrawl/internal/crawl"
	"mdcrawl/internal/extract"
	"mdcrawl/internal/fetch/headless"
	"mdcrawl/internal/fetch/plainfetch"
	"mdcrawl/internal/id/uuid"
	"mdcrawl/internal/jobs"
	"mdcrawl/internal/logging"
	"mdcrawl/internal/markdown"
	"mdcrawl/internal/storage/local"
	"mdcrawl/internal/storage/memory"
	"mdcrawl/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clk := system.New()
	idGen := uuid.NewGenerator()

	var jobStore crawl.JobStore
	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
			DSN:      cfg.Storage.DSN,
			MaxConns: int32(cfg.Storage.MaxOpenConns),
			MinConns: int32(cfg.Storage.MinOpenConns),
		})
		if err != nil {
			return fmt.Errorf("init postgres job store: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("migrate job store: %w", err)
		}
		jobStore = store
	default:
		jobStore = memory.NewJobStore()
	}

	var artifacts crawl.ArtifactStore
	if cfg.Artifacts.Dir != "" {
		store, err := local.New(local.Config{BaseDir: cfg.Artifacts.Dir})
		if err != nil {
			return fmt.Errorf("init artifact store: %w", err)
		}
		artifacts = store
	} else {
		artifacts = memory.NewArtifactStore()
	}

	plain := plainfetch.New(plainfetch.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	var browser crawl.Fetcher
	if cfg.Headless.Enabled {
		headlessFetcher, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			browser = headlessFetcher
			defer headlessFetcher.Close()
		}
	}

	controller := crawl.NewController(
		plain,
		browser,
		extract.New(logger.Named("extract")),
		markdown.New(),
		artifacts,
		clk,
		logger.Named("crawl"),
		crawl.ControllerConfig{
			Concurrency:    cfg.Crawler.Concurrency,
			ArtifactPrefix: cfg.Artifacts.Prefix,
		},
	)

	manager := jobs.NewManager(controller, jobStore, idGen, clk, logger.Named("jobs"), jobs.Config{
		JobTimeout: cfg.JobTimeout(),
	})

	apiServer := api.NewServer(manager, logger.Named("api"), cfg)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("job manager shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
