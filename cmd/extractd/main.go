package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/extractd/extractd/internal/api"
	"github.com/extractd/extractd/internal/cleanup"
	"github.com/extractd/extractd/internal/config"
	"github.com/extractd/extractd/internal/extractor"
	"github.com/extractd/extractd/internal/job"
	"github.com/extractd/extractd/internal/queue"
	"github.com/extractd/extractd/internal/results"
	"github.com/extractd/extractd/internal/upload"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	store, err := job.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.LegacyJobsFile != "" {
		n, err := store.ImportLegacyJSON(context.Background(), cfg.LegacyJobsFile)
		if err != nil {
			slog.Error("legacy import", "error", err)
			os.Exit(1)
		}
		if n > 0 {
			slog.Info("imported legacy jobs", "count", n)
		}
	}

	registry := extractor.NewRegistry()
	registry.Register(extractor.NewPDF())
	registry.Register(extractor.NewDOCX())
	registry.Register(extractor.NewXLSX())
	registry.Register(extractor.NewMarkdown())

	materializer, err := results.New(cfg.OutputsDir)
	if err != nil {
		slog.Error("outputs dir", "error", err)
		os.Exit(1)
	}

	staging, err := upload.New(cfg.UploadsDir, cfg.MaxFileSize)
	if err != nil {
		slog.Error("uploads dir", "error", err)
		os.Exit(1)
	}

	q := queue.New(store, registry, materializer, cfg.Workers, cfg.QueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	sweeper := cleanup.New(store, materializer, staging, cleanup.Config{
		Interval:   cfg.CleanupInterval,
		Retention:  cfg.Retention,
		PendingTTL: cfg.PendingTTL,
		UploadTTL:  cfg.UploadRetention,
	})
	go sweeper.Run(ctx)

	mux := http.NewServeMux()
	h := api.NewHandler(store, q, registry, staging, materializer, cfg)
	h.RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging,
		api.Auth(cfg.APIKeys),
		api.RateLimit(cfg.RateLimitRPS),
	)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  5 * time.Minute, // large uploads on slow links
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		cancel()
	}()

	slog.Info("extractd listening", "addr", cfg.ListenAddr, "workers", cfg.Workers,
		"types", registry.SupportedTypes())
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Let workers finish jobs they already picked up.
	cancel()
	q.Wait()
	slog.Info("stopped")
}
