package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/fitsflow/internal/config"
	"github.com/dunamismax/fitsflow/internal/pipeline"
	"github.com/dunamismax/fitsflow/internal/render"
	"github.com/dunamismax/fitsflow/internal/retention"
	"github.com/dunamismax/fitsflow/internal/storage"
	"github.com/dunamismax/fitsflow/internal/store"
	"github.com/dunamismax/fitsflow/internal/telemetry"
	"github.com/dunamismax/fitsflow/internal/webhook"
	"github.com/dunamismax/fitsflow/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Trace.Telemetry("fitsflow-worker"), logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := render.Startup(); err != nil {
		logger.Fatalf("render runtime startup: %v", err)
	}
	defer render.Shutdown()

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("job store: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	storageCtx, cancelStorage := context.WithTimeout(ctx, 10*time.Second)
	storageClient, err := storage.Connect(storageCtx, cfg.Storage.ClientConfig())
	cancelStorage()
	if err != nil {
		logger.Printf("object storage disabled; only local_file jobs will run err=%v", err)
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	sweeperCfg := retention.Config{
		Schedule:       cfg.Retention.Schedule,
		MaxAge:         cfg.Retention.MaxAge,
		LocalOutputDir: cfg.Worker.LocalOutputDir,
		ObjectPrefixes: []string{pipeline.DefaultOutputPrefix + "/", "uploads/"},
	}
	var objectPruner retention.ObjectPruner
	if storageClient != nil {
		objectPruner = storageClient
	}
	sweeper, err := retention.NewSweeper(logger, sweeperCfg, jobStore, objectPruner)
	if err != nil {
		logger.Fatalf("retention: %v", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatalf("retention: %v", err)
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d convert_workers=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Convert.Workers,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	srv := worker.NewServer(logger, cfg, storageClient, webhookClient, jobStore)

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
