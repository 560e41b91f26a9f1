package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/classify"
	"github.com/mxverify/mxverify/internal/config"
	"github.com/mxverify/mxverify/internal/db"
	"github.com/mxverify/mxverify/internal/dispatch"
	"github.com/mxverify/mxverify/internal/learning"
	"github.com/mxverify/mxverify/internal/metrics"
	"github.com/mxverify/mxverify/internal/probe"
	"github.com/mxverify/mxverify/internal/queue"
	"github.com/mxverify/mxverify/internal/resolver"
	"github.com/mxverify/mxverify/internal/storage/redis"
	"github.com/mxverify/mxverify/internal/worker"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Database connection
	database, err := db.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	repo := db.NewRepository(database)

	// Redis and queue
	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()
	jobQueue := queue.NewRedisQueue(cache.Client)

	// Metrics collector
	collector := metrics.NewCollector()

	// Verification pipeline: learning feeds classification, classification
	// picks the budget the dispatcher enforces.
	store := learning.NewStore(collector)
	classifier := classify.NewClassifier(store)
	mx := resolver.NewMXResolver(cfg.DNS.Server, cfg.DNS.Timeout)
	mx.SetCacheTTL(cfg.DNS.CacheTTL)
	prober := probe.NewSMTPProber(probe.SMTPConfig{
		HelloHost: cfg.Probe.HelloHost,
		FromEmail: cfg.Probe.FromEmail,
		Timeout:   cfg.Probe.Timeout,
		Ports:     cfg.Probe.Ports,
	})

	dispatcher := dispatch.NewDispatcher(classifier, mx, prober, store, collector, logger, dispatch.Options{
		Budgets:             cfg.Profiles,
		MaxRecheckAttempts:  cfg.Dispatcher.MaxRecheckAttempts,
		MaxEmailsPerRequest: cfg.Dispatcher.MaxEmailsPerBatch,
		Backoff: dispatch.Backoff{
			BaseDelay: cfg.Dispatcher.RecheckBaseDelay,
			MaxDelay:  cfg.Dispatcher.RecheckMaxDelay,
			Factor:    2.0,
			Jitter:    0.1,
		},
	})

	runner := worker.NewRunner(
		jobQueue, repo, cache, dispatcher, collector, logger,
		cfg.Dispatcher.WorkerCount, cfg.Dispatcher.PopTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go runner.Start(ctx)

	// Operational surface: metrics scrape plus the learning snapshot.
	ops := &http.Server{
		Addr:    ":" + cfg.Dispatcher.MetricsPort,
		Handler: worker.NewOpsRouter(store),
	}
	go func() {
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Ops server failed", zap.Error(err))
		}
	}()

	logger.Info("Worker started", zap.String("metrics_port", cfg.Dispatcher.MetricsPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ops server shutdown failed", zap.Error(err))
	}
	logger.Info("Worker exited")
}
