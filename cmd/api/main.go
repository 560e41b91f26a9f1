package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/api"
	"github.com/mxverify/mxverify/internal/api/handlers"
	"github.com/mxverify/mxverify/internal/classify"
	"github.com/mxverify/mxverify/internal/config"
	"github.com/mxverify/mxverify/internal/db"
	"github.com/mxverify/mxverify/internal/metrics"
	"github.com/mxverify/mxverify/internal/queue"
	"github.com/mxverify/mxverify/internal/resolver"
	"github.com/mxverify/mxverify/internal/storage/redis"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Migrations
	if err := runMigrations(cfg.Database.URL); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Database
	database, err := db.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	repo := db.NewRepository(database)

	// Redis
	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()

	// Queue
	jobQueue := queue.NewRedisQueue(cache.Client)

	// Shared components
	collector := metrics.NewCollector()
	mx := resolver.NewMXResolver(cfg.DNS.Server, cfg.DNS.Timeout)
	mx.SetCacheTTL(cfg.DNS.CacheTTL)
	classifier := classify.NewClassifier(nil)

	handler := handlers.NewHandler(
		repo, cache, jobQueue, mx, classifier,
		collector, logger, cfg.Dispatcher.MaxEmailsPerBatch,
	)
	server := api.NewServer(cfg, handler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func runMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
