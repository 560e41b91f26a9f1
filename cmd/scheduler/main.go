package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/config"
	"github.com/mxverify/mxverify/internal/db"
)

// The reaper fails verification requests that stopped making progress, so
// pollers are not left waiting on a request whose worker died mid-batch.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	database, err := db.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	repo := db.NewRepository(database)

	ctx, cancel := context.WithCancel(context.Background())

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reapStuckRequests(repo, cfg.Dispatcher.StuckRequestAge, logger)
			}
		}
	}()

	logger.Info("Reaper started", zap.Duration("stuck_request_age", cfg.Dispatcher.StuckRequestAge))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down reaper...")
	cancel()
	logger.Info("Reaper stopped")
}

func reapStuckRequests(repo *db.Repository, age time.Duration, logger *zap.Logger) {
	ids, err := repo.FailStuckRequests(age)
	if err != nil {
		logger.Error("Failed to reap stuck requests", zap.Error(err))
		return
	}

	for _, id := range ids {
		logger.Warn("Failed stuck verification request", zap.String("request_id", id))
	}

	if len(ids) > 0 {
		logger.Info("Reaped stuck requests", zap.Int("count", len(ids)))
	}
}
