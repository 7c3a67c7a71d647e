package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Jhonttt/serena-api/internal/config"
	"github.com/Jhonttt/serena-api/internal/db"
	"github.com/Jhonttt/serena-api/internal/logging"
	"github.com/Jhonttt/serena-api/internal/repository"
	"github.com/Jhonttt/serena-api/internal/seed"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()

	if err := seed.Run(ctx, repository.NewStore(pool), logger); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	logger.Info("seed complete")
}
