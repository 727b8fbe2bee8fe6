package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mozilla-it/ctms-api-sub000/internal/acoustic"
	"github.com/mozilla-it/ctms-api-sub000/internal/config"
	"github.com/mozilla-it/ctms-api-sub000/internal/pkg/logger"
	"github.com/mozilla-it/ctms-api-sub000/internal/repository/postgres"
	"github.com/mozilla-it/ctms-api-sub000/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("loading config", "path", configPath, "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("opening database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("pinging database", "error", err.Error())
		os.Exit(1)
	}

	// Redis is optional; without it the worker serializes cycles via
	// Postgres advisory locks instead.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unavailable, using advisory locks", "error", err.Error())
			redisClient = nil
		}
	}

	fieldCache := acoustic.NewConfigCache(postgres.NewFieldConfigRepo(db), cfg.Sync.FieldRefresh())
	syncWorker := worker.NewAcousticSyncWorker(
		postgres.NewContactRepo(db),
		postgres.NewPendingRepo(db),
		fieldCache,
		acoustic.NewClient(cfg.Acoustic),
		db,
		redisClient,
		cfg.Sync,
		cfg.Acoustic.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	syncWorker.Run(ctx)
}
