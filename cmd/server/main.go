package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blogcore/internal/api"
	"blogcore/internal/cache"
	"blogcore/internal/config"
	"blogcore/internal/messaging"
	"blogcore/internal/model"
	"blogcore/internal/repository"
	"blogcore/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis being down at startup is survivable: the cache degrades to its
	// local tier and the health probe flips state once Redis returns.
	rdb := initRedis(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	db, err := initDB(cfg.MySQL)
	if err != nil {
		return err
	}

	outboxRepo := repository.NewOutboxRepository(db)

	store := cache.NewStore(rdb, cfg.Cache)

	var broker messaging.Broker
	if rdb != nil {
		broker = messaging.NewRedisStreamBroker(rdb)
	}
	sender := messaging.NewSender(outboxRepo, broker, cfg.Outbox)
	dispatcher := messaging.NewDispatcher(sender, outboxRepo, cfg.Outbox)

	go func() {
		logger.Info("starting cache health probe")
		store.Run(ctx)
	}()
	go func() {
		logger.Info("starting outbox dispatcher")
		dispatcher.Run(ctx)
	}()
	go func() {
		logger.Info("starting outbox cleanup")
		dispatcher.RunCleanup(ctx)
	}()

	r := api.RegisterRoutes(api.NewOpsHandler(db, store, sender, outboxRepo))

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited properly")
	return nil
}

// -- Infrastructure Initializers --

func initRedis(cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unreachable at startup, continuing degraded", zap.Error(err))
	}
	return rdb
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	// Auto-migrate for dev convenience; production schemas are managed by
	// the services' own migration tooling.
	if err := db.AutoMigrate(&model.OutboxMessage{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
