package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/poolfund/pkg/config"
	"github.com/mcclellann/poolfund/pkg/logging"
	"github.com/mcclellann/poolfund/pkg/notify"
	"github.com/mcclellann/poolfund/pkg/ratelimit"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func openStore(cfg config.StorageConfig, logger *zap.Logger) (store.Storage, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory storage, data is lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return store.NewSQLiteStore(cfg.DSN, logger.Named("store"))
	}
}

// buildSettings turns config into server settings. The returned func closes
// any clients opened along the way.
func buildSettings(cfg *config.Config, logger *zap.Logger) (Settings, func(), error) {
	settings := Settings{
		JWTSecret:  []byte(cfg.Auth.JWTSecret),
		Logger:     logger,
		Notifier:   notify.Nop{},
		MaxRetries: cfg.Loans.MaxRetries,
		BcryptCost: cfg.Auth.BcryptCost,
	}
	cleanup := func() {}

	rate, err := decimal.NewFromString(cfg.Loans.DefaultInterestRate)
	if err != nil {
		return settings, cleanup, fmt.Errorf("loans.default_interest_rate: %w", err)
	}
	settings.DefaultRate = rate

	amount, err := decimal.NewFromString(cfg.Contributions.DefaultAmount)
	if err != nil {
		return settings, cleanup, fmt.Errorf("contributions.default_amount: %w", err)
	}
	settings.ContributionAmount = amount

	if cfg.SMTP.Host != "" {
		settings.Notifier = notify.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
		logger.Info("loan notifications enabled", zap.String("smtp_host", cfg.SMTP.Host))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable, rate limiter will fail open", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		settings.Limiter = ratelimit.NewLimiter(client, cfg.Redis.RateLimit, cfg.Redis.Window, logger.Named("ratelimit"))
		cleanup = func() { client.Close() }
	}
	return settings, cleanup, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("POOLFUND_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	storage, err := openStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer storage.Close()

	settings, cleanup, err := buildSettings(cfg, logger)
	if err != nil {
		logger.Fatal("invalid settings", zap.Error(err))
	}
	defer cleanup()

	server := NewServer(storage, settings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		go server.runScheduler(ctx, cfg.Scheduler.Interval)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
