// cmd/dispatch-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"push-dispatch/internal/audit"
	"push-dispatch/internal/common/config"
	"push-dispatch/internal/common/database"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/dispatch"
	"push-dispatch/internal/registry"
	"push-dispatch/internal/server"
	"push-dispatch/internal/transport"
	"push-dispatch/internal/vault"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting dispatch server",
		zap.String("environment", cfg.App.Environment),
		zap.Int("port", cfg.HTTP.Port),
	)

	ctx := context.Background()

	// --- Postgres ---
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		zapLog.Fatal("postgres init failed", zap.Error(err))
	}
	defer pg.Close()

	if err := retryWithBackoff(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pg.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "postgres connection"); err != nil {
		zapLog.Fatal("postgres unreachable", zap.Error(err))
	}

	if err := pg.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("schema bootstrap failed", zap.Error(err))
	}
	if err := pg.SyncAdminPassword(ctx, cfg.Auth.AdminUsername, os.Getenv("ADMIN_PASSWORD_HASH")); err != nil {
		zapLog.Fatal("admin password sync failed", zap.Error(err))
	}

	// --- Redis ---
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		zapLog.Fatal("redis init failed", zap.Error(err))
	}
	defer rdb.Close()

	if err := retryWithBackoff(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "redis connection"); err != nil {
		zapLog.Fatal("redis unreachable", zap.Error(err))
	}

	// --- Domain components ---
	keyVault, err := vault.New(cfg.Vault.Secret, cfg.Vault.Salt)
	if err != nil {
		zapLog.Fatal("vault init failed", zap.Error(err))
	}

	store := registry.NewCached(
		registry.NewPostgres(pg.GetDB(), log),
		rdb.GetClient(),
		log,
	)
	sink := audit.NewPostgres(pg.GetDB(), log)
	pushTransport := transport.NewWebPush(cfg.Push, config.GetDuration(cfg.Dispatch.SendTimeout), log)

	engine := dispatch.NewEngine(keyVault, store, pushTransport, sink, dispatch.Config{
		BatchSize:   cfg.Dispatch.BatchSize,
		BatchDelay:  config.GetDuration(cfg.Dispatch.BatchDelay),
		SendTimeout: config.GetDuration(cfg.Dispatch.SendTimeout),
		MaxErrors:   cfg.Dispatch.MaxErrors,
	}, log)

	srv := server.New(cfg, engine, store, keyVault, sink, pg, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: srv.Router(),
	}

	go func() {
		zapLog.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zapLog.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(ctx, config.GetDuration(cfg.HTTP.ShutdownTimeout))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}

	zapLog.Info("dispatch server stopped")
}
