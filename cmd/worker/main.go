// Package main is the entry point for the spendchain notification worker.
// It relays the notifications outbox to the delivery sink.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"spendchain/internal/bootstrap"
	"spendchain/internal/domain/notification"
	"spendchain/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting spendchain notification worker")

	backend, err := bootstrap.OpenPostgres(ctx, bootstrap.PostgresConfig{
		DSN:              mustEnv("DATABASE_URL"),
		MaxConns:         int32(getEnvInt("DB_MAX_CONNS", 5)),
		StatementTimeout: getEnvDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
	})
	if err != nil {
		log.Fatalw("failed to open database", "error", err)
	}
	defer backend.Close()

	cfg := notification.DefaultRelayConfig()
	cfg.Interval = getEnvDuration("RELAY_INTERVAL", cfg.Interval)
	cfg.BatchSize = getEnvInt("RELAY_BATCH", cfg.BatchSize)
	cfg.MaxAttempts = getEnvInt("RELAY_MAX_ATTEMPTS", cfg.MaxAttempts)

	worker := &Worker{
		relay:     notification.NewRelay(backend.Outbox, backend.TxManager, notification.NewLogSink(log), cfg, log),
		outbox:    backend.Outbox,
		retention: getEnvDuration("NOTIFY_RETENTION", 30*24*time.Hour),
		log:       log.WithComponent("worker"),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// purger deletes delivered notifications older than a cutoff.
type purger interface {
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
}

// Worker runs the relay and the outbox retention sweep.
type Worker struct {
	relay     *notification.Relay
	outbox    notification.Store
	retention time.Duration
	log       *logger.Logger
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.relay.Run(ctx)
	}()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	p, ok := w.outbox.(purger)
	if !ok {
		return
	}
	n, err := p.PurgeSent(ctx, time.Now().UTC().Add(-w.retention))
	if err != nil {
		w.log.Errorw("failed to purge sent notifications", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("purged sent notifications", "count", n)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
