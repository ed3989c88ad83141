// Package main is the entry point for the spendchain API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"spendchain/internal/bootstrap"
	"spendchain/internal/core/lock"
	"spendchain/internal/domain/auth"
	"spendchain/internal/domain/notification"
	v1 "spendchain/internal/infrastructure/http/v1"
	"spendchain/internal/infrastructure/http/v1/handlers"
	"spendchain/internal/infrastructure/locking"
	"spendchain/pkg/logger"
)

const version = "0.1.0"

func main() {
	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)
	driver := getEnv("STORAGE_DRIVER", "postgres")
	log.Infow("starting spendchain server", "storage", driver, "version", version)

	// --- Storage ---
	var backend *bootstrap.Backend
	switch driver {
	case "postgres":
		backend, err = bootstrap.OpenPostgres(ctx, bootstrap.PostgresConfig{
			DSN:              mustEnv("DATABASE_URL"),
			MaxConns:         int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns:         int32(getEnvInt("DB_MIN_CONNS", 2)),
			StatementTimeout: getEnvDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
		})
		if err != nil {
			log.Fatalw("failed to open database", "error", err)
		}
	case "memory":
		backend = bootstrap.OpenMemory()
		log.Warn("in-memory storage: state is lost on exit")
	default:
		log.Fatalw("unknown STORAGE_DRIVER", "driver", driver)
	}
	defer backend.Close()

	// --- Locking ---
	locker, closeLocker := newLocker(log)
	defer closeLocker()

	// --- Services ---
	jwtConfig := auth.DefaultJWTConfig(getEnv("JWT_SECRET", "your-secret-key-change-in-production"))
	jwtConfig.AccessTokenTTL = getEnvDuration("JWT_TTL", jwtConfig.AccessTokenTTL)

	queueConfig := notification.DefaultQueueConfig()
	queueConfig.Workers = getEnvInt("NOTIFY_WORKERS", queueConfig.Workers)
	queueConfig.BufferSize = getEnvInt("NOTIFY_BUFFER", queueConfig.BufferSize)

	services := bootstrap.NewServices(backend, bootstrap.ServiceConfig{
		JWT:    jwtConfig,
		Auth:   auth.DefaultServiceConfig(),
		Queue:  queueConfig,
		Locker: locker,
	}, log)
	services.Start(ctx)

	if driver == "memory" {
		exercice := getEnvInt("DEMO_EXERCICE", time.Now().Year())
		if err := bootstrap.SeedDemo(ctx, services, exercice, getEnv("DEMO_PASSWORD", "spendchain-demo")); err != nil {
			log.Fatalw("failed to seed demo data", "error", err)
		}
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Logger:          log,
		Version:         version,
		ReadinessChecks: map[string]handlers.Pinger{"database": backend.Ready},
		AuthService:     services.Auth,
		Workflow:        services.Workflow,
		Ledger:          services.Ledger,
		Transfers:       services.Transfers,
		Audit:           services.Audit,
		ReleaseMode:     getEnv("APP_ENV", "development") != "development",
	})

	// --- HTTP Server ---
	port := getEnv("SERVER_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	if err := services.Stop(shutdownCtx); err != nil {
		log.Errorw("notification queue did not drain", "error", err)
	}

	log.Info("server stopped")
}

// newLocker returns the redsync locker when REDIS_ADDR is set, else an
// in-process one (single instance only).
func newLocker(log *logger.Logger) (lock.Locker, func()) {
	addr := getEnv("REDIS_ADDR", "")
	if addr == "" {
		log.Info("locking: in-process")
		return locking.NewLocal(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatalw("failed to reach redis", "addr", addr, "error", err)
	}

	opts := locking.DefaultRedisOptions()
	opts.Expiry = getEnvDuration("LOCK_TTL", opts.Expiry)
	log.Infow("locking: redsync", "addr", addr, "expiry", opts.Expiry)
	return locking.NewRedis(client, opts), func() { _ = client.Close() }
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
