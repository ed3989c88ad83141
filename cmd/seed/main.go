// Package main provides a CLI tool for seeding the database with initial data.
//
// Usage:
//
//	seed [-migrate] [-exercice 2026]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"

	"spendchain/internal/bootstrap"
	"spendchain/internal/domain/auth"
	"spendchain/internal/domain/notification"
	"spendchain/pkg/logger"
)

func main() {
	migrate := flag.Bool("migrate", false, "run goose migrations from db/migrations before seeding")
	exercice := flag.Int("exercice", time.Now().Year(), "fiscal year of the demo budget lines")
	flag.Parse()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	if *migrate {
		log.Info("running migrations...")
		cmd := exec.Command("goose", "-dir", "db/migrations", "postgres", dbURL, "up")
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			log.Fatalw("migrations failed", "error", err)
		}
		log.Info("migrations completed")
	}

	backend, err := bootstrap.OpenPostgres(ctx, bootstrap.PostgresConfig{DSN: dbURL})
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer backend.Close()

	log.Info("connected to database")

	services := bootstrap.NewServices(backend, bootstrap.ServiceConfig{
		JWT:   auth.DefaultJWTConfig("seed"),
		Auth:  auth.DefaultServiceConfig(),
		Queue: notification.DefaultQueueConfig(),
	}, log)

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "spendchain-demo"
		log.Warn("SEED_PASSWORD not set, using the demo password")
	}

	if err := bootstrap.SeedDemo(ctx, services, *exercice, password); err != nil {
		log.Fatalw("failed to seed demo data", "error", err)
	}

	log.Infow("seed completed", "exercice", *exercice, "actors", len(bootstrap.DemoActors))
	for _, a := range bootstrap.DemoActors {
		log.Infow("actor", "email", a.Email, "profiles", a.Profiles, "roles", a.Roles)
	}
}
