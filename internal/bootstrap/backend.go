// Package bootstrap assembles storage backends and domain services for the
// spendchain binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"spendchain/internal/core/tx"
	"spendchain/internal/domain/audit"
	"spendchain/internal/domain/auth"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/notification"
	"spendchain/internal/domain/transfer"
	"spendchain/internal/domain/workflow"
	"spendchain/internal/infrastructure/storage/memory"
	"spendchain/internal/infrastructure/storage/postgres"
	"spendchain/pkg/numerator"
)

// ActorStore is the actor table seen by auth and by the notification directory.
type ActorStore interface {
	auth.Repository
	notification.Directory
}

// Backend is one storage implementation of every repository.
type Backend struct {
	Driver    string
	TxManager tx.Manager
	Ledger    ledger.Repository
	Records   workflow.Repository
	Transfers transfer.Repository
	Audit     audit.Store
	Outbox    notification.Store
	Actors    ActorStore
	Numerator workflow.Numerator

	// Ready reports whether the backend accepts traffic.
	Ready func(ctx context.Context) error

	close func()
}

// Close releases the backend's connections.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// PostgresConfig configures OpenPostgres.
type PostgresConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	StatementTimeout  time.Duration
	CompressThreshold int
}

// OpenPostgres connects to PostgreSQL and builds the pgx repositories.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Backend, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.DSN)
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	txOpts := postgres.DefaultTxOptions()
	if cfg.StatementTimeout > 0 {
		txOpts.StatementTimeout = cfg.StatementTimeout
	}
	txm := postgres.NewTxManager(pool, txOpts)

	auditStore, err := postgres.NewAuditStore(txm, cfg.CompressThreshold)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit store: %w", err)
	}

	return &Backend{
		Driver:    "postgres",
		TxManager: txm,
		Ledger:    postgres.NewLedgerRepo(txm),
		Records:   postgres.NewRecordRepo(txm),
		Transfers: postgres.NewTransferRepo(txm),
		Audit:     auditStore,
		Outbox:    postgres.NewOutboxStore(txm),
		Actors:    postgres.NewActorRepo(txm),
		Numerator: numerator.NewWithResolver(func(ctx context.Context) numerator.Querier {
			return txm.Querier(ctx)
		}),
		Ready: pool.Ready,
		close: pool.Close,
	}, nil
}

// OpenMemory builds an in-process backend. State is lost on exit.
func OpenMemory() *Backend {
	store := memory.New()
	return &Backend{
		Driver:    "memory",
		TxManager: store.TxManager(),
		Ledger:    store.Ledger(),
		Records:   store.Records(),
		Transfers: store.Transfers(),
		Audit:     store.Audit(),
		Outbox:    store.Outbox(),
		Actors:    store.Actors(),
		Numerator: numerator.NewMemory(),
		Ready:     func(context.Context) error { return nil },
	}
}
