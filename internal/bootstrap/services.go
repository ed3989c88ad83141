package bootstrap

import (
	"context"

	"spendchain/internal/core/lock"
	"spendchain/internal/domain/audit"
	"spendchain/internal/domain/auth"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/notification"
	"spendchain/internal/domain/transfer"
	"spendchain/internal/domain/workflow"
	"spendchain/internal/infrastructure/locking"
	"spendchain/pkg/logger"
)

// ServiceConfig configures NewServices.
type ServiceConfig struct {
	JWT   auth.JWTConfig
	Auth  auth.ServiceConfig
	Queue notification.QueueConfig
	// Locker defaults to an in-process locker.
	Locker lock.Locker
}

// Services are the domain services over one backend.
type Services struct {
	Auth       *auth.Service
	Ledger     *ledger.Service
	Audit      *audit.Log
	Transfers  *transfer.Engine
	Workflow   *workflow.Machine
	Dispatcher *notification.Dispatcher
	Queue      *notification.AsyncQueue
}

// NewServices wires the domain services. The notification queue is not
// started; call Start and Stop around the serving lifetime.
func NewServices(b *Backend, cfg ServiceConfig, log *logger.Logger) *Services {
	locker := cfg.Locker
	if locker == nil {
		locker = locking.NewLocal()
	}

	ledgerSvc := ledger.NewService(b.Ledger, log)
	auditLog := audit.NewLog(b.Audit, log)
	queue := notification.NewAsyncQueue(b.Outbox, cfg.Queue, log)
	dispatcher := notification.NewDispatcher(b.Actors, queue, log)

	return &Services{
		Auth:   auth.NewService(b.Actors, auth.NewJWTService(cfg.JWT), cfg.Auth, log),
		Ledger: ledgerSvc,
		Audit:  auditLog,
		Transfers: transfer.NewEngine(transfer.EngineDeps{
			Repo:      b.Transfers,
			Ledger:    ledgerSvc,
			Audit:     auditLog,
			Numerator: b.Numerator,
			TxManager: b.TxManager,
			Locker:    locker,
			Logger:    log,
		}),
		Workflow: workflow.NewMachine(workflow.MachineDeps{
			Records:   b.Records,
			Ledger:    ledgerSvc,
			Audit:     auditLog,
			Notifier:  dispatcher,
			Numerator: b.Numerator,
			TxManager: b.TxManager,
			Locker:    locker,
			Logger:    log,
		}),
		Dispatcher: dispatcher,
		Queue:      queue,
	}
}

// Start starts the notification queue workers.
func (s *Services) Start(ctx context.Context) {
	s.Queue.Start(ctx)
}

// Stop drains the notification queue.
func (s *Services) Stop(ctx context.Context) error {
	return s.Queue.Stop(ctx)
}
