package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"spendchain/internal/core/apperror"
	appctx "spendchain/internal/core/context"
	"spendchain/internal/core/id"
	"spendchain/internal/core/lock"
	"spendchain/internal/core/tx"
	"spendchain/internal/domain/audit"
	"spendchain/internal/domain/ledger"
	"spendchain/pkg/logger"
)

var tracer = otel.Tracer("spendchain/transfer")

const (
	entityType = "credit_transfer"
	prefix     = "VIR"
)

// Profiles and roles allowed to decide on transfers.
var (
	deciderProfiles = []string{"budget_office"}
	deciderRoles    = []string{"DAF", "DG"}
)

// Engine requests, approves and rejects credit transfers.
type Engine struct {
	repo      Repository
	ledger    *ledger.Service
	audit     *audit.Log
	numerator Numerator
	txm       tx.Manager
	locker    lock.Locker
	log       *logger.Logger
	now       func() time.Time
}

// EngineDeps groups the collaborators of an Engine.
type EngineDeps struct {
	Repo      Repository
	Ledger    *ledger.Service
	Audit     *audit.Log
	Numerator Numerator
	TxManager tx.Manager
	Locker    lock.Locker
	Logger    *logger.Logger
	Now       func() time.Time
}

// NewEngine creates a transfer engine.
func NewEngine(d EngineDeps) *Engine {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		repo:      d.Repo,
		ledger:    d.Ledger,
		audit:     d.Audit,
		numerator: d.Numerator,
		txm:       d.TxManager,
		locker:    d.Locker,
		log:       d.Logger.WithComponent("transfer"),
		now:       now,
	}
}

// Request records a transfer en_attente. No balance changes until approval.
func (e *Engine) Request(ctx context.Context, req Request, actor *appctx.UserContext) (*CreditTransfer, error) {
	if actor == nil {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	t := &CreditTransfer{
		ID:               id.New(),
		Exercice:         req.Exercice,
		FromBudgetLineID: req.From,
		ToBudgetLineID:   req.To,
		Amount:           req.Amount,
		Status:           StatusEnAttente,
		Motif:            strings.TrimSpace(req.Motif),
		RequestedBy:      actor.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, lineID := range []id.ID{req.From, req.To} {
			if _, err := e.ledger.Line(ctx, lineID, req.Exercice); err != nil {
				return err
			}
		}
		numero, err := e.numerator.Next(ctx, prefix, req.Exercice)
		if err != nil {
			return fmt.Errorf("number transfer: %w", err)
		}
		t.Numero = numero
		return e.repo.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	e.audit.Record(ctx, entityType, t.ID, audit.ActionTransferRequest, actor.UserID, t.Exercice, nil, t)
	e.log.WithContext(ctx).Infow("credit transfer requested",
		"transfer_id", t.ID, "numero", t.Numero, "from", t.FromBudgetLineID, "to", t.ToBudgetLineID,
		"amount", t.Amount, "exercice", t.Exercice)
	return t, nil
}

// Approve applies a transfer. Both lines are locked in ascending id order; the
// source is checked with the same disponible formula used for engagements.
// Either both lines move and the transfer becomes approuve, or nothing changes.
func (e *Engine) Approve(ctx context.Context, transferID id.ID, actor *appctx.UserContext) (res *CreditTransfer, err error) {
	ctx, span := tracer.Start(ctx, "transfer.Approve")
	span.SetAttributes(attribute.String("transfer.id", transferID.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := authorize(actor); err != nil {
		return nil, err
	}

	pending, err := e.repo.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}

	keys := []string{
		lock.BudgetLineKey(pending.FromBudgetLineID.String()),
		lock.BudgetLineKey(pending.ToBudgetLineID.String()),
	}

	var (
		approved *CreditTransfer
		check    ledger.CommitCheck
	)
	err = e.locker.WithLock(ctx, keys, func(ctx context.Context) error {
		return e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := e.ledger.LockLines(ctx, pending.FromBudgetLineID, pending.ToBudgetLineID); err != nil {
				return err
			}

			t, err := e.repo.GetForUpdate(ctx, transferID)
			if err != nil {
				return err
			}
			if t.Status != StatusEnAttente {
				return conflict(t)
			}

			check, err = e.ledger.CanCommit(ctx, t.FromBudgetLineID, t.Amount, t.Exercice)
			if err != nil {
				return err
			}
			if !check.OK {
				return check.Err()
			}
			// Destination must still exist in the exercice.
			if _, err := e.ledger.Line(ctx, t.ToBudgetLineID, t.Exercice); err != nil {
				return err
			}

			now := e.now()
			t.Status = StatusApprouve
			t.DecidedBy = &actor.UserID
			t.DecidedAt = &now
			t.UpdatedAt = now
			if err := e.repo.UpdateDecision(ctx, t); err != nil {
				return err
			}

			for _, lineID := range []id.ID{t.FromBudgetLineID, t.ToBudgetLineID} {
				if _, err := e.ledger.Refresh(ctx, lineID, t.Exercice); err != nil {
					return err
				}
			}
			approved = t
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.audit.Record(ctx, entityType, approved.ID, audit.ActionTransferApprove, actor.UserID, approved.Exercice,
		map[string]any{"status": StatusEnAttente, "disponible_source": check.Disponible},
		map[string]any{"status": approved.Status, "decided_at": approved.DecidedAt, "amount": approved.Amount})

	e.log.WithContext(ctx).Infow("credit transfer approved",
		"transfer_id", approved.ID, "from", approved.FromBudgetLineID, "to", approved.ToBudgetLineID,
		"amount", approved.Amount, "disponible_avant", check.Disponible)
	return approved, nil
}

// Reject closes a pending transfer without any balance change.
func (e *Engine) Reject(ctx context.Context, transferID id.ID, reason string, actor *appctx.UserContext) (*CreditTransfer, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.NewValidation("rejection_reason is required to reject").
			WithDetail("field", "rejection_reason")
	}

	var rejected *CreditTransfer
	err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		t, err := e.repo.GetForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != StatusEnAttente {
			return conflict(t)
		}
		now := e.now()
		t.Status = StatusRejete
		t.DecidedBy = &actor.UserID
		t.DecidedAt = &now
		t.RejectionReason = &reason
		t.UpdatedAt = now
		if err := e.repo.UpdateDecision(ctx, t); err != nil {
			return err
		}
		rejected = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.audit.Record(ctx, entityType, rejected.ID, audit.ActionTransferReject, actor.UserID, rejected.Exercice,
		map[string]any{"status": StatusEnAttente},
		map[string]any{"status": rejected.Status, "rejection_reason": reason})
	return rejected, nil
}

// Get loads a transfer.
func (e *Engine) Get(ctx context.Context, transferID id.ID) (*CreditTransfer, error) {
	return e.repo.Get(ctx, transferID)
}

// List lists transfers.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]*CreditTransfer, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	return e.repo.List(ctx, filter)
}

func authorize(actor *appctx.UserContext) error {
	if actor == nil {
		return apperror.NewUnauthorized("authentication required")
	}
	if !actor.HasAny(deciderProfiles, deciderRoles) {
		return apperror.NewForbidden("actor is not authorized to decide on credit transfers").
			WithDetail("required_profiles", deciderProfiles).
			WithDetail("required_roles", deciderRoles)
	}
	return nil
}

func conflict(t *CreditTransfer) error {
	return apperror.NewConflict(fmt.Sprintf("transfer is already %s", t.Status)).
		WithDetail("status", t.Status).
		WithDetail("decided_by", t.DecidedBy).
		WithDetail("decided_at", t.DecidedAt)
}
