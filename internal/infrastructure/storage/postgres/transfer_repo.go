package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/transfer"
)

const transfersTable = "credit_transfers"

var transferColumns = Columns[transfer.CreditTransfer]()

// TransferRepo implements transfer.Repository.
type TransferRepo struct {
	txm *TxManager
}

// NewTransferRepo creates the credit transfer repository.
func NewTransferRepo(txm *TxManager) *TransferRepo {
	return &TransferRepo{txm: txm}
}

var _ transfer.Repository = (*TransferRepo)(nil)

func (r *TransferRepo) Create(ctx context.Context, t *transfer.CreditTransfer) error {
	sql, args, err := builder().
		Insert(transfersTable).
		SetMap(StructToMap(t)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(err, "credit_transfer", "insert")
	}
	return nil
}

func (r *TransferRepo) Get(ctx context.Context, transferID id.ID) (*transfer.CreditTransfer, error) {
	return r.get(ctx, transferID, "")
}

func (r *TransferRepo) GetForUpdate(ctx context.Context, transferID id.ID) (*transfer.CreditTransfer, error) {
	if !InTransaction(ctx) {
		return nil, fmt.Errorf("get credit transfer for update: requires a transaction")
	}
	return r.get(ctx, transferID, "FOR UPDATE")
}

func (r *TransferRepo) get(ctx context.Context, transferID id.ID, suffix string) (*transfer.CreditTransfer, error) {
	q := builder().Select(transferColumns...).From(transfersTable).Where(squirrel.Eq{"id": transferID})
	if suffix != "" {
		q = q.Suffix(suffix)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var t transfer.CreditTransfer
	if err := pgxscan.Get(ctx, r.txm.Querier(ctx), &t, sql, args...); err != nil {
		if notFound(err) {
			return nil, apperror.NewNotFound("credit_transfer", transferID.String())
		}
		return nil, mapError(err, "credit_transfer", "get")
	}
	return &t, nil
}

// UpdateDecision only touches a transfer still en_attente.
func (r *TransferRepo) UpdateDecision(ctx context.Context, t *transfer.CreditTransfer) error {
	sql, args, err := builder().
		Update(transfersTable).
		Set("status", t.Status).
		Set("decided_by", t.DecidedBy).
		Set("decided_at", t.DecidedAt).
		Set("rejection_reason", t.RejectionReason).
		Set("updated_at", t.UpdatedAt).
		Where(squirrel.Eq{"id": t.ID, "status": transfer.StatusEnAttente}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "credit_transfer", "update")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("transfer is already decided").WithDetail("id", t.ID.String())
	}
	return nil
}

func (r *TransferRepo) List(ctx context.Context, f transfer.ListFilter) ([]*transfer.CreditTransfer, error) {
	sql, args, err := transferListQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	out := make([]*transfer.CreditTransfer, 0)
	if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list credit transfers: %w", err)
	}
	return out, nil
}

func transferListQuery(f transfer.ListFilter) squirrel.SelectBuilder {
	q := builder().Select(transferColumns...).From(transfersTable).OrderBy("created_at DESC")
	if f.Exercice != 0 {
		q = q.Where(squirrel.Eq{"exercice": f.Exercice})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": f.Status})
	}
	if f.BudgetLineID != nil {
		q = q.Where(squirrel.Or{
			squirrel.Eq{"from_budget_line_id": *f.BudgetLineID},
			squirrel.Eq{"to_budget_line_id": *f.BudgetLineID},
		})
	}
	return paginate(q, f.Limit, f.Offset)
}
