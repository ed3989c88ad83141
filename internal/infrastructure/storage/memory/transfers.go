package memory

import (
	"context"
	"slices"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/transfer"
)

// TransferRepo implements transfer.Repository.
type TransferRepo struct {
	s *Store
}

// Transfers returns the credit transfer repository.
func (s *Store) Transfers() *TransferRepo {
	return &TransferRepo{s: s}
}

var _ transfer.Repository = (*TransferRepo)(nil)

func (r *TransferRepo) Create(ctx context.Context, t *transfer.CreditTransfer) error {
	return r.s.write(ctx, func() (func(), error) {
		if _, exists := r.s.transfers[t.ID]; exists {
			return nil, apperror.NewDuplicate("credit_transfer", "id", t.ID.String())
		}
		c := *t
		r.s.transfers[t.ID] = &c
		return func() { delete(r.s.transfers, t.ID) }, nil
	})
}

func (r *TransferRepo) Get(ctx context.Context, transferID id.ID) (*transfer.CreditTransfer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.transfers[transferID]
	if !ok {
		return nil, apperror.NewNotFound("credit_transfer", transferID.String())
	}
	c := *t
	return &c, nil
}

func (r *TransferRepo) GetForUpdate(ctx context.Context, transferID id.ID) (*transfer.CreditTransfer, error) {
	if _, err := r.Get(ctx, transferID); err != nil {
		return nil, err
	}
	if err := r.s.lockRow(ctx, rowKey("credit_transfers", transferID)); err != nil {
		return nil, err
	}
	return r.Get(ctx, transferID)
}

func (r *TransferRepo) UpdateDecision(ctx context.Context, t *transfer.CreditTransfer) error {
	return r.s.write(ctx, func() (func(), error) {
		prev, ok := r.s.transfers[t.ID]
		if !ok {
			return nil, apperror.NewNotFound("credit_transfer", t.ID.String())
		}
		if prev.Status != transfer.StatusEnAttente {
			return nil, apperror.NewConflict("transfer is already decided").
				WithDetail("status", prev.Status)
		}
		c := *t
		r.s.transfers[t.ID] = &c
		return func() { r.s.transfers[t.ID] = prev }, nil
	})
}

func (r *TransferRepo) List(ctx context.Context, f transfer.ListFilter) ([]*transfer.CreditTransfer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*transfer.CreditTransfer, 0)
	for _, t := range r.s.transfers {
		if f.Exercice != 0 && t.Exercice != f.Exercice {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.BudgetLineID != nil && t.FromBudgetLineID != *f.BudgetLineID && t.ToBudgetLineID != *f.BudgetLineID {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *transfer.CreditTransfer) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return paginate(out, f.Offset, f.Limit), nil
}
