package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/transfer"
	"spendchain/internal/domain/workflow"
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	s *Store
}

// Ledger returns the budget line repository.
func (s *Store) Ledger() *LedgerRepo {
	return &LedgerRepo{s: s}
}

var _ ledger.Repository = (*LedgerRepo)(nil)

func (r *LedgerRepo) CreateLine(ctx context.Context, line *ledger.BudgetLine) error {
	return r.s.write(ctx, func() (func(), error) {
		for _, l := range r.s.lines {
			if l.Exercice == line.Exercice && strings.EqualFold(l.Code, line.Code) {
				return nil, apperror.NewDuplicate("budget_line", "code", line.Code)
			}
		}
		now := time.Now().UTC()
		if line.CreatedAt.IsZero() {
			line.CreatedAt = now
		}
		line.UpdatedAt = now
		if line.Version == 0 {
			line.Version = 1
		}
		stored := *line
		r.s.lines[line.ID] = &stored
		return func() { delete(r.s.lines, line.ID) }, nil
	})
}

func (r *LedgerRepo) GetLine(ctx context.Context, lineID id.ID) (*ledger.BudgetLine, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.lines[lineID]
	if !ok {
		return nil, apperror.NewNotFound("budget_line", lineID.String())
	}
	c := *l
	return &c, nil
}

func (r *LedgerRepo) ListLines(ctx context.Context, exercice int) ([]*ledger.BudgetLine, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*ledger.BudgetLine, 0)
	for _, l := range r.s.lines {
		if exercice == 0 || l.Exercice == exercice {
			c := *l
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *ledger.BudgetLine) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (r *LedgerRepo) LockLines(ctx context.Context, lineIDs ...id.ID) error {
	for _, lineID := range id.SortedUnique(lineIDs) {
		if _, err := r.GetLine(ctx, lineID); err != nil {
			return err
		}
		if err := r.s.lockRow(ctx, rowKey("budget_lines", lineID)); err != nil {
			return err
		}
	}
	return nil
}

func (r *LedgerRepo) Totals(ctx context.Context, lineID id.ID, exercice int, excludeRecord id.ID) (ledger.Totals, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var t ledger.Totals
	for _, tr := range r.s.transfers {
		if tr.Status != transfer.StatusApprouve || tr.Exercice != exercice {
			continue
		}
		if tr.ToBudgetLineID == lineID {
			t.VirementsRecus += tr.Amount
		}
		if tr.FromBudgetLineID == lineID {
			t.VirementsEmis += tr.Amount
		}
	}
	for _, rec := range r.s.records[workflow.StageEngagement] {
		if rec.BudgetLineID == nil || *rec.BudgetLineID != lineID || rec.Exercice != exercice {
			continue
		}
		switch {
		case rec.Statut == workflow.StatutValide:
			t.TotalEngage += rec.Montant
		case rec.Statut.Reserving() && rec.ID != excludeRecord:
			t.TotalReserve += rec.Montant
		}
	}
	return t, nil
}

func (r *LedgerRepo) Liquidated(ctx context.Context, engagementID id.ID, excludeRecord id.ID) (types.Amount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var sum types.Amount
	for _, rec := range r.s.records[workflow.StageLiquidation] {
		if rec.EngagementID != nil && *rec.EngagementID == engagementID &&
			rec.Statut == workflow.StatutValide && rec.ID != excludeRecord {
			sum += rec.Montant
		}
	}
	return sum, nil
}

func (r *LedgerRepo) UpdateCaches(ctx context.Context, lineID id.ID, dotationActuelle, totalEngage types.Amount) error {
	return r.s.write(ctx, func() (func(), error) {
		l, ok := r.s.lines[lineID]
		if !ok {
			return nil, apperror.NewNotFound("budget_line", lineID.String())
		}
		prev := *l
		actuelle := dotationActuelle
		l.DotationModifiee = &actuelle
		l.TotalEngage = totalEngage
		l.Version++
		l.UpdatedAt = time.Now().UTC()
		return func() { *l = prev }, nil
	})
}
