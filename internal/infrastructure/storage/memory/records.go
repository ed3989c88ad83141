package memory

import (
	"context"
	"slices"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/workflow"
)

// RecordRepo implements workflow.Repository for every stage.
type RecordRepo struct {
	s *Store
}

// Records returns the spending record repository.
func (s *Store) Records() *RecordRepo {
	return &RecordRepo{s: s}
}

var _ workflow.Repository = (*RecordRepo)(nil)

func (r *RecordRepo) table(stage workflow.Stage) (map[id.ID]*workflow.Record, error) {
	t, ok := r.s.records[stage]
	if !ok {
		return nil, apperror.NewValidation("unknown entity_type").WithDetail("entity_type", stage.Key())
	}
	return t, nil
}

func (r *RecordRepo) Create(ctx context.Context, rec *workflow.Record) error {
	return r.s.write(ctx, func() (func(), error) {
		t, err := r.table(rec.Stage)
		if err != nil {
			return nil, err
		}
		if _, exists := t[rec.ID]; exists {
			return nil, apperror.NewDuplicate(rec.Stage.Key(), "id", rec.ID.String())
		}
		for _, other := range t {
			if other.Numero == rec.Numero {
				return nil, apperror.NewDuplicate(rec.Stage.Key(), "numero", rec.Numero)
			}
		}
		t[rec.ID] = rec.Clone()
		return func() { delete(t, rec.ID) }, nil
	})
}

func (r *RecordRepo) Get(ctx context.Context, stage workflow.Stage, recordID id.ID) (*workflow.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, err := r.table(stage)
	if err != nil {
		return nil, err
	}
	rec, ok := t[recordID]
	if !ok {
		return nil, apperror.NewNotFound(stage.Key(), recordID.String())
	}
	return rec.Clone(), nil
}

func (r *RecordRepo) GetForUpdate(ctx context.Context, stage workflow.Stage, recordID id.ID) (*workflow.Record, error) {
	if _, err := r.Get(ctx, stage, recordID); err != nil {
		return nil, err
	}
	if err := r.s.lockRow(ctx, rowKey(stage.Spec().Table, recordID)); err != nil {
		return nil, err
	}
	return r.Get(ctx, stage, recordID)
}

func (r *RecordRepo) Update(ctx context.Context, rec *workflow.Record) error {
	return r.s.write(ctx, func() (func(), error) {
		t, err := r.table(rec.Stage)
		if err != nil {
			return nil, err
		}
		prev, ok := t[rec.ID]
		if !ok {
			return nil, apperror.NewNotFound(rec.Stage.Key(), rec.ID.String())
		}
		if prev.Version != rec.Version {
			return nil, apperror.NewConcurrentModification(rec.Stage.Key(), rec.ID.String())
		}
		rec.Version++
		t[rec.ID] = rec.Clone()
		return func() { t[rec.ID] = prev }, nil
	})
}

func (r *RecordRepo) List(ctx context.Context, stage workflow.Stage, f workflow.ListFilter) ([]*workflow.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, err := r.table(stage)
	if err != nil {
		return nil, err
	}

	out := make([]*workflow.Record, 0)
	for _, rec := range t {
		if f.Exercice != 0 && rec.Exercice != f.Exercice {
			continue
		}
		if f.Statut != "" && rec.Statut != f.Statut {
			continue
		}
		if f.BudgetLineID != nil && (rec.BudgetLineID == nil || *rec.BudgetLineID != *f.BudgetLineID) {
			continue
		}
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b *workflow.Record) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return paginate(out, f.Offset, f.Limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
