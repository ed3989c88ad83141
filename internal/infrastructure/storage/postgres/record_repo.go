package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/workflow"
)

const stepsTable = "validation_steps"

var (
	recordColumns = Columns[workflow.Record]()
	stepColumns   = Columns[workflow.ValidationStep]()
)

// immutable record columns, never rewritten by Update.
var recordImmutable = map[string]bool{
	"id": true, "numero": true, "exercice": true, "requested_by": true,
	"created_at": true, "version": true, "updated_at": true,
}

// RecordRepo implements workflow.Repository. Every stage has its own table
// with the same shape; signature steps of all stages share validation_steps.
type RecordRepo struct {
	txm *TxManager
}

// NewRecordRepo creates the spending record repository.
func NewRecordRepo(txm *TxManager) *RecordRepo {
	return &RecordRepo{txm: txm}
}

var _ workflow.Repository = (*RecordRepo)(nil)

func (r *RecordRepo) Create(ctx context.Context, rec *workflow.Record) error {
	table := rec.Stage.Spec().Table
	sql, args, err := builder().
		Insert(table).
		SetMap(StructToMap(rec, recordColumns...)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	q := r.txm.Querier(ctx)
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return mapError(err, rec.Stage.Key(), "insert")
	}
	return r.insertSteps(ctx, q, rec)
}

func (r *RecordRepo) insertSteps(ctx context.Context, q Querier, rec *workflow.Record) error {
	if len(rec.Steps) == 0 {
		return nil
	}
	ins := builder().Insert(stepsTable).
		Columns("entity_type", "record_id", "step_order", "role", "status", "validated_by", "validated_at", "comments")
	for _, st := range rec.Steps {
		ins = ins.Values(rec.Stage.Key(), rec.ID, st.StepOrder, st.Role, st.Status, st.ValidatedBy, st.ValidatedAt, st.Comments)
	}
	sql, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build steps insert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return mapError(err, stepsTable, "insert")
	}
	return nil
}

func (r *RecordRepo) Get(ctx context.Context, stage workflow.Stage, recordID id.ID) (*workflow.Record, error) {
	return r.get(ctx, stage, recordID, "")
}

func (r *RecordRepo) GetForUpdate(ctx context.Context, stage workflow.Stage, recordID id.ID) (*workflow.Record, error) {
	if !InTransaction(ctx) {
		return nil, fmt.Errorf("get %s for update: requires a transaction", stage.Key())
	}
	return r.get(ctx, stage, recordID, "FOR UPDATE")
}

func (r *RecordRepo) get(ctx context.Context, stage workflow.Stage, recordID id.ID, suffix string) (*workflow.Record, error) {
	q := builder().
		Select(recordColumns...).
		From(stage.Spec().Table).
		Where(squirrel.Eq{"id": recordID})
	if suffix != "" {
		q = q.Suffix(suffix)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	querier := r.txm.Querier(ctx)
	var rec workflow.Record
	if err := pgxscan.Get(ctx, querier, &rec, sql, args...); err != nil {
		if notFound(err) {
			return nil, apperror.NewNotFound(stage.Key(), recordID.String())
		}
		return nil, mapError(err, stage.Key(), "get")
	}
	rec.Stage = stage

	if stage.Spec().HasChain() {
		steps, err := r.steps(ctx, querier, stage, recordID)
		if err != nil {
			return nil, err
		}
		rec.Steps = steps
	}
	return &rec, nil
}

func (r *RecordRepo) steps(ctx context.Context, q Querier, stage workflow.Stage, recordID id.ID) ([]workflow.ValidationStep, error) {
	sql, args, err := builder().
		Select(stepColumns...).
		From(stepsTable).
		Where(squirrel.Eq{"entity_type": stage.Key(), "record_id": recordID}).
		OrderBy("step_order").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build steps query: %w", err)
	}
	var steps []workflow.ValidationStep
	if err := pgxscan.Select(ctx, q, &steps, sql, args...); err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	return steps, nil
}

// Update writes lifecycle fields and steps with optimistic locking on version.
func (r *RecordRepo) Update(ctx context.Context, rec *workflow.Record) error {
	data := StructToMap(rec)
	for col := range recordImmutable {
		delete(data, col)
	}

	sql, args, err := builder().
		Update(rec.Stage.Spec().Table).
		SetMap(data).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", rec.UpdatedAt).
		Where(squirrel.Eq{"id": rec.ID, "version": rec.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	q := r.txm.Querier(ctx)
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, rec.Stage.Key(), "update")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(rec.Stage.Key(), rec.ID.String())
	}
	rec.Version++

	if len(rec.Steps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range rec.Steps {
		sql, args, err := builder().
			Update(stepsTable).
			Set("status", st.Status).
			Set("validated_by", st.ValidatedBy).
			Set("validated_at", st.ValidatedAt).
			Set("comments", st.Comments).
			Where(squirrel.Eq{"entity_type": rec.Stage.Key(), "record_id": rec.ID, "step_order": st.StepOrder}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build step update: %w", err)
		}
		batch.Queue(sql, args...)
	}
	pgTx := txFrom(ctx)
	if pgTx == nil {
		return fmt.Errorf("update %s steps: requires a transaction", rec.Stage.Key())
	}
	results := pgTx.SendBatch(ctx, batch)
	defer results.Close()
	for range rec.Steps {
		if _, err := results.Exec(); err != nil {
			return mapError(err, stepsTable, "update")
		}
	}
	return nil
}

func (r *RecordRepo) List(ctx context.Context, stage workflow.Stage, f workflow.ListFilter) ([]*workflow.Record, error) {
	sql, args, err := recordListQuery(stage, f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	out := make([]*workflow.Record, 0)
	if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", stage.Key(), err)
	}
	for _, rec := range out {
		rec.Stage = stage
	}
	return out, nil
}

func recordListQuery(stage workflow.Stage, f workflow.ListFilter) squirrel.SelectBuilder {
	q := builder().
		Select(recordColumns...).
		From(stage.Spec().Table).
		OrderBy("created_at DESC")
	if f.Exercice != 0 {
		q = q.Where(squirrel.Eq{"exercice": f.Exercice})
	}
	if f.Statut != "" {
		q = q.Where(squirrel.Eq{"statut": f.Statut})
	}
	if f.BudgetLineID != nil {
		q = q.Where(squirrel.Eq{"budget_line_id": *f.BudgetLineID})
	}
	return paginate(q, f.Limit, f.Offset)
}

func paginate(q squirrel.SelectBuilder, limit, offset int) squirrel.SelectBuilder {
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	return q
}
