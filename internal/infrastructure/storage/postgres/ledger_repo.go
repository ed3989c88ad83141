package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/transfer"
	"spendchain/internal/domain/workflow"
)

const budgetLinesTable = "budget_lines"

var budgetLineColumns = Columns[ledger.BudgetLine]()

// builder returns a squirrel builder with $n placeholders.
func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	txm *TxManager
}

// NewLedgerRepo creates the budget line repository.
func NewLedgerRepo(txm *TxManager) *LedgerRepo {
	return &LedgerRepo{txm: txm}
}

var _ ledger.Repository = (*LedgerRepo)(nil)

func (r *LedgerRepo) CreateLine(ctx context.Context, line *ledger.BudgetLine) error {
	if line.Version == 0 {
		line.Version = 1
	}
	sql, args, err := builder().
		Insert(budgetLinesTable).
		SetMap(StructToMap(line, "id", "code", "label", "exercice", "dotation_initiale", "version")).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if err := r.txm.Querier(ctx).QueryRow(ctx, sql, args...).Scan(&line.CreatedAt, &line.UpdatedAt); err != nil {
		return mapError(err, "budget_line", "insert")
	}
	return nil
}

func (r *LedgerRepo) GetLine(ctx context.Context, lineID id.ID) (*ledger.BudgetLine, error) {
	sql, args, err := builder().
		Select(budgetLineColumns...).
		From(budgetLinesTable).
		Where(squirrel.Eq{"id": lineID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var line ledger.BudgetLine
	if err := pgxscan.Get(ctx, r.txm.Querier(ctx), &line, sql, args...); err != nil {
		if notFound(err) {
			return nil, apperror.NewNotFound("budget_line", lineID.String())
		}
		return nil, fmt.Errorf("get budget line: %w", err)
	}
	return &line, nil
}

func (r *LedgerRepo) ListLines(ctx context.Context, exercice int) ([]*ledger.BudgetLine, error) {
	q := builder().Select(budgetLineColumns...).From(budgetLinesTable).OrderBy("code")
	if exercice != 0 {
		q = q.Where(squirrel.Eq{"exercice": exercice})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	lines := make([]*ledger.BudgetLine, 0)
	if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("list budget lines: %w", err)
	}
	return lines, nil
}

// LockLines takes FOR UPDATE row locks in ascending id order.
func (r *LedgerRepo) LockLines(ctx context.Context, lineIDs ...id.ID) error {
	lineIDs = id.SortedUnique(lineIDs)
	if len(lineIDs) == 0 {
		return nil
	}
	if !InTransaction(ctx) {
		return fmt.Errorf("lock budget lines: requires a transaction")
	}
	rows, err := r.txm.Querier(ctx).Query(ctx,
		`SELECT id FROM budget_lines WHERE id = ANY($1) ORDER BY id FOR UPDATE`, lineIDs)
	if err != nil {
		return mapError(err, "budget_line", "lock")
	}
	defer rows.Close()

	found := make(map[id.ID]bool, len(lineIDs))
	for rows.Next() {
		var lineID id.ID
		if err := rows.Scan(&lineID); err != nil {
			return fmt.Errorf("scan locked line: %w", err)
		}
		found[lineID] = true
	}
	if err := rows.Err(); err != nil {
		return mapError(err, "budget_line", "lock")
	}
	for _, lineID := range lineIDs {
		if !found[lineID] {
			return apperror.NewNotFound("budget_line", lineID.String())
		}
	}
	return nil
}

// Totals computes the raw sums in one round trip.
func (r *LedgerRepo) Totals(ctx context.Context, lineID id.ID, exercice int, excludeRecord id.ID) (ledger.Totals, error) {
	engagements := workflow.StageEngagement.Spec().Table
	reserving := make([]string, 0, 3)
	for _, s := range workflow.ReservingStatuts() {
		reserving = append(reserving, string(s))
	}

	sql := `
		SELECT
			COALESCE((SELECT SUM(amount) FROM credit_transfers
			          WHERE to_budget_line_id = $1 AND exercice = $2 AND status = $3), 0) AS virements_recus,
			COALESCE((SELECT SUM(amount) FROM credit_transfers
			          WHERE from_budget_line_id = $1 AND exercice = $2 AND status = $3), 0) AS virements_emis,
			COALESCE((SELECT SUM(montant) FROM ` + engagements + `
			          WHERE budget_line_id = $1 AND exercice = $2 AND statut = $4), 0) AS total_engage,
			COALESCE((SELECT SUM(montant) FROM ` + engagements + `
			          WHERE budget_line_id = $1 AND exercice = $2 AND statut = ANY($5) AND id <> $6), 0) AS total_reserve`

	var t ledger.Totals
	err := pgxscan.Get(ctx, r.txm.Querier(ctx), &t, sql,
		lineID, exercice, transfer.StatusApprouve, workflow.StatutValide, reserving, excludeRecord)
	if err != nil {
		return ledger.Totals{}, fmt.Errorf("budget line totals: %w", err)
	}
	return t, nil
}

func (r *LedgerRepo) Liquidated(ctx context.Context, engagementID id.ID, excludeRecord id.ID) (types.Amount, error) {
	sql, args, err := builder().
		Select("COALESCE(SUM(montant), 0)").
		From(workflow.StageLiquidation.Spec().Table).
		Where(squirrel.Eq{"engagement_id": engagementID, "statut": workflow.StatutValide}).
		Where(squirrel.NotEq{"id": excludeRecord}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var sum int64
	if err := r.txm.Querier(ctx).QueryRow(ctx, sql, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("liquidated amount: %w", err)
	}
	return types.Amount(sum), nil
}

func (r *LedgerRepo) UpdateCaches(ctx context.Context, lineID id.ID, dotationActuelle, totalEngage types.Amount) error {
	sql, args, err := builder().
		Update(budgetLinesTable).
		Set("dotation_modifiee", dotationActuelle).
		Set("total_engage", totalEngage).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": lineID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "budget_line", "update")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("budget_line", lineID.String())
	}
	return nil
}
