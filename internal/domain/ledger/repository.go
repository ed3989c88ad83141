package ledger

import (
	"context"

	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
)

// Repository persists budget lines and computes the raw sums behind availability.
// Every method runs on the transaction carried by ctx when there is one.
type Repository interface {
	CreateLine(ctx context.Context, line *BudgetLine) error
	GetLine(ctx context.Context, lineID id.ID) (*BudgetLine, error)
	ListLines(ctx context.Context, exercice int) ([]*BudgetLine, error)

	// LockLines holds a row lock on each line until the surrounding
	// transaction ends. Locks are taken in ascending id order.
	LockLines(ctx context.Context, lineIDs ...id.ID) error

	// Totals sums approved transfers and engagements of the line within the
	// exercice. excludeRecord (may be nil id) is left out of total_reserve.
	Totals(ctx context.Context, lineID id.ID, exercice int, excludeRecord id.ID) (Totals, error)

	// Liquidated sums valide liquidations of an engagement, leaving out excludeRecord.
	Liquidated(ctx context.Context, engagementID id.ID, excludeRecord id.ID) (types.Amount, error)

	// UpdateCaches rewrites the display caches of a line.
	UpdateCaches(ctx context.Context, lineID id.ID, dotationActuelle, totalEngage types.Amount) error
}
