// Package transfer moves allocation between budget lines (virements de crédit).
package transfer

import (
	"context"
	"strings"
	"time"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
)

// Status is the state of a credit transfer.
type Status string

const (
	StatusEnAttente Status = "en_attente"
	StatusApprouve  Status = "approuve"
	StatusRejete    Status = "rejete"
)

// CreditTransfer moves Amount of allocation from one line to another.
// It applies all-or-nothing on approval.
type CreditTransfer struct {
	ID               id.ID        `db:"id" json:"id"`
	Numero           string       `db:"numero" json:"numero"`
	Exercice         int          `db:"exercice" json:"exercice"`
	FromBudgetLineID id.ID        `db:"from_budget_line_id" json:"from_budget_line_id"`
	ToBudgetLineID   id.ID        `db:"to_budget_line_id" json:"to_budget_line_id"`
	Amount           types.Amount `db:"amount" json:"amount"`
	Status           Status       `db:"status" json:"status"`
	Motif            string       `db:"motif" json:"motif"`
	RequestedBy      string       `db:"requested_by" json:"requested_by"`
	DecidedBy        *string      `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt        *time.Time   `db:"decided_at" json:"decided_at,omitempty"`
	RejectionReason  *string      `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// Request is the input of a new transfer.
type Request struct {
	From     id.ID
	To       id.ID
	Amount   types.Amount
	Motif    string
	Exercice int
}

// Validate checks the request invariants.
func (r Request) Validate() error {
	if r.Exercice <= 0 {
		return apperror.NewValidation("exercice is required")
	}
	if id.IsNil(r.From) || id.IsNil(r.To) {
		return apperror.NewValidation("from_budget_line_id and to_budget_line_id are required")
	}
	if r.From == r.To {
		return apperror.NewValidation("a transfer needs two distinct budget lines").
			WithDetail("budget_line_id", r.From)
	}
	if !r.Amount.IsPositive() {
		return apperror.NewValidation("amount must be positive").WithDetail("amount", r.Amount)
	}
	if strings.TrimSpace(r.Motif) == "" {
		return apperror.NewValidation("motif is required")
	}
	return nil
}

// ListFilter selects transfers.
type ListFilter struct {
	Exercice     int
	BudgetLineID *id.ID
	Status       Status
	Limit        int
	Offset       int
}

// Repository persists credit transfers.
type Repository interface {
	Create(ctx context.Context, t *CreditTransfer) error
	Get(ctx context.Context, transferID id.ID) (*CreditTransfer, error)
	// GetForUpdate holds the transfer's row lock until the transaction ends.
	GetForUpdate(ctx context.Context, transferID id.ID) (*CreditTransfer, error)
	// UpdateDecision writes status and decision fields of a transfer still en_attente.
	UpdateDecision(ctx context.Context, t *CreditTransfer) error
	List(ctx context.Context, filter ListFilter) ([]*CreditTransfer, error)
}

// Numerator issues transfer references.
type Numerator interface {
	Next(ctx context.Context, prefix string, exercice int) (string, error)
}
