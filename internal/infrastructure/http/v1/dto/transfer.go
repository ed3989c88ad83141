package dto

import (
	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/transfer"
)

// CreateTransferRequest is the body of POST /api/v1/transfers.
type CreateTransferRequest struct {
	FromBudgetLineID string `json:"from_budget_line_id" binding:"required"`
	ToBudgetLineID   string `json:"to_budget_line_id" binding:"required"`
	Amount           int64  `json:"amount" binding:"required"`
	Motif            string `json:"motif" binding:"required"`
	Exercice         int    `json:"exercice" binding:"required,min=1"`
}

// ToRequest converts to a transfer request.
func (r *CreateTransferRequest) ToRequest() (transfer.Request, error) {
	from, err := id.Parse(r.FromBudgetLineID)
	if err != nil {
		return transfer.Request{}, apperror.NewValidation("from_budget_line_id must be a UUID")
	}
	to, err := id.Parse(r.ToBudgetLineID)
	if err != nil {
		return transfer.Request{}, apperror.NewValidation("to_budget_line_id must be a UUID")
	}
	return transfer.Request{
		From:     from,
		To:       to,
		Amount:   types.Amount(r.Amount),
		Motif:    r.Motif,
		Exercice: r.Exercice,
	}, nil
}

// RejectTransferRequest is the body of POST /api/v1/transfers/:id/reject.
type RejectTransferRequest struct {
	Reason string `json:"rejection_reason" binding:"required"`
}

// TransferListQuery filters GET /api/v1/transfers.
type TransferListQuery struct {
	PageRequest
	Exercice     int    `form:"exercice"`
	Status       string `form:"status"`
	BudgetLineID string `form:"budget_line_id"`
}

// ToFilter converts to a transfer list filter.
func (q *TransferListQuery) ToFilter() (transfer.ListFilter, error) {
	q.Defaults()
	lineID, err := optionalID("budget_line_id", q.BudgetLineID)
	if err != nil {
		return transfer.ListFilter{}, err
	}
	return transfer.ListFilter{
		Exercice:     q.Exercice,
		Status:       transfer.Status(q.Status),
		BudgetLineID: lineID,
		Limit:        q.Limit,
		Offset:       q.Offset,
	}, nil
}
