package dto

import (
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/ledger"
)

// CreateBudgetLineRequest is the body of POST /api/v1/budget-lines.
type CreateBudgetLineRequest struct {
	Code             string `json:"code" binding:"required"`
	Label            string `json:"label"`
	Exercice         int    `json:"exercice" binding:"required,min=1"`
	DotationInitiale int64  `json:"dotation_initiale" binding:"min=0"`
}

// ToLine converts to a budget line.
func (r *CreateBudgetLineRequest) ToLine() *ledger.BudgetLine {
	return &ledger.BudgetLine{
		ID:               id.New(),
		Code:             r.Code,
		Label:            r.Label,
		Exercice:         r.Exercice,
		DotationInitiale: types.Amount(r.DotationInitiale),
	}
}

// ExerciceQuery selects the exercice of a budget read.
type ExerciceQuery struct {
	Exercice int `form:"exercice" binding:"required,min=1"`
}
