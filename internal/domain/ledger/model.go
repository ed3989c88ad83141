// Package ledger computes budget-line allocation and availability and guards
// every commitment against it.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
)

// BudgetLine is a line of the budget for one exercice.
// DotationModifiee and TotalEngage are display caches; availability checks
// always recompute from transfers and records.
type BudgetLine struct {
	ID               id.ID         `db:"id" json:"id"`
	Code             string        `db:"code" json:"code"`
	Label            string        `db:"label" json:"label"`
	Exercice         int           `db:"exercice" json:"exercice"`
	DotationInitiale types.Amount  `db:"dotation_initiale" json:"dotation_initiale"`
	DotationModifiee *types.Amount `db:"dotation_modifiee" json:"dotation_modifiee,omitempty"`
	TotalEngage      types.Amount  `db:"total_engage" json:"total_engage"`
	Version          int           `db:"version" json:"version"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Validate checks invariants of a new line.
func (l *BudgetLine) Validate() error {
	if l.Code == "" {
		return apperror.NewValidation("code is required")
	}
	if l.Exercice <= 0 {
		return apperror.NewValidation("exercice is required").WithDetail("exercice", l.Exercice)
	}
	if l.DotationInitiale.IsNegative() {
		return apperror.NewValidation("dotation_initiale must not be negative").
			WithDetail("dotation_initiale", l.DotationInitiale)
	}
	return nil
}

// Totals are the raw sums the availability formula is built from.
type Totals struct {
	VirementsRecus types.Amount `db:"virements_recus"`
	VirementsEmis  types.Amount `db:"virements_emis"`
	TotalEngage    types.Amount `db:"total_engage"`
	TotalReserve   types.Amount `db:"total_reserve"`
}

// Availability is the derived state of a budget line.
type Availability struct {
	BudgetLineID     id.ID           `json:"budget_line_id"`
	Code             string          `json:"code"`
	Exercice         int             `json:"exercice"`
	DotationInitiale types.Amount    `json:"dotation_initiale"`
	VirementsRecus   types.Amount    `json:"virements_recus"`
	VirementsEmis    types.Amount    `json:"virements_emis"`
	DotationActuelle types.Amount    `json:"dotation_actuelle"`
	TotalEngage      types.Amount    `json:"total_engage"`
	TotalReserve     types.Amount    `json:"total_reserve"`
	Disponible       types.Amount    `json:"disponible"`
	TauxEngagement   decimal.Decimal `json:"taux_engagement"`
}

// Compute derives availability:
//
//	dotation_actuelle = dotation_initiale + virements_recus - virements_emis
//	disponible        = dotation_actuelle - total_engage - total_reserve
func Compute(line *BudgetLine, t Totals) Availability {
	actuelle := line.DotationInitiale + t.VirementsRecus - t.VirementsEmis
	return Availability{
		BudgetLineID:     line.ID,
		Code:             line.Code,
		Exercice:         line.Exercice,
		DotationInitiale: line.DotationInitiale,
		VirementsRecus:   t.VirementsRecus,
		VirementsEmis:    t.VirementsEmis,
		DotationActuelle: actuelle,
		TotalEngage:      t.TotalEngage,
		TotalReserve:     t.TotalReserve,
		Disponible:       actuelle - t.TotalEngage - t.TotalReserve,
		TauxEngagement:   types.Percent(t.TotalEngage, actuelle),
	}
}

// CommitCheck is the outcome of a commitment guard.
type CommitCheck struct {
	OK               bool         `json:"ok"`
	Disponible       types.Amount `json:"disponible"`
	DotationActuelle types.Amount `json:"dotation_actuelle"`
	Demande          types.Amount `json:"demandé"`
	Ecart            types.Amount `json:"écart"`
	Message          string       `json:"message"`
}

func newCommitCheck(a Availability, amount types.Amount) CommitCheck {
	c := CommitCheck{
		OK:               amount <= a.Disponible,
		Disponible:       a.Disponible,
		DotationActuelle: a.DotationActuelle,
		Demande:          amount,
	}
	if c.OK {
		c.Message = fmt.Sprintf("Disponible %d, demandé %d", a.Disponible, amount)
		return c
	}
	c.Ecart = amount - a.Disponible
	c.Message = fmt.Sprintf("Budget insuffisant: disponible %d, demandé %d, écart %d",
		a.Disponible, amount, c.Ecart)
	return c
}

// Err returns nil for a passing check and a BudgetInsufficient error otherwise.
func (c CommitCheck) Err() error {
	if c.OK {
		return nil
	}
	return apperror.NewBudgetInsufficient(c.Disponible.Int64(), c.Demande.Int64()).
		WithDetail("dotation_actuelle", c.DotationActuelle.Int64())
}

// LiquidationCheck is the outcome of the engagement bound on a liquidation.
type LiquidationCheck struct {
	OK                 bool         `json:"ok"`
	MontantEngagement  types.Amount `json:"montant_engagement"`
	DejaLiquide        types.Amount `json:"deja_liquide"`
	Restant            types.Amount `json:"restant"`
	MontantLiquidation types.Amount `json:"montant_liquidation"`
}

// Err returns nil for a passing check and a LiquidationExceedsEngagement error otherwise.
func (c LiquidationCheck) Err() error {
	if c.OK {
		return nil
	}
	return apperror.NewLiquidationExceedsEngagement(
		c.MontantLiquidation.Int64(),
		c.MontantEngagement.Int64(),
		c.Restant.Int64(),
	).WithDetail("deja_liquide", c.DejaLiquide.Int64())
}
