package workflow

import (
	"strings"
	"time"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
)

// Statut is the lifecycle state of a spending record.
type Statut string

const (
	StatutBrouillon Statut = "brouillon"
	StatutSoumis    Statut = "soumis"
	StatutAValider  Statut = "a_valider"
	StatutValide    Statut = "valide"
	StatutRejete    Statut = "rejete"
	StatutDiffere   Statut = "differe"
)

// Terminal reports whether no further action is possible.
func (s Statut) Terminal() bool {
	return s == StatutValide || s == StatutRejete
}

// Reserving reports whether a record in this state still holds a reservation
// on its budget line (counted in total_reserve).
func (s Statut) Reserving() bool {
	return s == StatutBrouillon || s == StatutSoumis || s == StatutAValider
}

// ReservingStatuts lists the states counted in total_reserve.
func ReservingStatuts() []Statut {
	return []Statut{StatutBrouillon, StatutSoumis, StatutAValider}
}

// Action is a workflow command on a record.
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionValidate Action = "validate"
	ActionReject   Action = "reject"
	ActionDefer    Action = "defer"
	ActionResume   Action = "resume"
)

// ParseAction resolves an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionSubmit, ActionValidate, ActionReject, ActionDefer, ActionResume:
		return a, nil
	default:
		return "", apperror.NewValidation("unknown action").WithDetail("action", s)
	}
}

// StepStatus is the state of one signature in a chain.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepValidated StepStatus = "validated"
	StepRejected  StepStatus = "rejected"
)

// ValidationStep is one signature of a multi-actor stage.
// ValidatedBy and ValidatedAt name whoever resolved the step, validated or rejected.
type ValidationStep struct {
	RecordID    id.ID      `db:"record_id" json:"-"`
	StepOrder   int        `db:"step_order" json:"step_order"`
	Role        string     `db:"role" json:"role"`
	Status      StepStatus `db:"status" json:"status"`
	ValidatedBy *string    `db:"validated_by" json:"validated_by,omitempty"`
	ValidatedAt *time.Time `db:"validated_at" json:"validated_at,omitempty"`
	Comments    *string    `db:"comments" json:"comments,omitempty"`
}

// Record is a spending record of any stage. Stage selects the backing table.
type Record struct {
	ID               id.ID            `db:"id" json:"id"`
	Stage            Stage            `db:"-" json:"entity_type"`
	Numero           string           `db:"numero" json:"numero"`
	Exercice         int              `db:"exercice" json:"exercice"`
	Objet            string           `db:"objet" json:"objet"`
	Montant          types.Amount     `db:"montant" json:"montant"`
	BudgetLineID     *id.ID           `db:"budget_line_id" json:"budget_line_id,omitempty"`
	EngagementID     *id.ID           `db:"engagement_id" json:"engagement_id,omitempty"`
	Statut           Statut           `db:"statut" json:"statut"`
	CurrentStep      int              `db:"current_step" json:"current_step"`
	RequestedBy      string           `db:"requested_by" json:"requested_by"`
	ValidatedBy      *string          `db:"validated_by" json:"validated_by,omitempty"`
	ValidatedAt      *time.Time       `db:"validated_at" json:"validated_at,omitempty"`
	RejectedBy       *string          `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt       *time.Time       `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason  *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	DiffereBy        *string          `db:"differe_by" json:"differe_by,omitempty"`
	DiffereAt        *time.Time       `db:"differe_at" json:"differe_at,omitempty"`
	DiffereUntil     *time.Time       `db:"differe_until" json:"differe_until,omitempty"`
	DiffereCondition *string          `db:"differe_condition" json:"differe_condition,omitempty"`
	Comment          *string          `db:"comment" json:"comment,omitempty"`
	Version          int              `db:"version" json:"version"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
	Steps            []ValidationStep `db:"-" json:"steps,omitempty"`
}

// Clone returns a deep copy, used for audit snapshots and the memory store.
func (r *Record) Clone() *Record {
	c := *r
	c.BudgetLineID = clonePtr(r.BudgetLineID)
	c.EngagementID = clonePtr(r.EngagementID)
	c.ValidatedBy = clonePtr(r.ValidatedBy)
	c.ValidatedAt = clonePtr(r.ValidatedAt)
	c.RejectedBy = clonePtr(r.RejectedBy)
	c.RejectedAt = clonePtr(r.RejectedAt)
	c.RejectionReason = clonePtr(r.RejectionReason)
	c.DiffereBy = clonePtr(r.DiffereBy)
	c.DiffereAt = clonePtr(r.DiffereAt)
	c.DiffereUntil = clonePtr(r.DiffereUntil)
	c.DiffereCondition = clonePtr(r.DiffereCondition)
	c.Comment = clonePtr(r.Comment)
	if r.Steps != nil {
		c.Steps = make([]ValidationStep, len(r.Steps))
		for i, st := range r.Steps {
			st.ValidatedBy = clonePtr(st.ValidatedBy)
			st.ValidatedAt = clonePtr(st.ValidatedAt)
			st.Comments = clonePtr(st.Comments)
			c.Steps[i] = st
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CurrentSignature returns the step awaiting a signature, if any.
func (r *Record) CurrentSignature() (*ValidationStep, bool) {
	for i := range r.Steps {
		if r.Steps[i].StepOrder == r.CurrentStep {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Draft is the requester input for a new record.
type Draft struct {
	Exercice     int
	Objet        string
	Montant      types.Amount
	BudgetLineID *id.ID
	EngagementID *id.ID
	Comment      string
}

// Validate checks the draft against the stage's requirements.
func (d Draft) Validate(spec StageSpec) error {
	if d.Exercice <= 0 {
		return apperror.NewValidation("exercice is required")
	}
	if strings.TrimSpace(d.Objet) == "" {
		return apperror.NewValidation("objet is required")
	}
	if d.Montant.IsNegative() {
		return apperror.NewValidation("montant must not be negative").WithDetail("montant", d.Montant)
	}
	if spec.RequiresBudgetLine && (d.BudgetLineID == nil || id.IsNil(*d.BudgetLineID)) {
		return apperror.NewValidation("budget_line_id is required").
			WithDetail("entity_type", spec.Stage.Key())
	}
	if spec.Stage == StageLiquidation && (d.EngagementID == nil || id.IsNil(*d.EngagementID)) {
		return apperror.NewValidation("engagement_id is required for a liquidation")
	}
	return nil
}

// NewSteps materialises the signature chain of a stage, all pending.
func NewSteps(recordID id.ID, spec StageSpec) []ValidationStep {
	if !spec.HasChain() {
		return nil
	}
	steps := make([]ValidationStep, len(spec.Chain))
	for i, role := range spec.Chain {
		steps[i] = ValidationStep{
			RecordID:  recordID,
			StepOrder: i + 1,
			Role:      role,
			Status:    StepPending,
		}
	}
	return steps
}

// ListFilter selects records of a stage.
type ListFilter struct {
	Exercice     int
	Statut       Statut
	BudgetLineID *id.ID
	Limit        int
	Offset       int
}
