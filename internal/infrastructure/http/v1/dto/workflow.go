package dto

import (
	"strings"
	"time"

	"spendchain/internal/core/apperror"
	appctx "spendchain/internal/core/context"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/workflow"
)

// ValidateWorkflowRequest is the body of POST /validate-workflow.
type ValidateWorkflowRequest struct {
	EntityType      string `json:"entity_type" binding:"required"`
	EntityID        string `json:"entity_id" binding:"required"`
	Action          string `json:"action" binding:"required,oneof=validate reject defer"`
	Comment         string `json:"comment,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	DeferDate       string `json:"defer_date,omitempty"`
	DeferCondition  string `json:"defer_condition,omitempty"`
	StepOrder       *int   `json:"step_order,omitempty"`
}

// ToCommand resolves the request into a workflow command.
func (r *ValidateWorkflowRequest) ToCommand(actor *appctx.UserContext) (workflow.Command, error) {
	stage, err := workflow.ParseStage(r.EntityType)
	if err != nil {
		return workflow.Command{}, err
	}
	entityID, err := id.Parse(r.EntityID)
	if err != nil {
		return workflow.Command{}, apperror.NewValidation("entity_id must be a UUID").
			WithDetail("entity_id", r.EntityID)
	}
	action, err := workflow.ParseAction(r.Action)
	if err != nil {
		return workflow.Command{}, err
	}

	payload := workflow.Payload{
		Comment:         r.Comment,
		RejectionReason: r.RejectionReason,
		DeferCondition:  r.DeferCondition,
		StepOrder:       r.StepOrder,
	}
	if r.DeferDate != "" {
		until, err := ParseDate(r.DeferDate)
		if err != nil {
			return workflow.Command{}, apperror.NewValidation("defer_date must be a date (YYYY-MM-DD) or RFC 3339 timestamp").
				WithDetail("defer_date", r.DeferDate)
		}
		payload.DeferUntil = &until
	}

	return workflow.Command{
		Stage:    stage,
		EntityID: entityID,
		Action:   action,
		Actor:    actor,
		Payload:  payload,
	}, nil
}

// ParseDate accepts YYYY-MM-DD or RFC 3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ValidateWorkflowResponse is the 200 body of POST /validate-workflow.
type ValidateWorkflowResponse struct {
	Success     bool      `json:"success"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Action      string    `json:"action"`
	NewStatut   string    `json:"new_statut"`
	CurrentStep int       `json:"current_step,omitempty"`
	ValidatedBy string    `json:"validated_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// FromResult builds the response of a committed transition.
func FromResult(res *workflow.Result) ValidateWorkflowResponse {
	return ValidateWorkflowResponse{
		Success:     true,
		EntityType:  res.Stage.Key(),
		EntityID:    res.EntityID.String(),
		Action:      string(res.Action),
		NewStatut:   string(res.NewStatut),
		CurrentStep: res.CurrentStep,
		ValidatedBy: res.ValidatedBy,
		Timestamp:   res.Timestamp,
	}
}

// CreateRecordRequest is the body of POST /api/v1/records/:stage.
type CreateRecordRequest struct {
	Exercice     int    `json:"exercice" binding:"required,min=1"`
	Objet        string `json:"objet" binding:"required"`
	Montant      int64  `json:"montant" binding:"min=0"`
	BudgetLineID string `json:"budget_line_id,omitempty"`
	EngagementID string `json:"engagement_id,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

// ToDraft converts to a workflow draft.
func (r *CreateRecordRequest) ToDraft() (workflow.Draft, error) {
	d := workflow.Draft{
		Exercice: r.Exercice,
		Objet:    r.Objet,
		Montant:  types.Amount(r.Montant),
		Comment:  r.Comment,
	}
	var err error
	if d.BudgetLineID, err = optionalID("budget_line_id", r.BudgetLineID); err != nil {
		return workflow.Draft{}, err
	}
	if d.EngagementID, err = optionalID("engagement_id", r.EngagementID); err != nil {
		return workflow.Draft{}, err
	}
	return d, nil
}

// RecordListQuery filters GET /api/v1/records/:stage.
type RecordListQuery struct {
	PageRequest
	Exercice     int    `form:"exercice"`
	Statut       string `form:"statut"`
	BudgetLineID string `form:"budget_line_id"`
}

// ToFilter converts to a workflow list filter.
func (q *RecordListQuery) ToFilter() (workflow.ListFilter, error) {
	q.Defaults()
	lineID, err := optionalID("budget_line_id", q.BudgetLineID)
	if err != nil {
		return workflow.ListFilter{}, err
	}
	return workflow.ListFilter{
		Exercice:     q.Exercice,
		Statut:       workflow.Statut(q.Statut),
		BudgetLineID: lineID,
		Limit:        q.Limit,
		Offset:       q.Offset,
	}, nil
}

// CommentRequest is an optional comment on submit or resume.
type CommentRequest struct {
	Comment string `json:"comment,omitempty"`
}

func optionalID(field, raw string) (*id.ID, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := id.Parse(raw)
	if err != nil {
		return nil, apperror.NewValidation(field+" must be a UUID").WithDetail(field, raw)
	}
	return &parsed, nil
}
