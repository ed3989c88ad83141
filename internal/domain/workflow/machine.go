package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"spendchain/internal/core/apperror"
	appctx "spendchain/internal/core/context"
	"spendchain/internal/core/id"
	"spendchain/internal/core/lock"
	"spendchain/internal/core/tx"
	"spendchain/internal/domain/audit"
	"spendchain/internal/domain/ledger"
	"spendchain/pkg/logger"
)

var tracer = otel.Tracer("spendchain/workflow")

// Payload carries the action-specific input of a command.
type Payload struct {
	Comment         string
	RejectionReason string
	DeferUntil      *time.Time
	DeferCondition  string
	// StepOrder optionally names the signature step the actor means to act on.
	// It must equal the record's current step.
	StepOrder *int
}

// Command is a workflow action requested by an actor.
type Command struct {
	Stage    Stage
	EntityID id.ID
	Action   Action
	Actor    *appctx.UserContext
	Payload  Payload
}

// Result describes a committed transition.
type Result struct {
	Stage       Stage     `json:"entity_type"`
	EntityID    id.ID     `json:"entity_id"`
	Action      Action    `json:"action"`
	NewStatut   Statut    `json:"new_statut"`
	CurrentStep int       `json:"current_step,omitempty"`
	ValidatedBy string    `json:"validated_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Record      *Record   `json:"-"`
}

// Machine applies workflow actions to spending records.
type Machine struct {
	records   Repository
	ledger    *ledger.Service
	audit     *audit.Log
	notifier  Notifier
	numerator Numerator
	txm       tx.Manager
	locker    lock.Locker
	now       func() time.Time
	log       *logger.Logger
}

// MachineDeps groups the collaborators of a Machine.
type MachineDeps struct {
	Records   Repository
	Ledger    *ledger.Service
	Audit     *audit.Log
	Notifier  Notifier
	Numerator Numerator
	TxManager tx.Manager
	Locker    lock.Locker
	Logger    *logger.Logger
	Now       func() time.Time
}

// NewMachine creates the workflow state machine.
func NewMachine(d MachineDeps) *Machine {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Machine{
		records:   d.Records,
		ledger:    d.Ledger,
		audit:     d.Audit,
		notifier:  d.Notifier,
		numerator: d.Numerator,
		txm:       d.TxManager,
		locker:    d.Locker,
		now:       now,
		log:       d.Logger.WithComponent("workflow"),
	}
}

// Create registers a new record in brouillon.
func (m *Machine) Create(ctx context.Context, stage Stage, draft Draft, actor *appctx.UserContext) (*Record, error) {
	if actor == nil {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	if !stage.Valid() {
		return nil, apperror.NewValidation("unknown entity_type").WithDetail("entity_type", int(stage))
	}
	spec := stage.Spec()
	if err := draft.Validate(spec); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:           id.New(),
		Stage:        stage,
		Exercice:     draft.Exercice,
		Objet:        strings.TrimSpace(draft.Objet),
		Montant:      draft.Montant,
		BudgetLineID: draft.BudgetLineID,
		EngagementID: draft.EngagementID,
		Statut:       StatutBrouillon,
		RequestedBy:  actor.UserID,
		Version:      1,
	}
	if draft.Comment != "" {
		rec.Comment = &draft.Comment
	}
	if spec.HasChain() {
		rec.CurrentStep = 1
		rec.Steps = NewSteps(rec.ID, spec)
	}

	var keys []string
	if rec.BudgetLineID != nil {
		keys = append(keys, lock.BudgetLineKey(rec.BudgetLineID.String()))
	}

	err := m.locker.WithLock(ctx, keys, func(ctx context.Context) error {
		return m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			if rec.BudgetLineID != nil {
				if err := m.ledger.LockLines(ctx, *rec.BudgetLineID); err != nil {
					return err
				}
				if _, err := m.ledger.Line(ctx, *rec.BudgetLineID, rec.Exercice); err != nil {
					return err
				}
			}
			if stage == StageLiquidation {
				if err := m.checkEngagementLink(ctx, rec); err != nil {
					return err
				}
			}

			numero, err := m.numerator.Next(ctx, spec.Prefix, rec.Exercice)
			if err != nil {
				return fmt.Errorf("number %s: %w", stage, err)
			}
			rec.Numero = numero
			now := m.now()
			rec.CreatedAt, rec.UpdatedAt = now, now

			return m.records.Create(ctx, rec)
		})
	})
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, stage.Key(), rec.ID, audit.ActionCreate, actor.UserID, rec.Exercice,
		nil, snapshot(rec))

	m.log.WithContext(ctx).Infow("record created",
		"entity_type", stage.Key(), "entity_id", rec.ID, "numero", rec.Numero,
		"exercice", rec.Exercice, "montant", rec.Montant)
	return rec, nil
}

// checkEngagementLink requires a liquidation to reference a valide engagement
// on the same budget line and exercice.
func (m *Machine) checkEngagementLink(ctx context.Context, rec *Record) error {
	eng, err := m.records.Get(ctx, StageEngagement, *rec.EngagementID)
	if err != nil {
		return err
	}
	if eng.Statut != StatutValide {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule, "engagement is not validated").
			WithDetail("engagement_id", eng.ID).
			WithDetail("statut", eng.Statut)
	}
	if eng.Exercice != rec.Exercice || eng.BudgetLineID == nil || rec.BudgetLineID == nil ||
		*eng.BudgetLineID != *rec.BudgetLineID {
		return apperror.NewValidation("liquidation must share the engagement's budget line and exercice").
			WithDetail("engagement_id", eng.ID)
	}
	return nil
}

// Get loads a record.
func (m *Machine) Get(ctx context.Context, stage Stage, recordID id.ID) (*Record, error) {
	return m.records.Get(ctx, stage, recordID)
}

// List lists records of a stage.
func (m *Machine) List(ctx context.Context, stage Stage, filter ListFilter) ([]*Record, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	return m.records.List(ctx, stage, filter)
}

// Submit moves a brouillon to soumis. Only the requester or a stage validator may submit.
func (m *Machine) Submit(ctx context.Context, stage Stage, recordID id.ID, actor *appctx.UserContext) (*Result, error) {
	return m.Apply(ctx, Command{Stage: stage, EntityID: recordID, Action: ActionSubmit, Actor: actor})
}

// Apply runs one workflow action:
// resolve → authorize → load → idempotency → business guard → mutate → audit → notify.
// Audit and notification happen after commit and never fail the call.
func (m *Machine) Apply(ctx context.Context, cmd Command) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "workflow.Apply")
	span.SetAttributes(
		attribute.String("workflow.entity_type", cmd.Stage.Key()),
		attribute.String("workflow.entity_id", cmd.EntityID.String()),
		attribute.String("workflow.action", string(cmd.Action)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if cmd.Actor == nil {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	if !cmd.Stage.Valid() {
		return nil, apperror.NewValidation("unknown entity_type").WithDetail("entity_type", int(cmd.Stage))
	}
	if err := validatePayload(cmd); err != nil {
		return nil, err
	}
	spec := cmd.Stage.Spec()

	// Submission is open to the requester; checked once the record is loaded.
	if cmd.Action != ActionSubmit {
		if err := m.authorize(ctx, spec, cmd); err != nil {
			return nil, err
		}
	}

	current, err := m.records.Get(ctx, cmd.Stage, cmd.EntityID)
	if err != nil {
		return nil, err
	}

	keys := []string{lock.RecordKey(cmd.Stage.Key(), cmd.EntityID.String())}
	if current.BudgetLineID != nil && guardsBudget(cmd.Stage) {
		keys = append(keys, lock.BudgetLineKey(current.BudgetLineID.String()))
	}

	var before, after *Record
	err = m.locker.WithLock(ctx, keys, func(ctx context.Context) error {
		return m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			if current.BudgetLineID != nil && guardsBudget(cmd.Stage) {
				if err := m.ledger.LockLines(ctx, *current.BudgetLineID); err != nil {
					return err
				}
			}

			rec, err := m.records.GetForUpdate(ctx, cmd.Stage, cmd.EntityID)
			if err != nil {
				return err
			}
			rec.Stage = cmd.Stage

			if cmd.Action == ActionSubmit && rec.RequestedBy != cmd.Actor.UserID {
				if err := m.authorize(ctx, spec, cmd); err != nil {
					return err
				}
			}
			if err := checkTransition(rec, cmd.Action); err != nil {
				return err
			}
			if err := m.guard(ctx, spec, rec, cmd); err != nil {
				return err
			}

			before = rec.Clone()
			if err := m.mutate(spec, rec, cmd); err != nil {
				return err
			}
			if err := m.records.Update(ctx, rec); err != nil {
				return err
			}

			if rec.Stage == StageEngagement && rec.BudgetLineID != nil {
				if _, err := m.ledger.Refresh(ctx, *rec.BudgetLineID, rec.Exercice); err != nil {
					return err
				}
			}
			after = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, cmd.Stage.Key(), after.ID, auditAction(after, cmd.Action), cmd.Actor.UserID,
		after.Exercice, map[string]any{"statut": before.Statut, "current_step": before.CurrentStep}, snapshot(after))

	m.notify(ctx, before, after, cmd)

	res = &Result{
		Stage:       cmd.Stage,
		EntityID:    after.ID,
		Action:      cmd.Action,
		NewStatut:   after.Statut,
		CurrentStep: after.CurrentStep,
		ValidatedBy: cmd.Actor.UserID,
		Timestamp:   after.UpdatedAt,
		Record:      after,
	}
	m.log.WithContext(ctx).Infow("workflow transition",
		"entity_type", cmd.Stage.Key(), "entity_id", after.ID, "action", cmd.Action,
		"from", before.Statut, "to", after.Statut, "current_step", after.CurrentStep)
	return res, nil
}

func guardsBudget(stage Stage) bool {
	return stage == StageEngagement || stage == StageLiquidation
}

func validatePayload(cmd Command) error {
	switch cmd.Action {
	case ActionValidate, ActionDefer, ActionSubmit, ActionResume:
		return nil
	case ActionReject:
		if strings.TrimSpace(cmd.Payload.RejectionReason) == "" {
			return apperror.NewValidation("rejection_reason is required to reject").
				WithDetail("field", "rejection_reason")
		}
		return nil
	default:
		return apperror.NewValidation("unknown action").WithDetail("action", cmd.Action)
	}
}

func (m *Machine) authorize(ctx context.Context, spec StageSpec, cmd Command) error {
	if cmd.Actor.HasAny(spec.Profiles, spec.Roles) {
		return nil
	}
	m.log.WithContext(ctx).Warnw("workflow permission denied",
		"entity_type", spec.Stage.Key(), "entity_id", cmd.EntityID, "action", cmd.Action,
		"actor", cmd.Actor.UserID, "profiles", cmd.Actor.Profiles, "roles", cmd.Actor.Roles)
	return apperror.NewForbidden("actor is not authorized to act on this stage").
		WithDetail("entity_type", spec.Stage.Key()).
		WithDetail("required_profiles", spec.Profiles).
		WithDetail("required_roles", spec.Roles)
}

// checkTransition enforces the lifecycle table and the idempotency guard.
func checkTransition(rec *Record, action Action) error {
	switch {
	case action == ActionValidate && rec.Statut == StatutValide:
		return apperror.NewConflict("record is already validated").
			WithDetail("statut", rec.Statut).
			WithDetail("validated_by", rec.ValidatedBy).
			WithDetail("validated_at", rec.ValidatedAt)
	case action == ActionReject && rec.Statut == StatutRejete:
		return apperror.NewConflict("record is already rejected").
			WithDetail("statut", rec.Statut).
			WithDetail("rejected_by", rec.RejectedBy).
			WithDetail("rejected_at", rec.RejectedAt)
	}

	var allowed bool
	switch action {
	case ActionSubmit:
		allowed = rec.Statut == StatutBrouillon
	case ActionValidate, ActionReject, ActionDefer:
		allowed = rec.Statut == StatutSoumis || rec.Statut == StatutAValider
	case ActionResume:
		allowed = rec.Statut == StatutDiffere
	}
	if !allowed {
		return apperror.NewConflict(fmt.Sprintf("cannot %s a record in statut %s", action, rec.Statut)).
			WithDetail("statut", rec.Statut).
			WithDetail("action", action)
	}
	return nil
}

// guard runs the stage-specific business checks of a decision.
// On a signature chain every decision belongs to the current step's signer.
func (m *Machine) guard(ctx context.Context, spec StageSpec, rec *Record, cmd Command) error {
	switch cmd.Action {
	case ActionValidate, ActionReject, ActionDefer:
	default:
		return nil
	}

	if spec.HasChain() {
		if err := checkSignature(rec, cmd); err != nil {
			return err
		}
	}
	if cmd.Action != ActionValidate {
		return nil
	}

	switch rec.Stage {
	case StageEngagement:
		if rec.BudgetLineID == nil {
			return apperror.NewValidation("engagement has no budget line")
		}
		check, err := m.ledger.CanCommit(ctx, *rec.BudgetLineID, rec.Montant, rec.Exercice,
			ledger.ExcludeRecord(rec.ID))
		if err != nil {
			return err
		}
		if !check.OK {
			return budgetError(check.Err(), map[string]any{
				"montant_engagement": rec.Montant.Int64(),
				"budget_disponible":  check.Disponible.Int64(),
			})
		}
	case StageLiquidation:
		if rec.EngagementID == nil {
			return apperror.NewValidation("liquidation has no engagement")
		}
		eng, err := m.records.Get(ctx, StageEngagement, *rec.EngagementID)
		if err != nil {
			return err
		}
		check, err := m.ledger.CheckLiquidation(ctx, eng.ID, eng.Montant, rec.Montant, rec.ID)
		if err != nil {
			return err
		}
		if !check.OK {
			return budgetError(check.Err(), map[string]any{
				"montant_liquidation": rec.Montant.Int64(),
				"montant_engagement":  eng.Montant.Int64(),
			})
		}
	}
	return nil
}

func budgetError(err error, details map[string]any) error {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return err
	}
	for k, v := range details {
		appErr.WithDetail(k, v)
	}
	return appErr
}

// checkSignature enforces strict step order on a signature chain and that the
// actor holds the role of the step being decided.
func checkSignature(rec *Record, cmd Command) error {
	step, ok := rec.CurrentSignature()
	if !ok {
		return apperror.NewInternal(fmt.Errorf("record %s has no step %d", rec.ID, rec.CurrentStep))
	}
	if cmd.Payload.StepOrder != nil && *cmd.Payload.StepOrder != step.StepOrder {
		return apperror.NewConflict("signature steps must be resolved in order").
			WithDetail("requested_step", *cmd.Payload.StepOrder).
			WithDetail("current_step", step.StepOrder).
			WithDetail("current_role", step.Role)
	}
	for _, st := range rec.Steps {
		if st.StepOrder < step.StepOrder && st.Status != StepValidated {
			return apperror.NewConflict("a lower signature step is still pending").
				WithDetail("pending_step", st.StepOrder).
				WithDetail("current_step", step.StepOrder)
		}
	}
	if !cmd.Actor.HasRole(step.Role) {
		return apperror.NewForbidden("actor does not hold the role of the current signature step").
			WithDetail("current_step", step.StepOrder).
			WithDetail("required_role", step.Role)
	}
	return nil
}

// mutate applies the action to rec in place.
func (m *Machine) mutate(spec StageSpec, rec *Record, cmd Command) error {
	now := m.now()
	actor := cmd.Actor.UserID
	comment := strings.TrimSpace(cmd.Payload.Comment)

	switch cmd.Action {
	case ActionSubmit:
		rec.Statut = StatutSoumis

	case ActionValidate:
		if spec.HasChain() {
			step, _ := rec.CurrentSignature()
			step.Status = StepValidated
			step.ValidatedBy = &actor
			step.ValidatedAt = &now
			if comment != "" {
				step.Comments = &comment
			}
			if step.StepOrder < len(rec.Steps) {
				rec.Statut = StatutAValider
				rec.CurrentStep = step.StepOrder + 1
				break
			}
		}
		rec.Statut = StatutValide
		rec.ValidatedBy = &actor
		rec.ValidatedAt = &now

	case ActionReject:
		reason := strings.TrimSpace(cmd.Payload.RejectionReason)
		if spec.HasChain() {
			if step, ok := rec.CurrentSignature(); ok {
				step.Status = StepRejected
				step.ValidatedBy = &actor
				step.ValidatedAt = &now
				step.Comments = &reason
			}
		}
		rec.Statut = StatutRejete
		rec.RejectedBy = &actor
		rec.RejectedAt = &now
		rec.RejectionReason = &reason

	case ActionDefer:
		rec.Statut = StatutDiffere
		rec.DiffereBy = &actor
		rec.DiffereAt = &now
		rec.DiffereUntil = cmd.Payload.DeferUntil
		if c := strings.TrimSpace(cmd.Payload.DeferCondition); c != "" {
			rec.DiffereCondition = &c
		} else {
			rec.DiffereCondition = nil
		}

	case ActionResume:
		rec.Statut = StatutAValider

	default:
		return apperror.NewValidation("unknown action").WithDetail("action", cmd.Action)
	}

	if comment != "" && cmd.Action != ActionValidate {
		rec.Comment = &comment
	}
	rec.UpdatedAt = now
	return nil
}

// notify emits intents after commit. Failures are logged and swallowed.
func (m *Machine) notify(ctx context.Context, before, after *Record, cmd Command) {
	if m.notifier == nil {
		return
	}

	var err error
	switch cmd.Action {
	case ActionSubmit:
		err = m.notifier.StageReady(ctx, after.Stage, after)
	case ActionValidate:
		if after.Statut != StatutValide {
			if step, ok := after.CurrentSignature(); ok {
				err = m.notifier.SignatureRequested(ctx, after, step.Role)
			}
			break
		}
		next, ok := after.Stage.Next()
		if !ok {
			return
		}
		err = m.notifier.StageReady(ctx, next, after)
	case ActionReject:
		err = m.notifier.Rejected(ctx, after, *after.RejectionReason)
	default:
		return
	}

	if err != nil {
		m.log.WithContext(ctx).Warnw("notification dispatch failed",
			"entity_type", after.Stage.Key(),
			"entity_id", after.ID,
			"action", cmd.Action,
			"from", before.Statut,
			"error", err,
		)
	}
}

func auditAction(after *Record, action Action) audit.Action {
	switch action {
	case ActionSubmit:
		return audit.ActionSubmit
	case ActionValidate:
		if after.Statut != StatutValide {
			return audit.ActionValidateStep
		}
		return audit.ActionValidate
	case ActionReject:
		return audit.ActionReject
	case ActionDefer:
		return audit.ActionDefer
	default:
		return audit.ActionResume
	}
}

// snapshot is the audited view of a record.
func snapshot(rec *Record) map[string]any {
	s := map[string]any{
		"statut":       rec.Statut,
		"numero":       rec.Numero,
		"montant":      rec.Montant,
		"current_step": rec.CurrentStep,
	}
	if rec.BudgetLineID != nil {
		s["budget_line_id"] = rec.BudgetLineID
	}
	if rec.ValidatedBy != nil {
		s["validated_by"] = *rec.ValidatedBy
		s["validated_at"] = rec.ValidatedAt
	}
	if rec.RejectedBy != nil {
		s["rejected_by"] = *rec.RejectedBy
		s["rejected_at"] = rec.RejectedAt
		s["rejection_reason"] = rec.RejectionReason
	}
	if rec.Statut == StatutDiffere {
		s["differe_by"] = rec.DiffereBy
		s["differe_at"] = rec.DiffereAt
		s["differe_until"] = rec.DiffereUntil
		s["differe_condition"] = rec.DiffereCondition
	}
	if len(rec.Steps) > 0 {
		s["steps"] = rec.Steps
	}
	return s
}
