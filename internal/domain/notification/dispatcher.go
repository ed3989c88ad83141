package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spendchain/internal/core/id"
	"spendchain/internal/domain/workflow"
	"spendchain/pkg/logger"
)

// Dispatcher resolves recipients for workflow transitions and hands the
// intents to an Enqueuer. It implements workflow.Notifier.
type Dispatcher struct {
	directory Directory
	queue     Enqueuer
	now       func() time.Time
	log       *logger.Logger
}

var _ workflow.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher.
func NewDispatcher(directory Directory, queue Enqueuer, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		queue:     queue,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.WithComponent("notification"),
	}
}

// NextValidators returns the actors eligible to validate stage.
func (d *Dispatcher) NextValidators(ctx context.Context, stage workflow.Stage) ([]ActorRef, error) {
	spec := stage.Spec()
	actors, err := d.directory.Eligible(ctx, spec.Profiles, spec.Roles)
	if err != nil {
		return nil, fmt.Errorf("resolve validators of %s: %w", stage, err)
	}
	return actors, nil
}

// StageReady notifies the validators of stage that rec awaits them.
func (d *Dispatcher) StageReady(ctx context.Context, stage workflow.Stage, rec *workflow.Record) error {
	actors, err := d.NextValidators(ctx, stage)
	if err != nil {
		return err
	}
	if len(actors) == 0 {
		return fmt.Errorf("stage %s: %w", stage, ErrNoRecipients)
	}
	return d.send(ctx, actors, KindValidationRequested, rec, map[string]any{
		"stage": stage.Key(),
	})
}

// SignatureRequested notifies the holders of role that the next signature of rec is due.
func (d *Dispatcher) SignatureRequested(ctx context.Context, rec *workflow.Record, role string) error {
	actors, err := d.directory.Eligible(ctx, nil, []string{role})
	if err != nil {
		return fmt.Errorf("resolve signers %s: %w", role, err)
	}
	if len(actors) == 0 {
		return fmt.Errorf("role %s: %w", role, ErrNoRecipients)
	}
	return d.send(ctx, actors, KindSignatureRequested, rec, map[string]any{
		"role":         role,
		"current_step": rec.CurrentStep,
	})
}

// Rejected notifies the requester of rec with the rejection reason.
func (d *Dispatcher) Rejected(ctx context.Context, rec *workflow.Record, reason string) error {
	return d.NotifyRejection(ctx, rec.RequestedBy, rec, reason)
}

// NotifyRejection notifies requester that rec was rejected.
func (d *Dispatcher) NotifyRejection(ctx context.Context, requester string, rec *workflow.Record, reason string) error {
	actor, err := d.directory.Actor(ctx, requester)
	if err != nil {
		return fmt.Errorf("resolve requester %s: %w", requester, err)
	}
	return d.send(ctx, []ActorRef{actor}, KindRejected, rec, map[string]any{
		"rejection_reason": reason,
		"rejected_by":      rec.RejectedBy,
	})
}

func (d *Dispatcher) send(ctx context.Context, actors []ActorRef, kind Kind, rec *workflow.Record, extra map[string]any) error {
	body := map[string]any{
		"entity_type": rec.Stage.Key(),
		"numero":      rec.Numero,
		"montant":     rec.Montant,
		"statut":      rec.Statut,
		"exercice":    rec.Exercice,
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	now := d.now()
	items := make([]Notification, 0, len(actors))
	for _, a := range actors {
		items = append(items, Notification{
			ID:            id.New(),
			Recipient:     a.ID,
			Kind:          kind,
			EntityType:    rec.Stage.Key(),
			EntityID:      rec.ID,
			Payload:       payload,
			Status:        StatusPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		})
	}

	if err := d.queue.Enqueue(ctx, items); err != nil {
		return fmt.Errorf("enqueue %d notifications: %w", len(items), err)
	}
	d.log.WithContext(ctx).Debugw("notifications enqueued",
		"kind", kind, "entity_type", rec.Stage.Key(), "entity_id", rec.ID, "recipients", len(items))
	return nil
}
