// Package notification decides whom to notify about workflow transitions and
// moves the resulting intents through an outbox to a delivery sink.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"spendchain/internal/core/id"
)

// ErrNoRecipients is returned when no eligible actor was found.
var ErrNoRecipients = errors.New("no eligible recipient")

// Kind classifies a notification.
type Kind string

const (
	KindValidationRequested Kind = "validation_requested"
	KindSignatureRequested  Kind = "signature_requested"
	KindRejected            Kind = "rejected"
)

// Status is the delivery state of an outbox row.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ActorRef identifies a recipient.
type ActorRef struct {
	ID          string `db:"id" json:"id"`
	Email       string `db:"email" json:"email"`
	DisplayName string `db:"display_name" json:"display_name"`
}

// Notification is one intent addressed to one recipient.
type Notification struct {
	ID            id.ID           `db:"id" json:"id"`
	Recipient     string          `db:"recipient" json:"recipient"`
	Kind          Kind            `db:"kind" json:"kind"`
	EntityType    string          `db:"entity_type" json:"entity_type"`
	EntityID      id.ID           `db:"entity_id" json:"entity_id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        Status          `db:"status" json:"status"`
	Attempts      int             `db:"attempts" json:"attempts"`
	NextAttemptAt time.Time       `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	SentAt        *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
}

// Directory resolves actors eligible to receive notifications.
type Directory interface {
	// Eligible returns active actors holding any of the profiles or roles.
	Eligible(ctx context.Context, profiles, roles []string) ([]ActorRef, error)
	// Actor returns one active actor. NotFound if absent.
	Actor(ctx context.Context, actorID string) (ActorRef, error)
}

// Store is the notifications outbox.
type Store interface {
	Insert(ctx context.Context, items []Notification) error
	// ClaimDue locks up to limit pending rows due at now, skipping rows locked
	// by other relays. Must run inside a transaction.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	MarkSent(ctx context.Context, notificationID id.ID, at time.Time) error
	MarkRetry(ctx context.Context, notificationID id.ID, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, notificationID id.ID, attempts int, lastErr string) error
}

// Sink delivers a notification over an external channel (email, in-app).
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Enqueuer accepts intents for asynchronous persistence.
type Enqueuer interface {
	Enqueue(ctx context.Context, items []Notification) error
}
