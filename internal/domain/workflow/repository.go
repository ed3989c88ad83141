package workflow

import (
	"context"

	"spendchain/internal/core/id"
)

// Repository persists spending records and their signature steps.
// Every method runs on the transaction carried by ctx when there is one.
type Repository interface {
	// Create inserts the record and its steps.
	Create(ctx context.Context, rec *Record) error

	// Get loads a record with its steps. NotFound if absent.
	Get(ctx context.Context, stage Stage, recordID id.ID) (*Record, error)

	// GetForUpdate loads a record and holds its row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, stage Stage, recordID id.ID) (*Record, error)

	// Update writes the lifecycle fields and steps, guarded by Version.
	Update(ctx context.Context, rec *Record) error

	List(ctx context.Context, stage Stage, filter ListFilter) ([]*Record, error)
}

// Numerator issues record references.
type Numerator interface {
	Next(ctx context.Context, prefix string, exercice int) (string, error)
}

// Notifier receives notification intents once a transition has committed.
// Implementations must not block on delivery.
type Notifier interface {
	// StageReady asks the validators of stage to act on rec.
	StageReady(ctx context.Context, stage Stage, rec *Record) error
	// SignatureRequested asks the holders of role to sign the next step of rec.
	SignatureRequested(ctx context.Context, rec *Record, role string) error
	// Rejected informs the requester of rec.
	Rejected(ctx context.Context, rec *Record, reason string) error
}
