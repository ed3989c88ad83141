// Package audit records every spending-chain transition in an append-only log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spendchain/internal/core/id"
	"spendchain/pkg/logger"
)

// Action names the audited operation.
type Action string

const (
	ActionCreate          Action = "create"
	ActionSubmit          Action = "submit"
	ActionValidate        Action = "validate"
	ActionValidateStep    Action = "validate_step"
	ActionReject          Action = "reject"
	ActionDefer           Action = "defer"
	ActionResume          Action = "resume"
	ActionTransferRequest Action = "transfer_request"
	ActionTransferApprove Action = "transfer_approve"
	ActionTransferReject  Action = "transfer_reject"
)

// Entry is a single audit record. Entries are never mutated once written.
type Entry struct {
	ID         id.ID           `db:"id" json:"id"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   id.ID           `db:"entity_id" json:"entity_id"`
	Action     Action          `db:"action" json:"action"`
	Actor      string          `db:"actor" json:"actor"`
	OldValues  json.RawMessage `db:"old_values" json:"old_values,omitempty"`
	NewValues  json.RawMessage `db:"new_values" json:"new_values,omitempty"`
	Exercice   int             `db:"exercice" json:"exercice"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Store is the write-only persistence contract plus a history read.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]Entry, error)
}

// Log appends audit entries. Write failures are reported loudly and swallowed:
// a committed financial transition is never rolled back because its audit
// entry could not be stored.
type Log struct {
	store Store
	now   func() time.Time
	log   *logger.Logger
}

// NewLog creates an audit log over store.
func NewLog(store Store, log *logger.Logger) *Log {
	return &Log{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.WithComponent("audit"),
	}
}

// Record builds and appends an entry. oldValues and newValues are marshalled to JSON.
// Returns false when the entry could not be stored.
func (l *Log) Record(
	ctx context.Context,
	entityType string,
	entityID id.ID,
	action Action,
	actor string,
	exercice int,
	oldValues, newValues any,
) bool {
	entry := Entry{
		ID:         id.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Exercice:   exercice,
		CreatedAt:  l.now(),
	}

	var err error
	if entry.OldValues, err = marshal(oldValues); err == nil {
		entry.NewValues, err = marshal(newValues)
	}
	if err == nil {
		err = l.store.Append(ctx, entry)
	}
	if err != nil {
		l.log.WithContext(ctx).Errorw("AUDIT WRITE FAILED: transition is committed without audit entry",
			"entity_type", entityType,
			"entity_id", entityID,
			"action", action,
			"actor", actor,
			"exercice", exercice,
			"error", err,
		)
		return false
	}
	return true
}

// History returns the newest entries of an entity first.
func (l *Log) History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.History(ctx, entityType, entityID, limit)
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return b, nil
}
