package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/notification"
)

const notificationsTable = "notifications"

var notificationColumns = Columns[notification.Notification]()

// OutboxStore implements notification.Store on the notifications table.
type OutboxStore struct {
	txm *TxManager
}

// NewOutboxStore creates the notifications outbox.
func NewOutboxStore(txm *TxManager) *OutboxStore {
	return &OutboxStore{txm: txm}
}

var _ notification.Store = (*OutboxStore)(nil)

// Insert writes all items in one statement.
func (s *OutboxStore) Insert(ctx context.Context, items []notification.Notification) error {
	if len(items) == 0 {
		return nil
	}
	ins := builder().Insert(notificationsTable).Columns(notificationColumns...)
	for i := range items {
		m := StructToMap(&items[i])
		vals := make([]any, len(notificationColumns))
		for j, col := range notificationColumns {
			vals[j] = m[col]
		}
		ins = ins.Values(vals...)
	}
	sql, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.txm.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(err, "notification", "insert")
	}
	return nil
}

// ClaimDue locks due rows with SKIP LOCKED so concurrent relays never share a row.
func (s *OutboxStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]notification.Notification, error) {
	if !InTransaction(ctx) {
		return nil, fmt.Errorf("claim notifications: requires a transaction")
	}
	sql, args, err := builder().
		Select(notificationColumns...).
		From(notificationsTable).
		Where(squirrel.Eq{"status": notification.StatusPending}).
		Where(squirrel.LtOrEq{"next_attempt_at": now}).
		OrderBy("next_attempt_at", "created_at").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	out := make([]notification.Notification, 0, limit)
	if err := pgxscan.Select(ctx, s.txm.Querier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	return out, nil
}

func (s *OutboxStore) update(ctx context.Context, nid id.ID, set map[string]any) error {
	sql, args, err := builder().
		Update(notificationsTable).
		SetMap(set).
		Where(squirrel.Eq{"id": nid}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.txm.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "notification", "update")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("notification", nid.String())
	}
	return nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, nid id.ID, at time.Time) error {
	return s.update(ctx, nid, map[string]any{
		"status":     notification.StatusSent,
		"attempts":   squirrel.Expr("attempts + 1"),
		"sent_at":    at,
		"last_error": nil,
	})
}

func (s *OutboxStore) MarkRetry(ctx context.Context, nid id.ID, attempts int, next time.Time, lastErr string) error {
	return s.update(ctx, nid, map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next,
		"last_error":      lastErr,
	})
}

func (s *OutboxStore) MarkFailed(ctx context.Context, nid id.ID, attempts int, lastErr string) error {
	return s.update(ctx, nid, map[string]any{
		"status":     notification.StatusFailed,
		"attempts":   attempts,
		"last_error": lastErr,
	})
}

// PurgeSent deletes delivered rows older than before.
func (s *OutboxStore) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	sql, args, err := builder().
		Delete(notificationsTable).
		Where(squirrel.Eq{"status": notification.StatusSent}).
		Where(squirrel.Lt{"sent_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.txm.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "notification", "purge")
	}
	return tag.RowsAffected(), nil
}
