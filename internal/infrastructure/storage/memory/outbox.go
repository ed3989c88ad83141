package memory

import (
	"context"
	"slices"
	"time"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/notification"
)

// Outbox implements notification.Store.
type Outbox struct {
	s *Store
}

// Outbox returns the notifications outbox.
func (s *Store) Outbox() *Outbox {
	return &Outbox{s: s}
}

var _ notification.Store = (*Outbox)(nil)

func (o *Outbox) Insert(ctx context.Context, items []notification.Notification) error {
	return o.s.write(ctx, func() (func(), error) {
		n := len(o.s.notifyOrder)
		for i := range items {
			c := items[i]
			o.s.notifications[c.ID] = &c
			o.s.notifyOrder = append(o.s.notifyOrder, c.ID)
		}
		return func() {
			for _, nid := range o.s.notifyOrder[n:] {
				delete(o.s.notifications, nid)
			}
			o.s.notifyOrder = o.s.notifyOrder[:n]
		}, nil
	})
}

func (o *Outbox) ClaimDue(ctx context.Context, now time.Time, limit int) ([]notification.Notification, error) {
	o.s.mu.RLock()
	due := make([]notification.Notification, 0)
	for _, nid := range o.s.notifyOrder {
		n := o.s.notifications[nid]
		if n.Status == notification.StatusPending && !n.NextAttemptAt.After(now) {
			due = append(due, *n)
		}
	}
	o.s.mu.RUnlock()

	slices.SortStableFunc(due, func(a, b notification.Notification) int {
		return a.NextAttemptAt.Compare(b.NextAttemptAt)
	})

	claimed := make([]notification.Notification, 0, limit)
	for _, n := range due {
		if len(claimed) == limit {
			break
		}
		if o.s.tryLockRow(ctx, rowKey("notifications", n.ID)) {
			claimed = append(claimed, n)
		}
	}
	return claimed, nil
}

func (o *Outbox) update(ctx context.Context, nid id.ID, apply func(n *notification.Notification)) error {
	return o.s.write(ctx, func() (func(), error) {
		n, ok := o.s.notifications[nid]
		if !ok {
			return nil, apperror.NewNotFound("notification", nid.String())
		}
		prev := *n
		apply(n)
		return func() { *n = prev }, nil
	})
}

func (o *Outbox) MarkSent(ctx context.Context, nid id.ID, at time.Time) error {
	return o.update(ctx, nid, func(n *notification.Notification) {
		n.Status = notification.StatusSent
		n.Attempts++
		n.SentAt = &at
		n.LastError = nil
	})
}

func (o *Outbox) MarkRetry(ctx context.Context, nid id.ID, attempts int, next time.Time, lastErr string) error {
	return o.update(ctx, nid, func(n *notification.Notification) {
		n.Attempts = attempts
		n.NextAttemptAt = next
		n.LastError = &lastErr
	})
}

func (o *Outbox) MarkFailed(ctx context.Context, nid id.ID, attempts int, lastErr string) error {
	return o.update(ctx, nid, func(n *notification.Notification) {
		n.Status = notification.StatusFailed
		n.Attempts = attempts
		n.LastError = &lastErr
	})
}

// All returns every notification in insertion order.
func (o *Outbox) All() []notification.Notification {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	out := make([]notification.Notification, 0, len(o.s.notifyOrder))
	for _, nid := range o.s.notifyOrder {
		out = append(out, *o.s.notifications[nid])
	}
	return out
}
