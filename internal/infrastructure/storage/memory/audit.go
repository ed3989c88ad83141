package memory

import (
	"context"

	"spendchain/internal/core/id"
	"spendchain/internal/domain/audit"
)

// AuditStore implements audit.Store. Entries are append-only.
type AuditStore struct {
	s *Store
}

// Audit returns the audit store.
func (s *Store) Audit() *AuditStore {
	return &AuditStore{s: s}
}

var _ audit.Store = (*AuditStore)(nil)

func (a *AuditStore) Append(ctx context.Context, entry audit.Entry) error {
	return a.s.write(ctx, func() (func(), error) {
		a.s.auditLog = append(a.s.auditLog, entry)
		n := len(a.s.auditLog) - 1
		return func() { a.s.auditLog = a.s.auditLog[:n] }, nil
	})
}

func (a *AuditStore) History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]audit.Entry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]audit.Entry, 0)
	for i := len(a.s.auditLog) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := a.s.auditLog[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}
