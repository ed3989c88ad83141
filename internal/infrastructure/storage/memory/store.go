// Package memory is an in-process implementation of every repository, used in
// dev mode (STORAGE_DRIVER=memory) and by domain tests.
//
// Writes become visible to other goroutines immediately; rollback replays an
// undo log. Callers that need serialization take row locks (LockLines,
// GetForUpdate, ClaimDue) which are held until their transaction ends, the
// way SELECT ... FOR UPDATE behaves in postgres.
package memory

import (
	"context"
	"fmt"
	"sync"

	"spendchain/internal/core/id"
	"spendchain/internal/domain/audit"
	"spendchain/internal/domain/auth"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/notification"
	"spendchain/internal/domain/transfer"
	"spendchain/internal/domain/workflow"
)

// Store holds all tables.
type Store struct {
	mu sync.RWMutex

	lines         map[id.ID]*ledger.BudgetLine
	records       map[workflow.Stage]map[id.ID]*workflow.Record
	transfers     map[id.ID]*transfer.CreditTransfer
	auditLog      []audit.Entry
	notifications map[id.ID]*notification.Notification
	notifyOrder   []id.ID
	actors        map[id.ID]*auth.Actor
	actorEmails   map[string]id.ID

	rowsMu sync.Mutex
	rows   map[string]chan struct{}
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		lines:         make(map[id.ID]*ledger.BudgetLine),
		records:       make(map[workflow.Stage]map[id.ID]*workflow.Record),
		transfers:     make(map[id.ID]*transfer.CreditTransfer),
		notifications: make(map[id.ID]*notification.Notification),
		actors:        make(map[id.ID]*auth.Actor),
		actorEmails:   make(map[string]id.ID),
		rows:          make(map[string]chan struct{}),
	}
	for _, st := range workflow.Stages() {
		s.records[st] = make(map[id.ID]*workflow.Record)
	}
	return s
}

type txKey struct{}

type txState struct {
	undo []func()
	held []string
	keys map[string]bool
}

func txFrom(ctx context.Context) *txState {
	t, _ := ctx.Value(txKey{}).(*txState)
	return t
}

// TxManager implements tx.Manager over the store.
type TxManager struct {
	s *Store
}

// TxManager returns the store's transaction manager.
func (s *Store) TxManager() *TxManager {
	return &TxManager{s: s}
}

// RunInTransaction runs fn in a transaction. Nested calls join the outer one.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	t := &txState{keys: make(map[string]bool)}
	defer m.s.releaseRows(t)
	defer func() {
		if p := recover(); p != nil {
			m.s.rollback(t)
			panic(p)
		}
		if err != nil {
			m.s.rollback(t)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, t))
}

func (s *Store) rollback(t *txState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// write runs apply under the store lock and records its undo when ctx carries
// a transaction.
func (s *Store) write(ctx context.Context, apply func() (undo func(), err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	undo, err := apply()
	if err != nil {
		return err
	}
	if t := txFrom(ctx); t != nil && undo != nil {
		t.undo = append(t.undo, undo)
	}
	return nil
}

func (s *Store) rowChan(key string) chan struct{} {
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()
	ch, ok := s.rows[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rows[key] = ch
	}
	return ch
}

// lockRow blocks until the row is free and holds it until the transaction
// ends. Outside a transaction it is a no-op, like FOR UPDATE in autocommit.
func (s *Store) lockRow(ctx context.Context, key string) error {
	t := txFrom(ctx)
	if t == nil || t.keys[key] {
		return nil
	}
	select {
	case s.rowChan(key) <- struct{}{}:
		t.keys[key] = true
		t.held = append(t.held, key)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lock row %s: %w", key, ctx.Err())
	}
}

// tryLockRow is lockRow with SKIP LOCKED semantics.
func (s *Store) tryLockRow(ctx context.Context, key string) bool {
	t := txFrom(ctx)
	if t == nil || t.keys[key] {
		return true
	}
	select {
	case s.rowChan(key) <- struct{}{}:
		t.keys[key] = true
		t.held = append(t.held, key)
		return true
	default:
		return false
	}
}

func (s *Store) releaseRows(t *txState) {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-s.rowChan(t.held[i])
	}
	t.held = nil
}

func rowKey(table string, rowID id.ID) string {
	return table + ":" + rowID.String()
}
