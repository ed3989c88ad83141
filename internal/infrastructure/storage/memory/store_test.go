package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/notification"
)

func newLine(code string, dotation int64) *ledger.BudgetLine {
	return &ledger.BudgetLine{ID: id.New(), Code: code, Label: code, Exercice: 2025, DotationInitiale: types.Amount(dotation)}
}

func TestTxManager_RollbackUndoesWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	line := newLine("60-01", 1000)
	require.NoError(t, s.Ledger().CreateLine(ctx, line))

	boom := errors.New("boom")
	err := s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Ledger().CreateLine(ctx, newLine("60-02", 10)))
		require.NoError(t, s.Ledger().UpdateCaches(ctx, line.ID, 5, 7))
		return boom
	})
	require.ErrorIs(t, err, boom)

	lines, err := s.Ledger().ListLines(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Nil(t, lines[0].DotationModifiee)
	assert.Zero(t, lines[0].TotalEngage)
}

func TestTxManager_NestedJoinsOuter(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
		inner := s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
			return s.Ledger().CreateLine(ctx, newLine("60-03", 1))
		})
		require.NoError(t, inner)
		return boom
	})
	require.ErrorIs(t, err, boom)

	lines, _ := s.Ledger().ListLines(ctx, 2025)
	assert.Empty(t, lines)
}

func TestLockLines_HeldUntilTxEnds(t *testing.T) {
	s := New()
	ctx := context.Background()
	line := newLine("61-01", 1)
	require.NoError(t, s.Ledger().CreateLine(ctx, line))

	var mu sync.Mutex
	var order []string
	locked := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_ = s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
			require.NoError(t, s.Ledger().LockLines(ctx, line.ID))
			close(locked)
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		<-locked
		_ = s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
			require.NoError(t, s.Ledger().LockLines(ctx, line.ID))
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()
	wg.Wait()

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestOutbox_ClaimDueSkipsLocked(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	items := make([]notification.Notification, 3)
	for i := range items {
		items[i] = notification.Notification{
			ID:            id.New(),
			Recipient:     "a@example.org",
			Kind:          notification.KindRejected,
			Status:        notification.StatusPending,
			NextAttemptAt: now.Add(-time.Minute),
		}
	}
	items[2].NextAttemptAt = now.Add(time.Hour)
	require.NoError(t, s.Outbox().Insert(ctx, items))

	hold := make(chan struct{})
	claimedFirst := make(chan []notification.Notification)
	go func() {
		_ = s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
			got, err := s.Outbox().ClaimDue(ctx, now, 1)
			require.NoError(t, err)
			claimedFirst <- got
			<-hold
			return nil
		})
	}()
	first := <-claimedFirst
	require.Len(t, first, 1)

	err := s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
		got, err := s.Outbox().ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.NotEqual(t, first[0].ID, got[0].ID)
		return nil
	})
	require.NoError(t, err)
	close(hold)
}
