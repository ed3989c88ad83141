package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendchain/internal/core/id"
	"spendchain/internal/domain/notification"
	"spendchain/internal/infrastructure/storage/memory"
	"spendchain/pkg/logger"
)

func pending(n int) []notification.Notification {
	now := time.Now().UTC()
	out := make([]notification.Notification, n)
	for i := range out {
		out[i] = notification.Notification{
			ID:            id.New(),
			Recipient:     "cb",
			Kind:          notification.KindValidationRequested,
			EntityType:    "engagement",
			EntityID:      id.New(),
			Payload:       []byte(`{}`),
			Status:        notification.StatusPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		}
	}
	return out
}

func TestAsyncQueue_PersistsBatches(t *testing.T) {
	store := memory.New()
	q := notification.NewAsyncQueue(store.Outbox(), notification.QueueConfig{BufferSize: 8, Workers: 2}, logger.Nop())
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), pending(2)))
	}
	require.NoError(t, q.Stop(context.Background()))

	assert.Len(t, store.Outbox().All(), 10)
}

func TestAsyncQueue_FullAndClosed(t *testing.T) {
	store := memory.New()
	q := notification.NewAsyncQueue(store.Outbox(), notification.QueueConfig{BufferSize: 1}, logger.Nop())

	// Not started: the single buffer slot stays occupied.
	require.NoError(t, q.Enqueue(context.Background(), pending(1)))
	assert.ErrorIs(t, q.Enqueue(context.Background(), pending(1)), notification.ErrQueueFull)
	assert.NoError(t, q.Enqueue(context.Background(), nil), "empty batch is a no-op")

	q.Start(context.Background())
	require.NoError(t, q.Stop(context.Background()))
	assert.ErrorIs(t, q.Enqueue(context.Background(), pending(1)), notification.ErrQueueClosed)
	assert.NoError(t, q.Stop(context.Background()), "second stop")
	assert.Len(t, store.Outbox().All(), 1)
}

// flakyStore fails the first failures inserts.
type flakyStore struct {
	notification.Store
	mu       sync.Mutex
	failures int
	calls    int
	inserted int
}

func (s *flakyStore) Insert(_ context.Context, items []notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection reset")
	}
	s.inserted += len(items)
	return nil
}

func TestAsyncQueue_RetriesInsert(t *testing.T) {
	store := &flakyStore{failures: 1}
	q := notification.NewAsyncQueue(store, notification.QueueConfig{BufferSize: 4, Workers: 1, Retries: 2}, logger.Nop())
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), pending(3)))
	require.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 3, store.inserted)
}

func TestAsyncQueue_DropsAfterRetries(t *testing.T) {
	store := &flakyStore{failures: 10}
	q := notification.NewAsyncQueue(store, notification.QueueConfig{BufferSize: 4, Workers: 1, Retries: 1}, logger.Nop())
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), pending(1)))
	require.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, 2, store.calls)
	assert.Zero(t, store.inserted)
}
