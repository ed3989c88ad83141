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

type fakeSink struct {
	mu        sync.Mutex
	delivered []id.ID
	err       error
}

func (s *fakeSink) Deliver(_ context.Context, n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, n.ID)
	return nil
}

func relayConfig() notification.RelayConfig {
	cfg := notification.DefaultRelayConfig()
	cfg.BaseDelay = time.Minute
	cfg.MaxDelay = time.Hour
	cfg.MaxAttempts = 3
	cfg.BreakerFailures = 100
	cfg.BreakerTimeout = time.Minute
	return cfg
}

func seedOutbox(t *testing.T, store *memory.Store, items []notification.Notification) {
	t.Helper()
	require.NoError(t, store.Outbox().Insert(context.Background(), items))
}

func byID(store *memory.Store) map[id.ID]notification.Notification {
	out := map[id.ID]notification.Notification{}
	for _, n := range store.Outbox().All() {
		out[n.ID] = n
	}
	return out
}

func TestRelay_DeliversDue(t *testing.T) {
	store := memory.New()
	items := pending(3)
	items[2].NextAttemptAt = time.Now().Add(time.Hour)
	seedOutbox(t, store, items)

	sink := &fakeSink{}
	r := notification.NewRelay(store.Outbox(), store.TxManager(), sink, relayConfig(), logger.Nop())

	n, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []id.ID{items[0].ID, items[1].ID}, sink.delivered)

	got := byID(store)
	assert.Equal(t, notification.StatusSent, got[items[0].ID].Status)
	assert.Equal(t, 1, got[items[0].ID].Attempts)
	assert.NotNil(t, got[items[0].ID].SentAt)
	assert.Equal(t, notification.StatusPending, got[items[2].ID].Status, "not yet due")

	n, err = r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "sent rows are not redelivered")
}

func TestRelay_RetriesWithBackoff(t *testing.T) {
	store := memory.New()
	items := pending(1)
	seedOutbox(t, store, items)

	sink := &fakeSink{err: errors.New("smtp 451")}
	r := notification.NewRelay(store.Outbox(), store.TxManager(), sink, relayConfig(), logger.Nop())

	before := time.Now().UTC()
	n, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	got := byID(store)[items[0].ID]
	assert.Equal(t, notification.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "smtp 451", *got.LastError)
	// attempt 1: base 1m doubled, at least half of it fixed.
	assert.True(t, got.NextAttemptAt.After(before.Add(59*time.Second)), "next attempt %s", got.NextAttemptAt)
}

func TestRelay_AbandonsAfterMaxAttempts(t *testing.T) {
	store := memory.New()
	items := pending(1)
	items[0].Attempts = 2
	seedOutbox(t, store, items)

	r := notification.NewRelay(store.Outbox(), store.TxManager(), &fakeSink{err: errors.New("bounced")}, relayConfig(), logger.Nop())
	_, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)

	got := byID(store)[items[0].ID]
	assert.Equal(t, notification.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
}

func TestRelay_OpenBreakerPostponesWithoutSpendingAttempts(t *testing.T) {
	store := memory.New()
	items := pending(4)
	seedOutbox(t, store, items)

	cfg := relayConfig()
	cfg.BreakerFailures = 2
	r := notification.NewRelay(store.Outbox(), store.TxManager(), &fakeSink{err: errors.New("down")}, cfg, logger.Nop())

	_, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)

	var attempted, postponed int
	for _, n := range store.Outbox().All() {
		assert.Equal(t, notification.StatusPending, n.Status)
		switch n.Attempts {
		case 1:
			attempted++
		case 0:
			postponed++
			require.NotNil(t, n.LastError)
			assert.Contains(t, *n.LastError, "circuit breaker is open")
		}
	}
	assert.Equal(t, 2, attempted)
	assert.Equal(t, 2, postponed)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := memory.New()
	items := pending(1)
	seedOutbox(t, store, items)

	sink := &fakeSink{}
	cfg := relayConfig()
	cfg.Interval = 10 * time.Millisecond
	r := notification.NewRelay(store.Outbox(), store.TxManager(), sink, cfg, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return byID(store)[items[0].ID].Status == notification.StatusSent
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		min, max time.Duration
	}{
		{"FirstRetry", 0, 500 * time.Millisecond, time.Second},
		{"Grows", 3, 4 * time.Second, 8 * time.Second},
		{"Capped", 10, 5 * time.Second, 10 * time.Second},
		{"NoOverflow", 1000, 5 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				d := notification.RetryDelay(time.Second, 10*time.Second, tt.attempts)
				assert.GreaterOrEqual(t, d, tt.min)
				assert.Less(t, d, tt.max)
			}
		})
	}
	assert.Zero(t, notification.RetryDelay(0, time.Minute, 3))
}
