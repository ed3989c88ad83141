package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"

	"spendchain/pkg/logger"
)

var (
	// ErrQueueFull is returned when the buffer cannot take another batch.
	ErrQueueFull = errors.New("notification queue is full")
	// ErrQueueClosed is returned after Stop.
	ErrQueueClosed = errors.New("notification queue is closed")
)

// AsyncQueue persists notification batches to the outbox on background
// workers, so a slow outbox never adds latency to a committed transition.
// Enqueue never blocks: a full buffer is reported as ErrQueueFull.
type AsyncQueue struct {
	batches chan []Notification
	store   Store
	workers int
	retries int
	timeout time.Duration
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// QueueConfig configures an AsyncQueue.
type QueueConfig struct {
	BufferSize int
	Workers    int
	// Retries is the number of extra insert attempts per batch.
	Retries int
	// InsertTimeout bounds one insert attempt.
	InsertTimeout time.Duration
}

// DefaultQueueConfig returns sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		BufferSize:    256,
		Workers:       4,
		Retries:       3,
		InsertTimeout: 5 * time.Second,
	}
}

// NewAsyncQueue creates a queue writing to store. Call Start before use.
func NewAsyncQueue(store Store, cfg QueueConfig, log *logger.Logger) *AsyncQueue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = 5 * time.Second
	}
	return &AsyncQueue{
		batches: make(chan []Notification, cfg.BufferSize),
		store:   store,
		workers: cfg.Workers,
		retries: cfg.Retries,
		timeout: cfg.InsertTimeout,
		log:     log.WithComponent("notification-queue"),
	}
}

// Enqueue hands items to the background workers.
func (q *AsyncQueue) Enqueue(_ context.Context, items []Notification) error {
	if len(items) == 0 {
		return nil
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.batches <- items:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the workers. They run until Stop; ctx carries the logger and
// is the parent of every insert.
func (q *AsyncQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *AsyncQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for batch := range q.batches {
		q.persist(ctx, batch)
	}
}

func (q *AsyncQueue) persist(ctx context.Context, batch []Notification) {
	var err error
	for attempt := 0; attempt <= q.retries; attempt++ {
		if attempt > 0 {
			_ = backoff.WaitContext(ctx, backoff.ExponentialWithJitter(100*time.Millisecond, attempt))
		}
		insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
		err = q.store.Insert(insertCtx, batch)
		cancel()
		if err == nil {
			return
		}
	}
	q.log.Errorw("notification batch dropped",
		"count", len(batch),
		"entity_type", batch[0].EntityType,
		"entity_id", batch[0].EntityID,
		"error", err,
	)
}

// Stop rejects new batches and waits for queued ones to be written.
func (q *AsyncQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.batches)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
