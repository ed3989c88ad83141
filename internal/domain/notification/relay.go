package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"spendchain/internal/core/tx"
	"spendchain/pkg/logger"
)

// RelayConfig configures outbox delivery.
type RelayConfig struct {
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Interval    time.Duration

	// Circuit breaker around the sink.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultRelayConfig returns sensible defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:       100,
		MaxAttempts:     6,
		BaseDelay:       30 * time.Second,
		MaxDelay:        30 * time.Minute,
		Interval:        2 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Relay delivers due outbox rows to a Sink. Several relays may run against the
// same outbox; claimed rows are skipped by the others.
type Relay struct {
	store   Store
	txm     tx.Manager
	sink    Sink
	breaker *gobreaker.CircuitBreaker
	cfg     RelayConfig
	now     func() time.Time
	log     *logger.Logger
}

// NewRelay creates a relay.
func NewRelay(store Store, txm tx.Manager, sink Sink, cfg RelayConfig, log *logger.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	r := &Relay{
		store: store,
		txm:   txm,
		sink:  sink,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.WithComponent("notification-relay"),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-sink",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warnw("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

// Run processes batches every Interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.ProcessBatch(ctx)
			if err != nil {
				r.log.Errorw("notification relay batch failed", "error", err)
				continue
			}
			if n > 0 {
				r.log.Debugw("notification relay batch", "delivered", n)
			}
		}
	}
}

// ProcessBatch delivers one batch of due notifications and returns the number delivered.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	delivered := 0
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		now := r.now()
		due, err := r.store.ClaimDue(ctx, now, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("claim notifications: %w", err)
		}
		for _, n := range due {
			ok, err := r.deliver(ctx, n, now)
			if err != nil {
				return err
			}
			if ok {
				delivered++
			}
		}
		return nil
	})
	return delivered, err
}

// deliver sends one notification and records the outcome.
// The returned error is a store failure; delivery failures are recorded.
func (r *Relay) deliver(ctx context.Context, n Notification, now time.Time) (bool, error) {
	_, sendErr := r.breaker.Execute(func() (any, error) {
		return nil, r.sink.Deliver(ctx, n)
	})
	if sendErr == nil {
		return true, r.store.MarkSent(ctx, n.ID, now)
	}

	if errors.Is(sendErr, gobreaker.ErrOpenState) || errors.Is(sendErr, gobreaker.ErrTooManyRequests) {
		// Sink is considered down: postpone without spending an attempt.
		return false, r.store.MarkRetry(ctx, n.ID, n.Attempts, now.Add(r.cfg.BreakerTimeout), sendErr.Error())
	}

	attempts := n.Attempts + 1
	if attempts >= r.cfg.MaxAttempts {
		r.log.Errorw("notification delivery abandoned",
			"notification_id", n.ID, "recipient", n.Recipient, "kind", n.Kind,
			"attempts", attempts, "error", sendErr)
		return false, r.store.MarkFailed(ctx, n.ID, attempts, sendErr.Error())
	}

	next := now.Add(RetryDelay(r.cfg.BaseDelay, r.cfg.MaxDelay, attempts))
	r.log.Warnw("notification delivery failed",
		"notification_id", n.ID, "recipient", n.Recipient, "attempts", attempts,
		"next_attempt_at", next, "error", sendErr)
	return false, r.store.MarkRetry(ctx, n.ID, attempts, next, sendErr.Error())
}

// LogSink records deliveries in the log. Real channels (email, in-app) plug in
// behind the Sink interface.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("notification-sink")}
}

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	s.log.Infow("notification delivered",
		"notification_id", n.ID,
		"recipient", n.Recipient,
		"kind", n.Kind,
		"entity_type", n.EntityType,
		"entity_id", n.EntityID,
	)
	return nil
}
