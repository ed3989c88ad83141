// Package numerator issues sequential references for spending records and
// credit transfers. Pattern: PREFIX-EXERCICE-00001, restarting each exercice.
package numerator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Strategy defines the numbering generation strategy.
type Strategy int

const (
	// StrategyStrict uses UPSERT ... RETURNING for every number.
	// Guarantees sequential numbers without gaps. Required for financial records.
	StrategyStrict Strategy = iota

	// StrategyCached allocates ranges of numbers in memory.
	// May produce gaps if the process restarts.
	StrategyCached
)

// Querier is the subset of pgx used by the service.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFunc resolves the querier for a call, typically the transaction
// carried by ctx.
type QuerierFunc func(ctx context.Context) Querier

type cachedRange struct {
	current int64
	max     int64
}

// Service provides sequential numbering backed by the sys_sequences table.
type Service struct {
	querier   QuerierFunc
	strategy  Strategy
	rangeSize int64
	padWidth  int

	cacheMu sync.Mutex
	ranges  map[string]*cachedRange
}

// Option configures the Service.
type Option func(*Service)

// WithCachedRanges switches to the cached strategy reserving size numbers at once.
func WithCachedRanges(size int64) Option {
	return func(s *Service) {
		s.strategy = StrategyCached
		s.rangeSize = size
	}
}

// WithPadWidth sets the minimum width of the numeric part (default 5).
func WithPadWidth(width int) Option {
	return func(s *Service) { s.padWidth = width }
}

// New creates a numerator with a static querier.
func New(querier Querier, opts ...Option) *Service {
	return NewWithResolver(func(context.Context) Querier { return querier }, opts...)
}

// NewWithResolver creates a numerator that resolves its querier per call.
func NewWithResolver(resolve QuerierFunc, opts ...Option) *Service {
	s := &Service{
		querier:   resolve,
		strategy:  StrategyStrict,
		rangeSize: 50,
		padWidth:  5,
		ranges:    make(map[string]*cachedRange),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next reference for prefix within the exercice.
func (s *Service) Next(ctx context.Context, prefix string, exercice int) (string, error) {
	if s == nil {
		return "", fmt.Errorf("numerator service is not initialized")
	}
	if prefix == "" {
		return "", fmt.Errorf("numerator prefix is empty")
	}

	key := buildKey(prefix, exercice)

	var (
		num int64
		err error
	)
	switch s.strategy {
	case StrategyCached:
		num, err = s.nextCached(ctx, key)
	default:
		num, err = s.nextStrict(ctx, key)
	}
	if err != nil {
		return "", err
	}

	return Format(prefix, exercice, num, s.padWidth), nil
}

func (s *Service) nextStrict(ctx context.Context, key string) (int64, error) {
	var num int64
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET current_val = sys_sequences.current_val + 1
		RETURNING current_val
	`, key).Scan(&num)
	if err != nil {
		return 0, fmt.Errorf("strict next %s: %w", key, err)
	}
	return num, nil
}

// nextCached serves numbers from memory, reserving a new range when exhausted.
// current_val in sys_sequences always holds the last number handed out.
func (s *Service) nextCached(ctx context.Context, key string) (int64, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	rng, ok := s.ranges[key]
	if !ok {
		rng = &cachedRange{}
		s.ranges[key] = rng
	}

	if rng.current >= rng.max {
		var newMax int64
		err := s.querier(ctx).QueryRow(ctx, `
			INSERT INTO sys_sequences (key, current_val)
			VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET current_val = sys_sequences.current_val + $2
			RETURNING current_val
		`, key, s.rangeSize).Scan(&newMax)
		if err != nil {
			return 0, fmt.Errorf("reserve range %s: %w", key, err)
		}
		rng.current = newMax - s.rangeSize
		rng.max = newMax
	}

	rng.current++
	return rng.current, nil
}

// Reset sets the last issued number for prefix/exercice (data migration).
func (s *Service) Reset(ctx context.Context, prefix string, exercice int, value int64) error {
	key := buildKey(prefix, exercice)

	var result int64
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET current_val = $2
		RETURNING current_val
	`, key, value).Scan(&result)

	s.cacheMu.Lock()
	delete(s.ranges, key)
	s.cacheMu.Unlock()

	if err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

func buildKey(prefix string, exercice int) string {
	return fmt.Sprintf("%s_%d", prefix, exercice)
}

// Format renders a reference.
func Format(prefix string, exercice int, num int64, padWidth int) string {
	if padWidth <= 0 {
		padWidth = 5
	}
	return fmt.Sprintf("%s-%d-%0*d", prefix, exercice, padWidth, num)
}

// Parse extracts the numeric part of a reference. Returns -1 if parsing fails.
func Parse(formatted string) int64 {
	idx := strings.LastIndex(formatted, "-")
	if idx < 0 || idx == len(formatted)-1 {
		return -1
	}
	num, err := strconv.ParseInt(formatted[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return num
}

// Memory is an in-process numerator with the same output format.
type Memory struct {
	mu   sync.Mutex
	seqs map[string]int64
}

// NewMemory creates an in-process numerator.
func NewMemory() *Memory {
	return &Memory{seqs: make(map[string]int64)}
}

// Next returns the next reference for prefix within the exercice.
func (m *Memory) Next(_ context.Context, prefix string, exercice int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := buildKey(prefix, exercice)
	m.seqs[key]++
	return Format(prefix, exercice, m.seqs[key], 5), nil
}
