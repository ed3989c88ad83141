package numerator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

// mockQuerier simulates sys_sequences: the strict path passes only the key,
// the cached path passes the key and the range size.
type mockQuerier struct {
	mu     sync.Mutex
	values map[string]int64
	calls  int
	err    error
}

func newMockQuerier() *mockQuerier {
	return &mockQuerier{values: make(map[string]int64)}
}

func (m *mockQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return &mockRow{err: m.err}
	}

	key := args[0].(string)
	increment := int64(1)
	if len(args) == 2 {
		increment = args[1].(int64)
	}
	m.values[key] += increment
	return &mockRow{val: m.values[key]}
}

func TestNext_Strict(t *testing.T) {
	q := newMockQuerier()
	svc := New(q)
	ctx := context.Background()

	num, err := svc.Next(ctx, "ENG", 2025)
	require.NoError(t, err)
	assert.Equal(t, "ENG-2025-00001", num)

	num, err = svc.Next(ctx, "ENG", 2025)
	require.NoError(t, err)
	assert.Equal(t, "ENG-2025-00002", num)

	// Sequences restart per exercice.
	num, err = svc.Next(ctx, "ENG", 2026)
	require.NoError(t, err)
	assert.Equal(t, "ENG-2026-00001", num)
	assert.Equal(t, 3, q.calls)
}

func TestNext_Cached(t *testing.T) {
	q := newMockQuerier()
	svc := New(q, WithCachedRanges(10))
	ctx := context.Background()

	num, err := svc.Next(ctx, "ORD", 2025)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2025-00001", num)
	assert.Equal(t, int64(10), q.values["ORD_2025"])

	for i := 0; i < 9; i++ {
		_, err = svc.Next(ctx, "ORD", 2025)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, q.calls, "range served from memory")

	num, err = svc.Next(ctx, "ORD", 2025)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2025-00011", num)
	assert.Equal(t, int64(20), q.values["ORD_2025"])
	assert.Equal(t, 2, q.calls)
}

func TestNext_Errors(t *testing.T) {
	q := newMockQuerier()
	q.err = errors.New("connection refused")
	svc := New(q)

	_, err := svc.Next(context.Background(), "REG", 2025)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REG_2025")

	_, err = svc.Next(context.Background(), "", 2025)
	require.Error(t, err)

	var nilSvc *Service
	_, err = nilSvc.Next(context.Background(), "REG", 2025)
	require.Error(t, err)
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"ENG-2025-00042", 42},
		{"VIR-2025-1", 1},
		{"garbage", -1},
		{"ENG-2025-", -1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := m.Next(ctx, "LIQ", 2025)
			assert.NoError(t, err)
			_, dup := seen.LoadOrStore(num, struct{}{})
			assert.False(t, dup, "duplicate number %s", num)
		}()
	}
	wg.Wait()

	num, err := m.Next(ctx, "LIQ", 2025)
	require.NoError(t, err)
	assert.Equal(t, "LIQ-2025-00051", num)
}
