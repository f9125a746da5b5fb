package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/souravmenon1999/dex-order-engine/internal/metrics"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
	"github.com/souravmenon1999/dex-order-engine/internal/worker"
)

type recordingRunner struct {
	mu     sync.Mutex
	orders []*types.Order
	gate   chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, order *types.Order) error {
	r.mu.Lock()
	r.orders = append(r.orders, order)
	r.mu.Unlock()
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func TestExecuteAccepts(t *testing.T) {
	defer leaktest.Check(t)()

	runner := &recordingRunner{}
	pool := worker.NewPool(context.Background(), 8, nil)
	e := New(runner, pool, nil)

	acc, err := e.Execute(context.Background(), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, acc.Status)
	assert.Equal(t, AcceptedMessage, acc.Message)
	_, err = uuid.Parse(acc.OrderID)
	assert.NoError(t, err)

	require.NoError(t, pool.Shutdown(context.Background()))
	require.Equal(t, 1, runner.count())
	assert.Equal(t, acc.OrderID, runner.orders[0].ID)
	assert.True(t, runner.orders[0].Amount.Equal(decimal.NewFromInt(10)))
}

func TestExecuteRejectsMalformedAmounts(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	runner := &recordingRunner{}
	pool := worker.NewPool(context.Background(), 8, nil)
	defer pool.Shutdown(context.Background())
	e := New(runner, pool, m, WithMaxAmount(decimal.NewFromInt(1000)))

	for _, amount := range []string{"0", "-5", "1000.01"} {
		_, err := e.Execute(context.Background(), decimal.RequireFromString(amount))
		require.Error(t, err, amount)
		assert.Equal(t, types.ErrMalformedRequest, types.CodeOf(err), amount)
	}
	assert.Zero(t, runner.count())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("malformed")))

	_, err := e.Execute(context.Background(), decimal.NewFromInt(1000))
	assert.NoError(t, err)
}

func TestExecuteRejectsWhenFull(t *testing.T) {
	defer leaktest.Check(t)()

	m := metrics.New(prometheus.NewRegistry())
	runner := &recordingRunner{gate: make(chan struct{})}
	pool := worker.NewPool(context.Background(), 1, nil)
	e := New(runner, pool, m)

	_, err := e.Execute(context.Background(), decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Equal(t, types.ErrCapacityExceeded, types.CodeOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersAccepted))

	close(runner.gate)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestExecuteUsesInjectedIDs(t *testing.T) {
	pool := worker.NewPool(context.Background(), 1, nil)
	defer pool.Shutdown(context.Background())
	e := New(&recordingRunner{}, pool, nil, WithIDGenerator(func() string { return "fixed" }))

	acc, err := e.Execute(context.Background(), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "fixed", acc.OrderID)
}

// Identical amounts still get distinct ids.
func TestExecuteIDsAreUnique(t *testing.T) {
	pool := worker.NewPool(context.Background(), 1<<16, nil)
	defer pool.Shutdown(context.Background())
	e := New(&recordingRunner{}, pool, nil)

	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(1, 1_000_000).Draw(t, "cents")
		n := rapid.IntRange(2, 20).Draw(t, "n")
		amount := decimal.New(cents, -2)

		seen := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			acc, err := e.Execute(context.Background(), amount)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if _, dup := seen[acc.OrderID]; dup {
				t.Fatalf("duplicate id %s", acc.OrderID)
			}
			seen[acc.OrderID] = struct{}{}
		}
	})
}
