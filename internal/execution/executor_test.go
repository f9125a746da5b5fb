package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souravmenon1999/dex-order-engine/internal/config"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

func TestSimulatedRoundTrip(t *testing.T) {
	ex := NewSimulated(config.ExecutionConfig{BuildDelay: 5 * time.Millisecond, SubmitDelay: 5 * time.Millisecond})
	order := types.NewOrder("o-1", decimal.NewFromInt(10))
	route := types.RouteDecision{Venue: "Raydium", Price: decimal.RequireFromString("100.731")}

	tx, err := ex.Build(context.Background(), order, route)
	require.NoError(t, err)
	assert.Equal(t, "o-1", tx.OrderID)
	assert.Equal(t, "Raydium", tx.Venue)

	require.NoError(t, ex.Submit(context.Background(), tx))

	receipt, err := ex.Confirm(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(receipt.TxRef, TxRefPrefix))
	assert.Len(t, receipt.TxRef, len(TxRefPrefix)+16)
	assert.True(t, receipt.FinalPrice.Equal(route.Price))
}

func TestSimulatedHonoursCancellation(t *testing.T) {
	ex := NewSimulated(config.ExecutionConfig{BuildDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ex.Build(ctx, types.NewOrder("o", decimal.NewFromInt(1)), types.RouteDecision{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatedFailureRate(t *testing.T) {
	ex := NewSimulated(config.ExecutionConfig{FailureRate: 0.5})
	ex.rnd = func() float64 { return 0.1 }

	err := ex.Submit(context.Background(), &types.Transaction{OrderID: "o"})
	require.Error(t, err)
	assert.Equal(t, types.ErrSubmitFailed, types.CodeOf(err))

	ex.rnd = func() float64 { return 0.9 }
	assert.NoError(t, ex.Submit(context.Background(), &types.Transaction{OrderID: "o"}))
}

func TestTxRefsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		ref := NewTxRef()
		_, dup := seen[ref]
		require.False(t, dup, ref)
		seen[ref] = struct{}{}
	}
}
