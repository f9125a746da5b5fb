// Package execution builds, submits and confirms venue transactions.
package execution

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/souravmenon1999/dex-order-engine/internal/config"
	"github.com/souravmenon1999/dex-order-engine/internal/logging"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

// TxRefPrefix prefixes every transaction reference minted by Simulated.
const TxRefPrefix = "sol_"

// Executor turns a routed order into a confirmed transaction.
type Executor interface {
	Build(ctx context.Context, order *types.Order, route types.RouteDecision) (*types.Transaction, error)
	Submit(ctx context.Context, tx *types.Transaction) error
	Confirm(ctx context.Context, tx *types.Transaction) (types.Receipt, error)
}

// Simulated stands in for a real venue: it only waits. Nothing it does
// has an external side effect, so failures need no compensation.
type Simulated struct {
	buildDelay  time.Duration
	submitDelay time.Duration
	failureRate float64
	rnd         func() float64
	logger      zerolog.Logger
}

// NewSimulated creates an executor from the execution config.
func NewSimulated(cfg config.ExecutionConfig) *Simulated {
	return &Simulated{
		buildDelay:  cfg.BuildDelay,
		submitDelay: cfg.SubmitDelay,
		failureRate: cfg.FailureRate,
		rnd:         rand.Float64,
		logger:      logging.Component("execution"),
	}
}

func (s *Simulated) Build(ctx context.Context, order *types.Order, route types.RouteDecision) (*types.Transaction, error) {
	if err := sleep(ctx, s.buildDelay); err != nil {
		return nil, err
	}
	return &types.Transaction{
		OrderID: order.ID,
		Venue:   route.Venue,
		Amount:  order.Amount,
		Price:   route.Price,
		BuiltAt: time.Now(),
	}, nil
}

func (s *Simulated) Submit(ctx context.Context, tx *types.Transaction) error {
	if err := sleep(ctx, s.submitDelay); err != nil {
		return err
	}
	if s.failureRate > 0 && s.rnd() < s.failureRate {
		s.logger.Warn().Str("orderId", tx.OrderID).Str("venue", tx.Venue).Msg("simulated submit failure")
		return types.NewError(types.ErrSubmitFailed, "transaction failed", nil)
	}
	return nil
}

// Confirm mints the transaction reference. The final price is the price
// the route was chosen at.
func (s *Simulated) Confirm(ctx context.Context, tx *types.Transaction) (types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return types.Receipt{}, err
	}
	return types.Receipt{
		TxRef:      NewTxRef(),
		FinalPrice: tx.Price,
	}, nil
}

// NewTxRef returns a fresh transaction reference.
func NewTxRef() string {
	return TxRefPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
