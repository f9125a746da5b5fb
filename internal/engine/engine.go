// Package engine is the order intake: it validates a request, assigns the
// order its identity and hands the pipeline to the worker pool without
// waiting for it.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/souravmenon1999/dex-order-engine/internal/logging"
	"github.com/souravmenon1999/dex-order-engine/internal/metrics"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
	"github.com/souravmenon1999/dex-order-engine/internal/worker"
)

// AcceptedMessage tells the caller where progress is reported.
const AcceptedMessage = "Connect to WebSocket for updates"

// Runner drives one order to a terminal stage. *pipeline.Pipeline
// implements it.
type Runner interface {
	Run(ctx context.Context, order *types.Order) error
}

// Engine accepts orders.
type Engine struct {
	runner    Runner
	pool      *worker.Pool
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	newID     func() string
	maxAmount decimal.Decimal
}

type Option func(*Engine)

// WithMaxAmount rejects amounts above limit. Zero means no upper bound.
func WithMaxAmount(limit decimal.Decimal) Option {
	return func(e *Engine) { e.maxAmount = limit }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func New(runner Runner, pool *worker.Pool, m *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		runner:  runner,
		pool:    pool,
		metrics: m,
		logger:  logging.Component("engine"),
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute accepts an order for amount and returns as soon as its pipeline
// is scheduled. Errors are synchronous rejections: ErrMalformedRequest for
// a bad amount, ErrCapacityExceeded when the pool is full or closed. No id
// is assigned to a rejected request. Failures inside the pipeline are
// reported only to the order's observer.
func (e *Engine) Execute(ctx context.Context, amount decimal.Decimal) (types.Acceptance, error) {
	if err := ctx.Err(); err != nil {
		e.metrics.RecordRejected("cancelled")
		return types.Acceptance{}, types.NewError(types.ErrCancelled, "request cancelled", err)
	}
	if err := e.validate(amount); err != nil {
		e.metrics.RecordRejected("malformed")
		return types.Acceptance{}, err
	}

	order := types.NewOrder(e.newID(), amount)
	err := e.pool.TryGo(order.ID, func(ctx context.Context) error {
		return e.runner.Run(ctx, order)
	})
	if err != nil {
		e.metrics.RecordRejected("capacity")
		e.logger.Warn().Err(err).Str("amount", amount.String()).Msg("order rejected")
		return types.Acceptance{}, err
	}

	e.metrics.RecordAccepted()
	e.logger.Info().Str("orderId", order.ID).Str("amount", amount.String()).Msg("order accepted")
	return types.Acceptance{
		OrderID: order.ID,
		Status:  types.StatusAccepted,
		Message: AcceptedMessage,
	}, nil
}

func (e *Engine) validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return types.NewError(types.ErrMalformedRequest, "amount must be a positive number", types.ErrBaseInvalidInput)
	}
	if e.maxAmount.IsPositive() && amount.GreaterThan(e.maxAmount) {
		return types.NewError(types.ErrMalformedRequest,
			fmt.Sprintf("amount must not exceed %s", e.maxAmount), types.ErrBaseInvalidInput)
	}
	return nil
}

// InFlight returns the number of pipelines currently running.
func (e *Engine) InFlight() int64 {
	return e.pool.InFlight()
}
