// Package pipeline drives an order through routing, building, submission
// and confirmation, notifying the order's observer after every transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/souravmenon1999/dex-order-engine/internal/config"
	"github.com/souravmenon1999/dex-order-engine/internal/execution"
	"github.com/souravmenon1999/dex-order-engine/internal/logging"
	"github.com/souravmenon1999/dex-order-engine/internal/metrics"
	"github.com/souravmenon1999/dex-order-engine/internal/registry"
	"github.com/souravmenon1999/dex-order-engine/internal/router"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

// Notifier delivers status events best-effort. *registry.Registry
// implements it.
type Notifier interface {
	Notify(orderID string, event types.StatusEvent) registry.Outcome
}

// Timeouts bounds each external call. A zero value disables that bound.
type Timeouts struct {
	Routing time.Duration
	Build   time.Duration
	Submit  time.Duration
}

// TimeoutsFrom reads the stage budgets from the pipeline config.
func TimeoutsFrom(cfg config.PipelineConfig) Timeouts {
	return Timeouts{
		Routing: cfg.RoutingTimeout,
		Build:   cfg.BuildTimeout,
		Submit:  cfg.SubmitTimeout,
	}
}

// Pipeline is stateless across orders; one instance serves all of them.
type Pipeline struct {
	selector router.RouteSelector
	executor execution.Executor
	notifier Notifier
	timeouts Timeouts
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// New wires a pipeline. m may be nil.
func New(selector router.RouteSelector, executor execution.Executor, notifier Notifier, timeouts Timeouts, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		selector: selector,
		executor: executor,
		notifier: notifier,
		timeouts: timeouts,
		logger:   logging.Component("pipeline"),
		metrics:  m,
	}
}

// Run takes order from pending to a terminal stage. The returned error is
// the reason the order failed, or nil once it is confirmed; it is meant
// for the owning pool, the observer learns it from the failed event.
func (p *Pipeline) Run(ctx context.Context, order *types.Order) (err error) {
	logger := p.logger.With().Str("orderId", order.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.ErrUnknown, "transaction failed", fmt.Errorf("pipeline panicked: %v", r))
		}
		if err != nil {
			p.fail(logger, order, err)
		}
	}()

	// pending -> routing happens unconditionally: the pipeline has been
	// scheduled, so the observer always sees routing first.
	if err := p.transition(order, types.RoutingEvent(order.ID)); err != nil {
		return err
	}
	route, err := p.selectRoute(ctx, order)
	if err != nil {
		return err
	}

	if err := p.checkpoint(ctx, order, types.BuildingEvent(order.ID, route)); err != nil {
		return err
	}
	tx, err := p.build(ctx, order, route)
	if err != nil {
		return err
	}

	if err := p.checkpoint(ctx, order, types.SubmittedEvent(order.ID)); err != nil {
		return err
	}
	receipt, err := p.submit(ctx, tx)
	if err != nil {
		return err
	}

	if err := p.checkpoint(ctx, order, types.ConfirmedEvent(order.ID, receipt)); err != nil {
		return err
	}
	logger.Info().
		Str("venue", route.Venue).
		Str("finalPrice", receipt.FinalPrice.StringFixed(types.PriceDecimals)).
		Str("txRef", receipt.TxRef).
		Dur("elapsed", time.Since(order.CreatedAt)).
		Msg("order confirmed")
	return nil
}

// checkpoint is a stage boundary: a cancelled pipeline stops here instead
// of entering the next stage.
func (p *Pipeline) checkpoint(ctx context.Context, order *types.Order, event types.StatusEvent) error {
	if err := ctx.Err(); err != nil {
		return types.NewError(types.ErrCancelled, "order cancelled", err)
	}
	return p.transition(order, event)
}

// transition advances order to event.Stage and then emits event, exactly once.
func (p *Pipeline) transition(order *types.Order, event types.StatusEvent) error {
	if err := order.Advance(event.Stage); err != nil {
		return err
	}
	p.metrics.RecordTransition(event.Stage.String())
	p.notifier.Notify(order.ID, event)
	p.logger.Debug().Str("orderId", order.ID).Stringer("stage", event.Stage).Msg("stage entered")
	return nil
}

func (p *Pipeline) fail(logger zerolog.Logger, order *types.Order, cause error) {
	from, moved := order.Fail()
	if !moved {
		logger.Error().Err(cause).Stringer("stage", from).Msg("error after terminal stage")
		return
	}
	p.metrics.RecordTransition(types.StageFailed.String())
	p.notifier.Notify(order.ID, types.FailedEvent(order.ID, cause))
	logger.Warn().Err(cause).Stringer("from", from).Msg("order failed")
}

func (p *Pipeline) selectRoute(ctx context.Context, order *types.Order) (types.RouteDecision, error) {
	if err := ctx.Err(); err != nil {
		return types.RouteDecision{}, types.NewError(types.ErrCancelled, "order cancelled", err)
	}
	sctx, cancel := withBudget(ctx, p.timeouts.Routing)
	defer cancel()

	route, err := p.selector.SelectRoute(sctx, order.Amount)
	if err != nil {
		var te types.TradingError
		switch {
		case ctx.Err() != nil:
			return types.RouteDecision{}, types.NewError(types.ErrCancelled, "order cancelled", err)
		case errors.Is(sctx.Err(), context.DeadlineExceeded):
			return types.RouteDecision{}, types.NewError(types.ErrStageTimeout, "route selection timed out", err)
		case errors.As(err, &te):
			return types.RouteDecision{}, err
		default:
			return types.RouteDecision{}, types.NewError(types.ErrRouteSelection, "no route available", err)
		}
	}
	return route, nil
}

func (p *Pipeline) build(ctx context.Context, order *types.Order, route types.RouteDecision) (*types.Transaction, error) {
	bctx, cancel := withBudget(ctx, p.timeouts.Build)
	defer cancel()

	tx, err := p.executor.Build(bctx, order, route)
	if err != nil {
		return nil, stageError(ctx, err, types.ErrBuildFailed, "transaction build failed", "transaction build timed out")
	}
	return tx, nil
}

// submit dispatches tx and waits for its acknowledgement under one budget.
func (p *Pipeline) submit(ctx context.Context, tx *types.Transaction) (types.Receipt, error) {
	sctx, cancel := withBudget(ctx, p.timeouts.Submit)
	defer cancel()

	if err := p.executor.Submit(sctx, tx); err != nil {
		return types.Receipt{}, stageError(ctx, err, types.ErrSubmitFailed, "transaction submission failed", "transaction submission timed out")
	}
	receipt, err := p.executor.Confirm(sctx, tx)
	if err != nil {
		return types.Receipt{}, stageError(ctx, err, types.ErrSubmitFailed, "transaction confirmation failed", "transaction confirmation timed out")
	}
	return receipt, nil
}

// stageError classifies err from a stage call running under a budget
// derived from parent.
func stageError(parent context.Context, err error, code types.ErrorCode, failedMsg, timeoutMsg string) error {
	var te types.TradingError
	switch {
	case parent.Err() != nil:
		return types.NewError(types.ErrCancelled, "order cancelled", err)
	case errors.As(err, &te):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrStageTimeout, timeoutMsg, err)
	default:
		return types.NewError(code, failedMsg, err)
	}
}

func withBudget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
