package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/souravmenon1999/dex-order-engine/internal/registry"
	"github.com/souravmenon1999/dex-order-engine/internal/registry/registrytest"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

type stubSelector struct {
	route types.RouteDecision
	err   error
	block bool // wait for the routing budget to run out
}

func (s stubSelector) SelectRoute(ctx context.Context, _ decimal.Decimal) (types.RouteDecision, error) {
	if s.block {
		<-ctx.Done()
		return types.RouteDecision{}, types.NewError(types.ErrRouteSelection, "route selection timed out", ctx.Err())
	}
	if err := ctx.Err(); err != nil {
		return types.RouteDecision{}, err
	}
	return s.route, s.err
}

type stubExecutor struct {
	buildErr  error
	submitErr error
	buildGate  chan struct{} // Build waits for it when set
	entered    chan struct{} // closed when Build starts, when set
	buildPanic any
}

func (e *stubExecutor) Build(ctx context.Context, order *types.Order, route types.RouteDecision) (*types.Transaction, error) {
	if e.entered != nil {
		close(e.entered)
	}
	if e.buildPanic != nil {
		panic(e.buildPanic)
	}
	if e.buildGate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.buildGate:
		}
	}
	if e.buildErr != nil {
		return nil, e.buildErr
	}
	return &types.Transaction{OrderID: order.ID, Venue: route.Venue, Price: route.Price}, nil
}

func (e *stubExecutor) Submit(context.Context, *types.Transaction) error { return e.submitErr }

func (e *stubExecutor) Confirm(_ context.Context, tx *types.Transaction) (types.Receipt, error) {
	return types.Receipt{TxRef: "sol_test", FinalPrice: tx.Price}, nil
}

var testRoute = types.RouteDecision{Venue: "Meteora", Price: decimal.RequireFromString("101.4567")}

func newTestPipeline(sel stubSelector, ex *stubExecutor, timeouts Timeouts) (*Pipeline, *registry.Registry) {
	reg := registry.New(nil)
	return New(sel, ex, reg, timeouts, nil), reg
}

func TestRunSuccessPath(t *testing.T) {
	p, reg := newTestPipeline(stubSelector{route: testRoute}, &stubExecutor{}, Timeouts{})
	order := types.NewOrder("order-1", decimal.NewFromInt(10))
	sink := registrytest.NewRecorder()
	reg.Attach(order.ID, sink)

	require.NoError(t, p.Run(context.Background(), order))
	assert.Equal(t, types.StageConfirmed, order.Stage())

	events := sink.Events()
	require.Equal(t, []types.Stage{
		types.StageRouting, types.StageBuilding, types.StageSubmitted, types.StageConfirmed,
	}, sink.Stages())

	building, confirmed := events[1], events[3]
	assert.Equal(t, "Meteora", building.Venue)
	assert.True(t, building.Price.IsPositive())
	assert.Equal(t, "sol_test", confirmed.TxRef)
	assert.Equal(t,
		building.Price.StringFixed(types.PriceDecimals),
		confirmed.FinalPrice.StringFixed(types.PriceDecimals))
	for _, e := range events {
		assert.Equal(t, order.ID, e.OrderID)
	}
}

func TestRunRouteSelectionFailure(t *testing.T) {
	sel := stubSelector{err: types.NewError(types.ErrRouteSelection, "no route available", types.ErrBaseNoQuotes)}
	p, reg := newTestPipeline(sel, &stubExecutor{}, Timeouts{})
	order := types.NewOrder("order-2", decimal.NewFromInt(10))
	sink := registrytest.NewRecorder()
	reg.Attach(order.ID, sink)

	err := p.Run(context.Background(), order)
	require.Error(t, err)
	assert.Equal(t, types.ErrRouteSelection, types.CodeOf(err))
	assert.Equal(t, types.StageFailed, order.Stage())

	require.Equal(t, []types.Stage{types.StageRouting, types.StageFailed}, sink.Stages())
	assert.Equal(t, "no route available", sink.Events()[1].Error)
}

func TestRunSelectorPlainErrorIsWrapped(t *testing.T) {
	p, _ := newTestPipeline(stubSelector{err: errors.New("socket closed")}, &stubExecutor{}, Timeouts{})
	err := p.Run(context.Background(), types.NewOrder("order-3", decimal.NewFromInt(1)))
	assert.Equal(t, types.ErrRouteSelection, types.CodeOf(err))
}

func TestRunExecutorFailures(t *testing.T) {
	cases := []struct {
		name   string
		ex     *stubExecutor
		code   types.ErrorCode
		stages []types.Stage
	}{
		{
			name:   "build",
			ex:     &stubExecutor{buildErr: errors.New("bad instruction")},
			code:   types.ErrBuildFailed,
			stages: []types.Stage{types.StageRouting, types.StageBuilding, types.StageFailed},
		},
		{
			name:   "submit",
			ex:     &stubExecutor{submitErr: errors.New("rpc unavailable")},
			code:   types.ErrSubmitFailed,
			stages: []types.Stage{types.StageRouting, types.StageBuilding, types.StageSubmitted, types.StageFailed},
		},
		{
			name:   "typed submit error kept",
			ex:     &stubExecutor{submitErr: types.NewError(types.ErrSubmitFailed, "slippage exceeded", nil)},
			code:   types.ErrSubmitFailed,
			stages: []types.Stage{types.StageRouting, types.StageBuilding, types.StageSubmitted, types.StageFailed},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, reg := newTestPipeline(stubSelector{route: testRoute}, tc.ex, Timeouts{})
			order := types.NewOrder("order-"+tc.name, decimal.NewFromInt(1))
			sink := registrytest.NewRecorder()
			reg.Attach(order.ID, sink)

			err := p.Run(context.Background(), order)
			assert.Equal(t, tc.code, types.CodeOf(err))
			assert.Equal(t, tc.stages, sink.Stages())

			last := sink.Events()[len(sink.Events())-1]
			assert.NotEmpty(t, last.Error)
		})
	}
}

func TestRunBuildTimeout(t *testing.T) {
	ex := &stubExecutor{buildGate: make(chan struct{})}
	p, reg := newTestPipeline(stubSelector{route: testRoute}, ex, Timeouts{Build: 20 * time.Millisecond})
	order := types.NewOrder("order-timeout", decimal.NewFromInt(1))
	sink := registrytest.NewRecorder()
	reg.Attach(order.ID, sink)

	err := p.Run(context.Background(), order)
	assert.Equal(t, types.ErrStageTimeout, types.CodeOf(err))
	assert.Equal(t, "transaction build timed out", sink.Events()[len(sink.Events())-1].Error)
}

func TestRunRoutingTimeout(t *testing.T) {
	p, reg := newTestPipeline(stubSelector{block: true}, &stubExecutor{}, Timeouts{Routing: 20 * time.Millisecond})
	order := types.NewOrder("order-route-timeout", decimal.NewFromInt(1))
	sink := registrytest.NewRecorder()
	reg.Attach(order.ID, sink)

	err := p.Run(context.Background(), order)
	assert.Equal(t, types.ErrStageTimeout, types.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []types.Stage{types.StageRouting, types.StageFailed}, sink.Stages())
	assert.Equal(t, "route selection timed out", sink.Events()[1].Error)
}

func TestRunRecoversExecutorPanic(t *testing.T) {
	ex := &stubExecutor{buildPanic: "nil instruction"}
	p, reg := newTestPipeline(stubSelector{route: testRoute}, ex, Timeouts{})
	order := types.NewOrder("order-panic", decimal.NewFromInt(1))
	sink := registrytest.NewRecorder()
	reg.Attach(order.ID, sink)

	var err error
	require.NotPanics(t, func() { err = p.Run(context.Background(), order) })
	assert.Equal(t, types.ErrUnknown, types.CodeOf(err))
	assert.ErrorContains(t, err, "nil instruction")
	assert.Equal(t, types.StageFailed, order.Stage())
	assert.Equal(t, []types.Stage{types.StageRouting, types.StageBuilding, types.StageFailed}, sink.Stages())
	assert.Equal(t, "transaction failed", sink.Events()[2].Error)
}

func TestRunCancelledMidPipeline(t *testing.T) {
	ex := &stubExecutor{buildGate: make(chan struct{}), entered: make(chan struct{})}
	p, reg := newTestPipeline(stubSelector{route: testRoute}, ex, Timeouts{})
	order := types.NewOrder("order-cancel", decimal.NewFromInt(1))
	sink := registrytest.NewRecorder()
	reg.Attach(order.ID, sink)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, order) }()

	<-ex.entered
	cancel()
	err := <-errc
	assert.Equal(t, types.ErrCancelled, types.CodeOf(err))
	assert.Equal(t, []types.Stage{types.StageRouting, types.StageBuilding, types.StageFailed}, sink.Stages())
}

func TestRunWithoutObserver(t *testing.T) {
	p, reg := newTestPipeline(stubSelector{route: testRoute}, &stubExecutor{}, Timeouts{})
	order := types.NewOrder("order-unwatched", decimal.NewFromInt(1))

	require.NoError(t, p.Run(context.Background(), order))

	// attaching after the terminal stage yields nothing
	late := registrytest.NewRecorder()
	reg.Attach(order.ID, late)
	assert.Empty(t, late.Events())
}

func TestRunReplacementMidPipeline(t *testing.T) {
	ex := &stubExecutor{buildGate: make(chan struct{}), entered: make(chan struct{})}
	p, reg := newTestPipeline(stubSelector{route: testRoute}, ex, Timeouts{})
	order := types.NewOrder("order-replace", decimal.NewFromInt(1))
	first := registrytest.NewRecorder()
	reg.Attach(order.ID, first)

	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background(), order) }()

	<-ex.entered
	second := registrytest.NewRecorder()
	reg.Attach(order.ID, second)
	close(ex.buildGate)
	require.NoError(t, <-errc)

	assert.Equal(t, []types.Stage{types.StageRouting, types.StageBuilding}, first.Stages())
	assert.Equal(t, []types.Stage{types.StageSubmitted, types.StageConfirmed}, second.Stages())
}

// Whatever stage fails, the observed sequence is a prefix of the success
// path starting with routing, followed by exactly one failed event.
func TestRunSequenceProperty(t *testing.T) {
	success := []types.Stage{types.StageRouting, types.StageBuilding, types.StageSubmitted, types.StageConfirmed}

	rapid.Check(t, func(t *rapid.T) {
		failAt := rapid.IntRange(0, 3).Draw(t, "failAt") // 3 means no failure
		sel := stubSelector{route: testRoute}
		ex := &stubExecutor{}
		switch failAt {
		case 0:
			sel.err = errors.New("no quotes")
		case 1:
			ex.buildErr = errors.New("build")
		case 2:
			ex.submitErr = errors.New("submit")
		}

		p, reg := newTestPipeline(sel, ex, Timeouts{})
		order := types.NewOrder("prop", decimal.NewFromInt(1))
		sink := registrytest.NewRecorder()
		reg.Attach(order.ID, sink)
		err := p.Run(context.Background(), order)

		got := sink.Stages()
		if failAt == 3 {
			if err != nil || len(got) != 4 {
				t.Fatalf("expected success, got %v (%v)", got, err)
			}
			return
		}
		if len(got) != failAt+2 {
			t.Fatalf("expected %d events, got %v", failAt+2, got)
		}
		for i := 0; i <= failAt; i++ {
			if got[i] != success[i] {
				t.Fatalf("out of order: %v", got)
			}
		}
		if got[len(got)-1] != types.StageFailed {
			t.Fatalf("missing failed event: %v", got)
		}
	})
}
