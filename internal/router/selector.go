// Package router chooses the execution venue for an order.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/souravmenon1999/dex-order-engine/internal/logging"
	"github.com/souravmenon1999/dex-order-engine/internal/metrics"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

var errBreakerOpen = errors.New("circuit breaker open")

// RouteSelector produces a venue and price for a trade size.
type RouteSelector interface {
	SelectRoute(ctx context.Context, amount decimal.Decimal) (types.RouteDecision, error)
}

type candidate struct {
	source  QuoteSource
	breaker *Breaker
}

// Selector asks every candidate venue for a quote and keeps the highest
// price. Ties go to the candidate listed first.
type Selector struct {
	candidates []candidate
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewSelector wraps each source in its own circuit breaker. m may be nil.
func NewSelector(sources []QuoteSource, cfg BreakerConfig, m *metrics.Metrics) *Selector {
	logger := logging.Component("router")
	cs := make([]candidate, 0, len(sources))
	for _, src := range sources {
		cs = append(cs, candidate{
			source:  src,
			breaker: NewBreaker(src.Venue(), cfg, logger),
		})
	}
	return &Selector{candidates: cs, logger: logger, metrics: m}
}

type quoteResult struct {
	price decimal.Decimal
	err   error
}

// SelectRoute fetches all quotes concurrently. One failing venue does not
// fail the selection while another answers; if none does, the error has
// code ErrRouteSelection.
func (s *Selector) SelectRoute(ctx context.Context, amount decimal.Decimal) (types.RouteDecision, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRouteSelection(time.Since(start)) }()

	results := make([]quoteResult, len(s.candidates))
	var g errgroup.Group
	for i, c := range s.candidates {
		if !c.breaker.Allow() {
			results[i].err = errBreakerOpen
			continue
		}
		g.Go(func() error {
			price, err := quote(ctx, c.source, amount)
			if err == nil && !price.IsPositive() {
				err = fmt.Errorf("non-positive quote %s", price.String())
			}
			switch {
			case err == nil:
				c.breaker.RecordSuccess()
			case !errors.Is(err, context.Canceled):
				c.breaker.RecordFailure()
			}
			results[i] = quoteResult{price: price, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		decision types.RouteDecision
		found    bool
		errs     []error
	)
	for i, res := range results {
		venue := s.candidates[i].source.Venue()
		if res.err != nil {
			s.metrics.RecordQuoteFailure(venue)
			errs = append(errs, fmt.Errorf("%s: %w", venue, res.err))
			continue
		}
		decision.Quotes = append(decision.Quotes, types.Quote{Venue: venue, Price: res.price})
		if !found || res.price.GreaterThan(decision.Price) {
			decision.Venue = venue
			decision.Price = res.price
			found = true
		}
	}

	if !found {
		cause := errors.Join(append(errs, types.ErrBaseNoQuotes)...)
		msg := "no route available"
		if ctx.Err() != nil {
			msg = "route selection timed out"
		}
		return types.RouteDecision{}, types.NewError(types.ErrRouteSelection, msg, cause)
	}

	if len(errs) > 0 {
		s.logger.Warn().Errs("failures", errs).Str("venue", decision.Venue).Msg("route chosen with partial quotes")
	}
	s.logger.Debug().
		Str("venue", decision.Venue).
		Str("price", decision.Price.StringFixed(types.PriceDecimals)).
		Int("quotes", len(decision.Quotes)).
		Msg("route selected")
	return decision, nil
}

// quote asks src for a price. A panicking source counts as a failed quote.
func quote(ctx context.Context, src QuoteSource, amount decimal.Decimal) (price decimal.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("quote panicked: %v", r)
		}
	}()
	return src.Quote(ctx, amount)
}

// BreakerState returns the breaker state of venue, for diagnostics.
func (s *Selector) BreakerState(venue string) (BreakerState, bool) {
	for _, c := range s.candidates {
		if c.source.Venue() == venue {
			return c.breaker.State(), true
		}
	}
	return BreakerClosed, false
}

// BreakerStates returns the breaker state of every candidate venue.
func (s *Selector) BreakerStates() map[string]BreakerState {
	out := make(map[string]BreakerState, len(s.candidates))
	for _, c := range s.candidates {
		out[c.source.Venue()] = c.breaker.State()
	}
	return out
}
