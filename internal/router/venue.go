package router

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/souravmenon1999/dex-order-engine/internal/config"
)

// QuoteSource is one candidate venue.
type QuoteSource interface {
	Venue() string
	Quote(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
}

// SimulatedVenue quotes basePrice scaled by a uniform random factor in
// [minFactor, maxFactor) after a fixed latency.
type SimulatedVenue struct {
	name      string
	basePrice decimal.Decimal
	minFactor float64
	maxFactor float64
	latency   time.Duration
	rnd       func() float64
}

// NewSimulatedVenue creates a venue with its own random source.
func NewSimulatedVenue(name string, basePrice decimal.Decimal, minFactor, maxFactor float64, latency time.Duration) *SimulatedVenue {
	return &SimulatedVenue{
		name:      name,
		basePrice: basePrice,
		minFactor: minFactor,
		maxFactor: maxFactor,
		latency:   latency,
		rnd:       rand.Float64,
	}
}

func (v *SimulatedVenue) Venue() string { return v.name }

// Quote waits for the venue latency, then returns a price.
func (v *SimulatedVenue) Quote(ctx context.Context, _ decimal.Decimal) (decimal.Decimal, error) {
	if v.latency > 0 {
		timer := time.NewTimer(v.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	factor := v.minFactor + v.rnd()*(v.maxFactor-v.minFactor)
	return v.basePrice.Mul(decimal.NewFromFloat(factor)), nil
}

// SourcesFromConfig builds one simulated venue per configured entry.
func SourcesFromConfig(cfg config.RouterConfig) []QuoteSource {
	base := decimal.NewFromFloat(cfg.BasePrice)
	sources := make([]QuoteSource, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		sources = append(sources, NewSimulatedVenue(vc.Name, base, vc.MinFactor, vc.MaxFactor, cfg.QuoteLatency))
	}
	return sources
}

// BreakerConfigFrom converts the configured thresholds.
func BreakerConfigFrom(cfg config.BreakerConfig) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		OpenTimeout:      cfg.OpenTimeout,
	}
}
