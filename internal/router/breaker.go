package router

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the state of a venue's circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Venue skipped
	BreakerHalfOpen                     // Probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds thresholds for one breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	OpenTimeout      time.Duration // time spent open before probing
}

// DefaultBreakerConfig returns the thresholds used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Breaker isolates a venue whose quotes keep failing. Safe for concurrent use.
type Breaker struct {
	venue  string
	cfg    BreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	openedAt     time.Time
}

// NewBreaker creates a closed breaker for venue.
func NewBreaker(venue string, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	return &Breaker{
		venue:  venue,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  BreakerClosed,
	}
}

// Allow reports whether the venue may be asked for a quote.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
			b.state = BreakerHalfOpen
			b.successCount = 0
			b.logger.Info().Str("venue", b.venue).Msg("circuit breaker half-open")
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a quote that arrived.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failureCount = 0
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failureCount = 0
			b.successCount = 0
			b.logger.Info().Str("venue", b.venue).Msg("circuit breaker closed")
		}
	}
}

// RecordFailure records a quote that failed or timed out.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successCount = 0
	b.logger.Warn().Str("venue", b.venue).Int("failures", b.failureCount).Msg("circuit breaker open")
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
