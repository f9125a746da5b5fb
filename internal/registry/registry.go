// Package registry maps order ids to the single sink observing each order.
package registry

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/souravmenon1999/dex-order-engine/internal/logging"
	"github.com/souravmenon1999/dex-order-engine/internal/metrics"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

// Sink is a delivery target for one order's status events. The transport
// that created it owns its lifecycle.
type Sink interface {
	IsOpen() bool
	Send(event types.StatusEvent) error
}

// Outcome describes what Notify did with an event. It is diagnostic only.
type Outcome int

const (
	Delivered Outcome = iota
	Missed            // no sink attached
	Dropped           // sink closed, send failed or panicked
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Missed:
		return "missed"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Registry holds at most one sink per order id. It is safe for concurrent
// use; the lock is never held while a sink is written to.
type Registry struct {
	mu      sync.RWMutex
	sinks   map[string]Sink
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an empty registry. m may be nil.
func New(m *metrics.Metrics) *Registry {
	return &Registry{
		sinks:   make(map[string]Sink),
		logger:  logging.Component("registry"),
		metrics: m,
	}
}

// Attach makes sink the only delivery target for orderID. A previously
// attached sink is replaced without being told.
func (r *Registry) Attach(orderID string, sink Sink) {
	r.mu.Lock()
	_, replaced := r.sinks[orderID]
	r.sinks[orderID] = sink
	n := len(r.sinks)
	r.mu.Unlock()

	r.metrics.SetSubscriptions(n)
	r.logger.Debug().Str("orderId", orderID).Bool("replaced", replaced).Msg("sink attached")
}

// Detach removes whatever sink is attached to orderID.
func (r *Registry) Detach(orderID string) {
	r.mu.Lock()
	delete(r.sinks, orderID)
	n := len(r.sinks)
	r.mu.Unlock()

	r.metrics.SetSubscriptions(n)
}

// Release removes the mapping for orderID only if sink is still the
// attached one, so a replaced connection closing late cannot evict its
// replacement. It reports whether a mapping was removed.
func (r *Registry) Release(orderID string, sink Sink) bool {
	r.mu.Lock()
	cur, ok := r.sinks[orderID]
	if ok && cur == sink {
		delete(r.sinks, orderID)
	}
	n := len(r.sinks)
	r.mu.Unlock()

	r.metrics.SetSubscriptions(n)
	return ok && cur == sink
}

// Lookup returns the sink attached to orderID.
func (r *Registry) Lookup(orderID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[orderID]
	return s, ok
}

// Len returns the number of attached sinks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Notify delivers event to the sink attached to orderID, if any and open.
// It never fails and never panics.
func (r *Registry) Notify(orderID string, event types.StatusEvent) (outcome Outcome) {
	defer func() {
		r.metrics.RecordNotification(outcome.String())
	}()

	sink, ok := r.Lookup(orderID)
	if !ok || sink == nil {
		r.logger.Debug().Str("orderId", orderID).Stringer("stage", event.Stage).Msg("no sink attached, event dropped")
		return Missed
	}
	if err := safeSend(sink, event); err != nil {
		r.logger.Debug().Err(err).Str("orderId", orderID).Stringer("stage", event.Stage).Msg("delivery failed")
		return Dropped
	}
	return Delivered
}

func safeSend(sink Sink, event types.StatusEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = types.NewError(types.ErrDeliveryMiss, "sink panicked", fmt.Errorf("%v", p))
		}
	}()
	if !sink.IsOpen() {
		return types.NewError(types.ErrDeliveryMiss, "sink not open", types.ErrBaseSinkClosed)
	}
	return sink.Send(event)
}
