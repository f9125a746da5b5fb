// Package metrics holds the Prometheus collectors for the order engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orderengine"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	OrdersAccepted   prometheus.Counter
	OrdersRejected   *prometheus.CounterVec
	StageTransitions *prometheus.CounterVec
	OrdersInFlight   prometheus.Gauge
	Notifications    *prometheus.CounterVec
	Subscriptions    prometheus.Gauge
	RouteSelection   prometheus.Histogram
	QuoteFailures    *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_accepted_total",
			Help:      "Orders admitted by intake.",
		}),
		OrdersRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders refused by intake, by reason.",
		}, []string{"reason"}),
		StageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_stage_transitions_total",
			Help:      "Order stage transitions, by target stage.",
		}, []string{"stage"}),
		OrdersInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orders_in_flight",
			Help:      "Pipelines currently running.",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Status notifications, by delivery outcome.",
		}, []string{"outcome"}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Order ids with an attached status sink.",
		}),
		RouteSelection: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_selection_seconds",
			Help:      "Time spent choosing a venue.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		QuoteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_quote_failures_total",
			Help:      "Candidate quotes that failed or were skipped, by venue.",
		}, []string{"venue"}),
		PipelineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time from admission to terminal stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30},
		}, []string{"result"}),
	}
}

func (m *Metrics) RecordAccepted() {
	if m == nil {
		return
	}
	m.OrdersAccepted.Inc()
}

func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.OrdersRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordTransition(stage string) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(stage).Inc()
}

// SetInFlight is driven by the worker pool.
func (m *Metrics) SetInFlight(n int64) {
	if m == nil {
		return
	}
	m.OrdersInFlight.Set(float64(n))
}

func (m *Metrics) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.Subscriptions.Set(float64(n))
}

func (m *Metrics) ObserveRouteSelection(d time.Duration) {
	if m == nil {
		return
	}
	m.RouteSelection.Observe(d.Seconds())
}

func (m *Metrics) RecordQuoteFailure(venue string) {
	if m == nil {
		return
	}
	m.QuoteFailures.WithLabelValues(venue).Inc()
}

// ObservePipeline records a finished pipeline; result is "success" or "failure".
func (m *Metrics) ObservePipeline(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(result).Observe(d.Seconds())
}
