// Package metrics exposes dispatch counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chime"

// Metrics holds the daemon's collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived   prometheus.Counter
	Notifications    *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	Subscriptions    prometheus.Gauge
	Actions          *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, with Go and process
// collectors alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Inbound message events received from the feed.",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Dispatch outcomes by channel and status.",
		}, []string{"channel", "status"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Step failures caught during dispatch, by kind.",
		}, []string{"kind"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one event.",
			Buckets:   prometheus.DefBuckets,
		}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_active",
			Help:      "1 while a message subscription is open.",
		}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_actions_total",
			Help:      "Notification taps and clicks, by source.",
		}, []string{"source"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Failure counts one caught step failure.
func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind).Inc()
}

// Outcome counts one dispatch outcome.
func (m *Metrics) Outcome(channel, status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, status).Inc()
}

// Received counts one inbound event.
func (m *Metrics) Received() {
	if m == nil {
		return
	}
	m.EventsReceived.Inc()
}

// ObserveDispatch records how long one dispatch took.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(d.Seconds())
}

// Action counts one notification tap or click.
func (m *Metrics) Action(source string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(source).Inc()
}

// SetSubscribed reports whether a subscription is open.
func (m *Metrics) SetSubscribed(open bool) {
	if m == nil {
		return
	}
	if open {
		m.Subscriptions.Set(1)
		return
	}
	m.Subscriptions.Set(0)
}
