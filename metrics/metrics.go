// Package metrics defines the Prometheus collectors of the gateway and the
// worker. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "capi"

// Metrics contains the collectors of one process.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RoundTrips      prometheus.Counter
	Reloads         *prometheus.CounterVec
	Subscriptions   prometheus.Gauge
	Notifications   *prometheus.CounterVec
	Jobs            *prometheus.CounterVec
	FailedJobs      *prometheus.CounterVec
	JobsInFlight    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. When reg is nil a
// fresh registry is used.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "requests_total",
				Help:      "GraphQL operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "request_duration_seconds",
				Help:      "GraphQL operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		RoundTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "round_trips_total",
				Help:      "Statements sent to the database",
			},
		),
		Reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "schema",
				Name:      "reloads_total",
				Help:      "Schema reloads by outcome",
			},
			[]string{"outcome"},
		),
		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "subscriptions",
				Name:      "active",
				Help:      "Subscriptions currently listening",
			},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscriptions",
				Name:      "notifications_total",
				Help:      "Notifications received by topic kind",
			},
			[]string{"kind"},
		),
		Jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "executions_total",
				Help:      "Job executions by task and outcome",
			},
			[]string{"task", "outcome"},
		),
		FailedJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "failed_total",
				Help:      "Jobs that exhausted their attempts",
			},
			[]string{"task"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "in_flight",
				Help:      "Jobs currently executing",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.RoundTrips,
		m.Reloads,
		m.Subscriptions,
		m.Notifications,
		m.Jobs,
		m.FailedJobs,
		m.JobsInFlight,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one GraphQL operation.
func (m *Metrics) ObserveRequest(kind string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Requests.WithLabelValues(kind, outcome).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// RoundTrip records one statement.
func (m *Metrics) RoundTrip() {
	if m == nil {
		return
	}
	m.RoundTrips.Inc()
}

// ObserveReload records a schema reload.
func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Reloads.WithLabelValues(outcome).Inc()
}

// SubscriptionStarted and SubscriptionClosed track active subscriptions.
func (m *Metrics) SubscriptionStarted() {
	if m == nil {
		return
	}
	m.Subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.Subscriptions.Dec()
}

// Notified records a notification of the given topic kind.
func (m *Metrics) Notified(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

// JobStarted and JobFinished track executing jobs. outcome is one of
// "completed", "retry", "failed", "released" or "lost".
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

func (m *Metrics) JobFinished(task, outcome string) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	m.Jobs.WithLabelValues(task, outcome).Inc()
	if outcome == "failed" {
		m.FailedJobs.WithLabelValues(task).Inc()
	}
}
