// Package observability exposes the inbox counters to Prometheus.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace-inbox/domain/event"
)

const namespace = "inbox"

// Metrics owns its registry so tests can build as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	events              *prometheus.CounterVec
	conflictsRecovered  prometheus.Counter
	uploads             *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge
	droppedSubscribers  *prometheus.CounterVec
	workerRestarts      *prometheus.CounterVec
	orphansReclaimed    prometheus.Counter
	requests            *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed conversation events by type.",
		}, []string{"type"}),
		conflictsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_conflicts_recovered_total",
			Help:      "Concurrent conversation creations settled on the winner's row.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Attachment uploads by outcome.",
		}, []string{"outcome"}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Realtime subscriptions currently held.",
		}),
		droppedSubscribers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_subscribers_dropped_total",
			Help:      "Subscriptions closed because their buffer overflowed.",
		}, []string{"channel"}),
		workerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Background worker restarts after a crash.",
		}, []string{"worker"}),
		orphansReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_attachments_reclaimed_total",
			Help:      "Unsent attachments deleted by the janitor.",
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.events,
		m.conflictsRecovered,
		m.uploads,
		m.activeSubscriptions,
		m.droppedSubscribers,
		m.workerRestarts,
		m.orphansReclaimed,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Consume counts every committed event flowing through the fanout.
func (m *Metrics) Consume(_ context.Context, e event.DomainEvent) error {
	m.events.WithLabelValues(string(e.Type())).Inc()
	return nil
}

func (m *Metrics) ConflictRecovered() { m.conflictsRecovered.Inc() }

func (m *Metrics) UploadOutcome(outcome string) { m.uploads.WithLabelValues(outcome).Inc() }

func (m *Metrics) ActiveSubscriptions(n int) { m.activeSubscriptions.Set(float64(n)) }

func (m *Metrics) SubscriberDropped(channel string) { m.droppedSubscribers.WithLabelValues(channel).Inc() }

func (m *Metrics) WorkerRestarted(name string) { m.workerRestarts.WithLabelValues(name).Inc() }

func (m *Metrics) OrphansReclaimed(n int) { m.orphansReclaimed.Add(float64(n)) }

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
