package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "studyhub"

// Metrics owns a private registry so several servers can live in one process.
// It implements presence.Observer.
type Metrics struct {
	registry        *prometheus.Registry
	joins           prometheus.Counter
	ignoredJoins    *prometheus.CounterVec
	leaves          prometheus.Counter
	online          prometheus.Gauge
	activeConns     prometheus.Gauge
	droppedClients  prometheus.Counter
	rateLimited     *prometheus.CounterVec
	persistFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "presence",
			Name:      "joins_total",
			Help:      "Joins that added a user to the presence list",
		}),
		ignoredJoins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "presence",
			Name:      "ignored_joins_total",
			Help:      "Joins that changed nothing, by reason",
		}, []string{"reason"}),
		leaves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "presence",
			Name:      "leaves_total",
			Help:      "Disconnects that removed a user from the presence list",
		}),
		online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "presence",
			Name:      "online_users",
			Help:      "Users currently present",
		}),
		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "active_connections",
			Help:      "Open websocket connections",
		}),
		droppedClients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "dropped_listeners_total",
			Help:      "Listeners disconnected because they could not keep up",
		}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter",
		}, []string{"surface"}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stats",
			Name:      "persist_failures_total",
			Help:      "Statistics writes abandoned after retries",
		}),
	}
}

func (m *Metrics) JoinAccepted() { m.joins.Inc() }

func (m *Metrics) JoinIgnored(reason string) { m.ignoredJoins.WithLabelValues(reason).Inc() }

func (m *Metrics) Left(removed bool) {
	if removed {
		m.leaves.Inc()
	}
}

func (m *Metrics) Online(n int) { m.online.Set(float64(n)) }

func (m *Metrics) IncConn() { m.activeConns.Inc() }

func (m *Metrics) DecConn() { m.activeConns.Dec() }

func (m *Metrics) DroppedListener() { m.droppedClients.Inc() }

func (m *Metrics) RateLimited(surface string) { m.rateLimited.WithLabelValues(surface).Inc() }

// PersistFailed matches stats.WithPersistFailureHook.
func (m *Metrics) PersistFailed(error) { m.persistFailures.Inc() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
