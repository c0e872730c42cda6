package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each server owns its own
// registry so several servers can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	messagesPosted   *prometheus.CounterVec
	rateLimited      prometheus.Counter
	realtimeSessions prometheus.Gauge
	eventsDelivered  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	moderationOps    *prometheus.CounterVec
}

// NewMetrics creates and registers the server collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "status"}),
		messagesPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_messages_posted_total",
			Help: "Messages stored, by table",
		}, []string{"table"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chorus_messages_rate_limited_total",
			Help: "Message inserts refused by the per-user rate limit",
		}),
		realtimeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chorus_realtime_sessions",
			Help: "Open realtime websocket sessions",
		}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_realtime_events_delivered_total",
			Help: "Insert events queued to a subscriber, by table",
		}, []string{"table"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_realtime_events_dropped_total",
			Help: "Insert events dropped because a subscriber's buffer was full, by table",
		}, []string{"table"}),
		moderationOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_moderation_operations_total",
			Help: "Moderation operations by name and result",
		}, []string{"operation", "result"}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.messagesPosted,
		m.rateLimited,
		m.realtimeSessions,
		m.eventsDelivered,
		m.eventsDropped,
		m.moderationOps,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) RecordMessagePosted(table string) {
	m.messagesPosted.WithLabelValues(table).Inc()
}

func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) RecordRealtimeSessions(n int) {
	m.realtimeSessions.Set(float64(n))
}

func (m *Metrics) RecordEventDelivered(table string) {
	m.eventsDelivered.WithLabelValues(table).Inc()
}

func (m *Metrics) RecordEventDropped(table string) {
	m.eventsDropped.WithLabelValues(table).Inc()
}

func (m *Metrics) RecordModerationOp(op, result string) {
	m.moderationOps.WithLabelValues(op, result).Inc()
}
