package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the render server.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	wsClients       prometheus.Gauge
	exportsRunning  prometheus.Gauge
	exportsTotal    *prometheus.CounterVec
	exportDuration  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat2video",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chat2video",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat2video",
			Name:      "http_rate_limited_total",
			Help:      "Number of render requests rejected due to rate limiting",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat2video",
			Name:      "ws_clients",
			Help:      "Current connected progress WebSocket clients",
		}),
		exportsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat2video",
			Name:      "exports_running",
			Help:      "Exports currently rendering",
		}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat2video",
			Name:      "exports_total",
			Help:      "Finished exports by type and status",
		}, []string{"type", "status"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chat2video",
			Name:      "export_duration_seconds",
			Help:      "Wall time of finished exports",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{"type"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.rateLimited,
		m.wsClients,
		m.exportsRunning,
		m.exportsTotal,
		m.exportDuration,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) IncWSClients(delta float64) {
	if m == nil {
		return
	}
	m.wsClients.Add(delta)
}

func (m *Metrics) IncExportsRunning(delta float64) {
	if m == nil {
		return
	}
	m.exportsRunning.Add(delta)
}

// ObserveExport records a finished export.
func (m *Metrics) ObserveExport(exportType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(exportType, status).Inc()
	m.exportDuration.WithLabelValues(exportType).Observe(dur.Seconds())
}
