package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the ingest API.
type HTTPMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	wsActiveClients  prometheus.Gauge
	wsMessagesSent   prometheus.Counter
	wsMessagesDrops  prometheus.Counter
	imageFetchErrors *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers the HTTP collectors.
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}), // path is the route pattern, not the raw URL
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		wsActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_active_clients",
			Help:      "Number of connected event feed clients",
		}),
		wsMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_messages_sent_total",
			Help:      "Total number of event feed messages sent",
		}),
		wsMessagesDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_messages_dropped_total",
			Help:      "Event feed messages dropped for slow clients",
		}),
		imageFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "image_fetch_errors_total",
			Help:      "Remote image fetch failures by reason",
		}, []string{"reason"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

// RecordRequest records a completed HTTP request.
func (m *HTTPMetrics) RecordRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// WSClientConnected adjusts the active client gauge by delta.
func (m *HTTPMetrics) WSClientConnected(delta int) {
	if m == nil {
		return
	}
	m.wsActiveClients.Add(float64(delta))
}

func (m *HTTPMetrics) WSMessageSent() {
	if m == nil {
		return
	}
	m.wsMessagesSent.Inc()
}

func (m *HTTPMetrics) WSMessageDropped() {
	if m == nil {
		return
	}
	m.wsMessagesDrops.Inc()
}

func (m *HTTPMetrics) ImageFetchError(reason string) {
	if m == nil {
		return
	}
	m.imageFetchErrors.WithLabelValues(reason).Inc()
}

func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.wsActiveClients.Collect(ch)
	m.wsMessagesSent.Collect(ch)
	m.wsMessagesDrops.Collect(ch)
	m.imageFetchErrors.Collect(ch)
}

func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.wsActiveClients.Describe(ch)
	m.wsMessagesSent.Describe(ch)
	m.wsMessagesDrops.Describe(ch)
	m.imageFetchErrors.Describe(ch)
}
