// Package metrics provides the Prometheus collectors for lampwatch components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains all Prometheus metrics related to MQTT operations.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesDelivered prometheus.Counter
	Errors            *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	LastConnectTime   prometheus.Gauge
	MessageSize       prometheus.Histogram
	PublishLatency    prometheus.Histogram
	MessagesReceived  prometheus.Counter
}

// NewMQTTMetrics creates the MQTT collectors and registers them with registry.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "mqtt_connection_status",
		Help:      "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})
	m.MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "mqtt_messages_delivered_total",
		Help:      "Total number of MQTT messages acknowledged by the broker",
	})
	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "mqtt_errors_total",
		Help:      "Total number of MQTT errors by kind",
	}, []string{"kind"}) // kind: not_connected, timeout, publish, connect, connection_lost
	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "mqtt_reconnect_attempts_total",
		Help:      "Total number of supervisor reconnection attempts",
	})
	m.LastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "mqtt_last_connect_time_seconds",
		Help:      "Timestamp of the last successful MQTT connection",
	})
	m.MessageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "mqtt_message_size_bytes",
		Help:      "Size of published MQTT messages in bytes",
		Buckets:   prometheus.ExponentialBuckets(16, 2, 8),
	})
	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "mqtt_publish_latency_seconds",
		Help:      "Time from publish to broker acknowledgement",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "mqtt_messages_received_total",
		Help:      "Total number of messages received on subscribed topics",
	})
}

// UpdateConnectionStatus sets the connection gauge and, when connected, the last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.SetToCurrentTime()
		return
	}
	m.ConnectionStatus.Set(0)
}

// RecordDelivered records a broker-acknowledged publish.
func (m *MQTTMetrics) RecordDelivered(sizeBytes int, latency time.Duration) {
	if m == nil {
		return
	}
	m.MessagesDelivered.Inc()
	m.MessageSize.Observe(float64(sizeBytes))
	m.PublishLatency.Observe(latency.Seconds())
}

func (m *MQTTMetrics) IncrementErrors(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}

func (m *MQTTMetrics) IncrementReconnectAttempts() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *MQTTMetrics) IncrementReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionStatus.Collect(ch)
	m.MessagesDelivered.Collect(ch)
	m.Errors.Collect(ch)
	m.ReconnectAttempts.Collect(ch)
	m.LastConnectTime.Collect(ch)
	m.MessageSize.Collect(ch)
	m.PublishLatency.Collect(ch)
	m.MessagesReceived.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionStatus.Describe(ch)
	m.MessagesDelivered.Describe(ch)
	m.Errors.Describe(ch)
	m.ReconnectAttempts.Describe(ch)
	m.LastConnectTime.Describe(ch)
	m.MessageSize.Describe(ch)
	m.PublishLatency.Describe(ch)
	m.MessagesReceived.Describe(ch)
}
