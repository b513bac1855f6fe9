package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampwatch/lampwatch/internal/observability/metrics"
)

func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.MQTT)
			assert.NotNil(t, m.Pipeline)
			assert.NotNil(t, m.HTTP)
		}()
	}
	wg.Wait()
}

func TestPipelineFaultCounter(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.RecordFault(metrics.FaultLedgerLamp)
	m.Pipeline.RecordFault(metrics.FaultLedgerLamp)
	m.Pipeline.RecordRun(metrics.VerdictDetected, 2, 20*time.Millisecond)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var faults *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "lampwatch_pipeline_faults_total" {
			faults = f
		}
	}
	require.NotNil(t, faults)
	require.Len(t, faults.GetMetric(), 1)
	assert.Equal(t, "ledger_lamp", faults.GetMetric()[0].GetLabel()[0].GetValue())
	assert.InDelta(t, 2, faults.GetMetric()[0].GetCounter().GetValue(), 0)
}

func TestMQTTConnectionGauge(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.MQTT.UpdateConnectionStatus(true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.ConnectionStatus), 0)
	m.MQTT.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.MQTT.ConnectionStatus), 0)

	m.MQTT.IncrementErrors("timeout")
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.Errors.WithLabelValues("timeout")), 0)
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var p *metrics.PipelineMetrics
	var q *metrics.MQTTMetrics
	var h *metrics.HTTPMetrics

	assert.NotPanics(t, func() {
		p.RecordFault(metrics.FaultActuation)
		p.RecordRun(metrics.VerdictNotDetected, 0, time.Millisecond)
		q.UpdateConnectionStatus(true)
		q.RecordDelivered(16, time.Millisecond)
		h.RecordRequest(http.MethodGet, "/health", 200, time.Millisecond)
		h.WSClientConnected(1)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.HTTP.RecordRequest(http.MethodPost, "/detect/upload", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lampwatch_http_requests_total{method="POST",path="/detect/upload",status_code="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
