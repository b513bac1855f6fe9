package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks detection pipeline runs and absorbed faults.
type PipelineMetrics struct {
	runsTotal    *prometheus.CounterVec
	faultsTotal  *prometheus.CounterVec
	runDuration  prometheus.Histogram
	personsFound prometheus.Histogram
}

// NewPipelineMetrics creates the pipeline collectors and registers them.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs by verdict",
		}, []string{"verdict"}),
		faultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_faults_total",
			Help:      "Total number of absorbed pipeline faults by kind",
		}, []string{"kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of a full pipeline run",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		personsFound: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_person_count",
			Help:      "Number of persons found per positive run",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// RecordRun records a finished run.
func (m *PipelineMetrics) RecordRun(verdict string, personCount int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(verdict).Inc()
	m.runDuration.Observe(elapsed.Seconds())
	if personCount > 0 {
		m.personsFound.Observe(float64(personCount))
	}
}

// RecordFault counts an absorbed fault of the given kind.
func (m *PipelineMetrics) RecordFault(kind string) {
	if m == nil {
		return
	}
	m.faultsTotal.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.runsTotal.Collect(ch)
	m.faultsTotal.Collect(ch)
	m.runDuration.Collect(ch)
	m.personsFound.Collect(ch)
}

func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.runsTotal.Describe(ch)
	m.faultsTotal.Describe(ch)
	m.runDuration.Describe(ch)
	m.personsFound.Describe(ch)
}
