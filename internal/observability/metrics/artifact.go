package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ArtifactMetrics contains metrics for annotated image files in the temp directory.
type ArtifactMetrics struct {
	OperationsTotal *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	Outstanding     prometheus.Gauge
	registry        *prometheus.Registry
}

// NewArtifactMetrics creates a new instance of ArtifactMetrics.
// It returns an error if metric registration fails.
func NewArtifactMetrics(registry *prometheus.Registry) (*ArtifactMetrics, error) {
	m := &ArtifactMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize artifact metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register artifact metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for ArtifactMetrics.
func (m *ArtifactMetrics) initMetrics() error {
	m.OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_artifacts_total",
		Help: "Total number of artifact file operations partitioned by operation and status",
	}, []string{"operation", "status"})

	m.ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_artifact_errors_total",
		Help: "Total number of artifact file errors",
	}, []string{"operation", "error_type"})

	m.Outstanding = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nailong_artifacts_outstanding",
		Help: "Number of artifact files created and not yet deleted",
	})

	return nil
}

// RecordOperation implements the Recorder interface. Successful creates and
// deletes of tracked files also move the outstanding gauge.
func (m *ArtifactMetrics) RecordOperation(operation, status string) {
	switch operation {
	case OpArtifactCreate:
		if status == StatusSuccess {
			m.Outstanding.Inc()
		}
	case OpArtifactDelete:
		if status == StatusSuccess {
			m.Outstanding.Dec()
		}
	case OpArtifactSweep:
		// sweeps also remove files left by earlier processes
	default:
		GetLogger().Debug("unknown artifact metric operation")
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements the Recorder interface. Artifact operations are
// not timed.
func (m *ArtifactMetrics) RecordDuration(string, float64) {}

// RecordError implements the Recorder interface.
func (m *ArtifactMetrics) RecordError(operation, errorType string) {
	m.ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ArtifactMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.ErrorsTotal.Describe(ch)
	ch <- m.Outstanding.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ArtifactMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.ErrorsTotal.Collect(ch)
	ch <- m.Outstanding
}
