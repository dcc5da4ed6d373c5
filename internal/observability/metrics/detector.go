package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectorMetrics contains all Prometheus metrics related to the detection pipeline.
type DetectorMetrics struct {
	// Performance metrics
	InferenceDuration *prometheus.HistogramVec

	// Operation counters
	OperationsTotal *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	DetectionsTotal *prometheus.CounterVec

	// Current state gauges
	ModelLoadedGauge prometheus.Gauge

	backend  string
	registry *prometheus.Registry
}

// NewDetectorMetrics creates a new instance of DetectorMetrics.
// The backend name ("tflite", "remote") is attached to the inference histogram.
// It returns an error if metric registration fails.
func NewDetectorMetrics(registry *prometheus.Registry, backend string) (*DetectorMetrics, error) {
	m := &DetectorMetrics{registry: registry, backend: backend}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize detector metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detector metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for DetectorMetrics.
func (m *DetectorMetrics) initMetrics() error {
	m.InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nailong_inference_duration_seconds",
			Help:    "Time taken by a single model invocation",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~2s
		},
		[]string{"backend"},
	)

	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nailong_detector_operations_total",
			Help: "Total number of detection pipeline stages run",
		},
		[]string{"operation", "status"},
	)

	m.ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nailong_detector_errors_total",
			Help: "Total number of detection pipeline errors",
		},
		[]string{"operation", "error_type"},
	)

	m.DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nailong_detections_total",
			Help: "Total number of detections kept after suppression, partitioned by label",
		},
		[]string{"label"},
	)

	m.ModelLoadedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nailong_model_loaded",
			Help: "Whether the detection model is currently loaded (1) or not (0)",
		},
	)

	return nil
}

// RecordModelLoad records the outcome of loading the model.
func (m *DetectorMetrics) RecordModelLoad(err error) {
	if err != nil {
		m.OperationsTotal.WithLabelValues(OpModelLoad, StatusError).Inc()
		m.ModelLoadedGauge.Set(0)
		return
	}
	m.OperationsTotal.WithLabelValues(OpModelLoad, StatusSuccess).Inc()
	m.ModelLoadedGauge.Set(1)
}

// RecordOperation implements the Recorder interface.
// For OpDetection the status is the detection label.
func (m *DetectorMetrics) RecordOperation(operation, status string) {
	switch operation {
	case OpDetection:
		m.DetectionsTotal.WithLabelValues(status).Inc()
	case OpEncode, OpInference, OpDecode, OpModelLoad:
		m.OperationsTotal.WithLabelValues(operation, status).Inc()
	default:
		GetLogger().Debug("unknown detector metric operation")
	}
}

// RecordDuration implements the Recorder interface.
func (m *DetectorMetrics) RecordDuration(operation string, seconds float64) {
	if operation == OpInference {
		m.InferenceDuration.WithLabelValues(m.backend).Observe(seconds)
	}
}

// RecordError implements the Recorder interface.
func (m *DetectorMetrics) RecordError(operation, errorType string) {
	m.ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *DetectorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.InferenceDuration.Describe(ch)
	m.OperationsTotal.Describe(ch)
	m.ErrorsTotal.Describe(ch)
	m.DetectionsTotal.Describe(ch)
	ch <- m.ModelLoadedGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *DetectorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.InferenceDuration.Collect(ch)
	m.OperationsTotal.Collect(ch)
	m.ErrorsTotal.Collect(ch)
	m.DetectionsTotal.Collect(ch)
	ch <- m.ModelLoadedGauge
}
