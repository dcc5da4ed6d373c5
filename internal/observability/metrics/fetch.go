package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// FetchMetrics contains metrics for image downloads.
type FetchMetrics struct {
	FetchTotal    *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	FetchErrors   *prometheus.CounterVec
	CacheTotal    *prometheus.CounterVec
	FetchBytes    prometheus.Histogram
	registry      *prometheus.Registry
}

// NewFetchMetrics creates a new instance of FetchMetrics.
// It returns an error if metric registration fails.
func NewFetchMetrics(registry *prometheus.Registry) (*FetchMetrics, error) {
	m := &FetchMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize fetch metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register fetch metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for FetchMetrics.
func (m *FetchMetrics) initMetrics() error {
	m.FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_fetch_total",
		Help: "Total number of image downloads partitioned by status",
	}, []string{"status"})

	m.FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nailong_fetch_duration_seconds",
		Help:    "Time taken to download an image",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
	})

	m.FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_fetch_errors_total",
		Help: "Total number of image download errors",
	}, []string{"error_type"})

	m.CacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_fetch_cache_total",
		Help: "Total number of fetch cache lookups partitioned by result",
	}, []string{"result"})

	m.FetchBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nailong_fetch_size_bytes",
		Help:    "Size of downloaded images in bytes",
		Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor2, BucketCount15), // 1KB to ~16MB
	})

	return nil
}

// ObserveSize records the size of a downloaded image.
func (m *FetchMetrics) ObserveSize(bytes int) {
	m.FetchBytes.Observe(float64(bytes))
}

// RecordOperation implements the Recorder interface.
func (m *FetchMetrics) RecordOperation(operation, status string) {
	switch operation {
	case OpFetch:
		m.FetchTotal.WithLabelValues(status).Inc()
	case OpFetchCache:
		m.CacheTotal.WithLabelValues(status).Inc()
	default:
		GetLogger().Debug("unknown fetch metric operation")
	}
}

// RecordDuration implements the Recorder interface.
func (m *FetchMetrics) RecordDuration(operation string, seconds float64) {
	if operation == OpFetch {
		m.FetchDuration.Observe(seconds)
	}
}

// RecordError implements the Recorder interface.
func (m *FetchMetrics) RecordError(operation, errorType string) {
	if operation == OpFetch {
		m.FetchErrors.WithLabelValues(errorType).Inc()
	}
}

// Describe implements the prometheus.Collector interface.
func (m *FetchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FetchTotal.Describe(ch)
	ch <- m.FetchDuration.Desc()
	m.FetchErrors.Describe(ch)
	m.CacheTotal.Describe(ch)
	ch <- m.FetchBytes.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *FetchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FetchTotal.Collect(ch)
	ch <- m.FetchDuration
	m.FetchErrors.Collect(ch)
	m.CacheTotal.Collect(ch)
	ch <- m.FetchBytes
}
