// Package observability provides metrics and monitoring capabilities for nailong-guard.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Detector   *metrics.DetectorMetrics
	Moderation *metrics.ModerationMetrics
	Fetch      *metrics.FetchMetrics
	Artifact   *metrics.ArtifactMetrics
	Store      *metrics.StoreMetrics
	MQTT       *metrics.MQTTMetrics
}

// NewMetrics creates a new instance of Metrics on a fresh registry,
// initializing all metric collectors. backend labels inference timings.
func NewMetrics(backend string) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	detectorMetrics, err := metrics.NewDetectorMetrics(registry, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector metrics: %w", err)
	}

	moderationMetrics, err := metrics.NewModerationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create moderation metrics: %w", err)
	}

	fetchMetrics, err := metrics.NewFetchMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch metrics: %w", err)
	}

	artifactMetrics, err := metrics.NewArtifactMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact metrics: %w", err)
	}

	storeMetrics, err := metrics.NewStoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create store metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Detector:   detectorMetrics,
		Moderation: moderationMetrics,
		Fetch:      fetchMetrics,
		Artifact:   artifactMetrics,
		Store:      storeMetrics,
		MQTT:       mqttMetrics,
	}, nil
}

// Registry returns the registry all collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
