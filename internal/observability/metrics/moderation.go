package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ModerationMetrics contains metrics for the dispatcher and the moderation ledger.
type ModerationMetrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	TriggersTotal   *prometheus.CounterVec
	MutesTotal      *prometheus.CounterVec
	DeletesTotal    *prometheus.CounterVec
	RepliesTotal    *prometheus.CounterVec
	CommandsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	InFlightHandler prometheus.Gauge
	registry        *prometheus.Registry
}

// NewModerationMetrics creates a new instance of ModerationMetrics.
// It returns an error if metric registration fails.
func NewModerationMetrics(registry *prometheus.Registry) (*ModerationMetrics, error) {
	m := &ModerationMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize moderation metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register moderation metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for ModerationMetrics.
func (m *ModerationMetrics) initMetrics() error {
	m.RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_runs_total",
		Help: "Total number of handled image messages partitioned by mode",
	}, []string{"mode"})

	m.RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nailong_run_duration_seconds",
		Help:    "Time from message receipt to the last host action of a run",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
	})

	m.TriggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_triggers_total",
		Help: "Total number of qualifying detections partitioned by decision",
	}, []string{"decision"})

	m.MutesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_mutes_total",
		Help: "Total number of mute actions partitioned by status",
	}, []string{"status"})

	m.DeletesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_message_deletes_total",
		Help: "Total number of message deletions partitioned by status",
	}, []string{"status"})

	m.RepliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_replies_total",
		Help: "Total number of replies partitioned by status",
	}, []string{"status"})

	m.CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_commands_total",
		Help: "Total number of recognized text commands",
	}, []string{"command"})

	m.ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nailong_moderation_errors_total",
		Help: "Total number of moderation errors",
	}, []string{"operation", "error_type"})

	m.InFlightHandler = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nailong_handlers_in_flight",
		Help: "Number of message handlers currently running",
	})

	return nil
}

// HandlerStarted increments the in-flight gauge.
func (m *ModerationMetrics) HandlerStarted() {
	m.InFlightHandler.Inc()
}

// HandlerFinished decrements the in-flight gauge.
func (m *ModerationMetrics) HandlerFinished() {
	m.InFlightHandler.Dec()
}

// RecordOperation implements the Recorder interface.
// For OpRun the status is the mode, for OpTrigger the decision and for
// OpCommand the command name.
func (m *ModerationMetrics) RecordOperation(operation, status string) {
	switch operation {
	case OpRun:
		m.RunsTotal.WithLabelValues(status).Inc()
	case OpTrigger:
		m.TriggersTotal.WithLabelValues(status).Inc()
	case OpMute:
		m.MutesTotal.WithLabelValues(status).Inc()
	case OpDelete:
		m.DeletesTotal.WithLabelValues(status).Inc()
	case OpReply:
		m.RepliesTotal.WithLabelValues(status).Inc()
	case OpCommand:
		m.CommandsTotal.WithLabelValues(status).Inc()
	default:
		GetLogger().Debug("unknown moderation metric operation")
	}
}

// RecordDuration implements the Recorder interface.
func (m *ModerationMetrics) RecordDuration(operation string, seconds float64) {
	if operation == OpRun {
		m.RunDuration.Observe(seconds)
	}
}

// RecordError implements the Recorder interface.
func (m *ModerationMetrics) RecordError(operation, errorType string) {
	m.ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ModerationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RunsTotal.Describe(ch)
	ch <- m.RunDuration.Desc()
	m.TriggersTotal.Describe(ch)
	m.MutesTotal.Describe(ch)
	m.DeletesTotal.Describe(ch)
	m.RepliesTotal.Describe(ch)
	m.CommandsTotal.Describe(ch)
	m.ErrorsTotal.Describe(ch)
	ch <- m.InFlightHandler.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ModerationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RunsTotal.Collect(ch)
	ch <- m.RunDuration
	m.TriggersTotal.Collect(ch)
	m.MutesTotal.Collect(ch)
	m.DeletesTotal.Collect(ch)
	m.RepliesTotal.Collect(ch)
	m.CommandsTotal.Collect(ch)
	m.ErrorsTotal.Collect(ch)
	ch <- m.InFlightHandler
}
