package observability

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

type fakeHealth struct{ up atomic.Bool }

func (f *fakeHealth) Connected() bool { return f.up.Load() }

func newTestEndpoint(t *testing.T, health HealthChecker) *Endpoint {
	t.Helper()
	m, err := NewMetrics("tflite")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Telemetry.Enabled = true
	settings.Telemetry.Listen = "127.0.0.1:0"

	e, err := NewEndpoint(settings, m, health)
	require.NoError(t, err)
	return e
}

func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			m, err := NewMetrics("remote")
			assert.NoError(t, err)
			if assert.NotNil(t, m) {
				assert.NotNil(t, m.Detector)
				assert.NotNil(t, m.Moderation)
				assert.NotNil(t, m.Fetch)
				assert.NotNil(t, m.Artifact)
				assert.NotNil(t, m.Store)
				assert.NotNil(t, m.MQTT)
			}
		})
	}
	wg.Wait()
}

func TestEndpointDisabled(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics("tflite")
	require.NoError(t, err)
	_, err = NewEndpoint(&conf.Settings{}, m, nil)
	require.Error(t, err)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	t.Parallel()

	e := newTestEndpoint(t, nil)
	e.GetMetrics().Moderation.RecordOperation(metrics.OpTrigger, "escalate")

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nailong_triggers_total{decision="escalate"} 1`)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	health := &fakeHealth{}
	e := newTestEndpoint(t, health)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	health.up.Store(true)
	rec = httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","host_connected":true}`, rec.Body.String())
}

func TestEndpointStartStop(t *testing.T) {
	t.Parallel()

	e := newTestEndpoint(t, nil)
	var wg sync.WaitGroup
	quit := make(chan struct{})
	e.Start(&wg, quit)
	close(quit)
	wg.Wait()
}
