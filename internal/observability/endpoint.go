package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/logger"
	metricspkg "github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// HealthChecker reports whether the chat host connection is up.
type HealthChecker interface {
	Connected() bool
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status        string `json:"status"`
	HostConnected bool   `json:"host_connected"`
}

// Endpoint serves /metrics and /healthz.
type Endpoint struct {
	echo          *echo.Echo
	listenAddress string
	metrics       *Metrics
	health        HealthChecker
}

// NewEndpoint creates a new telemetry Endpoint. It returns an error when
// telemetry is disabled in settings. health may be nil, in which case
// /healthz only reports that the process is alive.
func NewEndpoint(settings *conf.Settings, metrics *Metrics, health HealthChecker) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, fmt.Errorf("telemetry not enabled in settings")
	}

	e := &Endpoint{
		echo:          echo.New(),
		listenAddress: settings.Telemetry.Listen,
		metrics:       metrics,
		health:        health,
	}
	e.echo.HideBanner = true
	e.echo.HidePort = true
	e.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.echo.GET("/healthz", e.healthz)

	return e, nil
}

// healthz answers 200 while the host is connected and 503 otherwise.
func (e *Endpoint) healthz(c echo.Context) error {
	if e.health == nil {
		return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	}
	if !e.health.Connected() {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", HostConnected: true})
}

// Handler exposes the router, mainly for tests.
func (e *Endpoint) Handler() http.Handler {
	return e.echo
}

// Start runs the HTTP server in a goroutine tracked by wg and shuts it down
// once quitChan is closed.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	wg.Go(func() {
		GetLogger().Info("telemetry endpoint starting", logger.String("address", e.listenAddress))
		if err := e.echo.Start(e.listenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			GetLogger().Error("telemetry HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		e.gracefulShutdown(quitChan)
	})
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	GetLogger().Info("stopping telemetry server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.echo.Shutdown(ctx); err != nil {
		GetLogger().Error("telemetry server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
