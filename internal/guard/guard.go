// Package guard assembles the moderation service: it loads persisted state,
// builds the detection pipeline and connects the dispatcher to the chat host.
// On shutdown it drains in-flight handlers, sweeps temporary files and saves
// the moderation tables before exiting.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/nailong-guard/internal/artifact"
	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/detection"
	"github.com/tphakala/nailong-guard/internal/dispatch"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/fetch"
	"github.com/tphakala/nailong-guard/internal/httpclient"
	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/mqtt"
	"github.com/tphakala/nailong-guard/internal/observability"
	"github.com/tphakala/nailong-guard/internal/onebot"
	"github.com/tphakala/nailong-guard/internal/store"
)

// Host is the chat host connection the service runs. onebot.Client is the
// production implementation.
type Host interface {
	dispatch.Host
	Run(ctx context.Context) error
	SetHandler(h onebot.MessageHandler)
	Connected() bool
}

// Service is the running moderation bot.
type Service struct {
	settings *conf.Settings
	fs       afero.Fs

	metrics   *observability.Metrics
	store     store.Store
	ledger    *moderation.Ledger
	whitelist *moderation.Whitelist
	detector  *detection.Detector
	fetcher   *fetch.Fetcher
	artifacts *artifact.Manager
	dispatch  *dispatch.Dispatcher
	host      Host
	publisher *mqtt.Publisher
	endpoint  *observability.Endpoint

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures New.
type Option func(*options)

type options struct {
	fs         afero.Fs
	inferencer detection.Inferencer
	host       Host
	metrics    *observability.Metrics
}

// WithFs uses fs for JSON persistence and temporary files.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithInferencer replaces the configured inference backend.
func WithInferencer(inf detection.Inferencer) Option {
	return func(o *options) { o.inferencer = inf }
}

// WithHost replaces the OneBot connection.
func WithHost(h Host) Option {
	return func(o *options) { o.host = h }
}

// WithMetrics shares an existing metrics registry.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds the service and loads persisted state. A load failure is fatal.
func New(ctx context.Context, settings *conf.Settings, opts ...Option) (*Service, error) {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{settings: settings, fs: o.fs, metrics: o.metrics}
	if s.metrics == nil {
		m, err := observability.NewMetrics(settings.Detector.Backend)
		if err != nil {
			return nil, fmt.Errorf("error initializing metrics: %w", err)
		}
		s.metrics = m
	}

	ok := false
	defer func() {
		if !ok {
			s.release()
		}
	}()

	if err := s.loadState(ctx); err != nil {
		return nil, err
	}

	inf := o.inferencer
	if inf == nil {
		var err error
		inf, err = NewInferencer(settings)
		s.metrics.Detector.RecordModelLoad(err)
		if err != nil {
			return nil, err
		}
	}
	det, err := detection.New(inf, DetectorConfig(settings), detection.WithRecorder(s.metrics.Detector))
	if err != nil {
		_ = inf.Close()
		return nil, err
	}
	s.detector = det

	s.fetcher = fetch.New(
		httpclient.New(&httpclient.Config{DefaultTimeout: settings.Fetch.Timeout, UserAgent: settings.Fetch.UserAgent}),
		fetch.Config{
			Timeout:     settings.Fetch.Timeout,
			MaxBytes:    settings.Fetch.MaxBytes,
			Concurrency: settings.Fetch.Concurrency,
			CacheTTL:    settings.Fetch.CacheTTL,
		},
		fetch.WithRecorder(s.metrics.Fetch))

	s.artifacts, err = artifact.NewManager(s.fs, settings.TempPath(), settings.Moderation.ArtifactGrace,
		artifact.WithRecorder(s.metrics.Artifact))
	if err != nil {
		return nil, err
	}

	var publisher moderation.Publisher = moderation.NopPublisher{}
	if settings.MQTT.Enabled {
		client, err := mqtt.NewClient(settings, s.metrics.MQTT)
		if err != nil {
			return nil, err
		}
		s.publisher = mqtt.NewPublisher(client, settings.MQTT.Topic, settings.Main.Name, 0, s.metrics.MQTT)
		publisher = s.publisher
	}

	s.host = o.host
	if s.host == nil {
		s.host = onebot.New(settings.OneBot, nil)
	}

	s.dispatch, err = dispatch.New(dispatch.ConfigFromSettings(settings), dispatch.Deps{
		Host:      s.host,
		Detector:  s.detector,
		Images:    s.fetcher,
		Ledger:    s.ledger,
		Whitelist: s.whitelist,
		Artifacts: s.artifacts,
		Publisher: publisher,
		Recorder:  s.metrics.Moderation,
	})
	if err != nil {
		return nil, err
	}
	s.host.SetHandler(s.dispatch)

	if settings.Telemetry.Enabled {
		s.endpoint, err = observability.NewEndpoint(settings, s.metrics, s.host)
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return s, nil
}

// loadState opens the store and seeds the ledger and whitelist from it.
func (s *Service) loadState(ctx context.Context) error {
	st, err := store.Open(s.settings, s.fs, store.WithRecorder(s.metrics.Store))
	if err != nil {
		return err
	}
	s.store = st

	groups, err := st.LoadWhitelist(ctx)
	if err != nil {
		return err
	}
	records, err := st.LoadRecords(ctx)
	if err != nil {
		return err
	}

	s.whitelist = moderation.NewWhitelist(groups)
	s.ledger = moderation.NewLedger(s.settings.Moderation.BanCooldown, records,
		moderation.WithRecorder(s.metrics.Moderation))

	enabled := 0
	for _, on := range groups {
		if on {
			enabled++
		}
	}
	GetLogger().Info("moderation state loaded",
		logger.String("storage", s.settings.Storage.Type),
		logger.Int("groups_enabled", enabled),
		logger.Int("users", len(records)))
	return nil
}

// Ledger returns the moderation ledger.
func (s *Service) Ledger() *moderation.Ledger { return s.ledger }

// Whitelist returns the group whitelist.
func (s *Service) Whitelist() *moderation.Whitelist { return s.whitelist }

// Dispatcher returns the message dispatcher.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatch }

// Run connects to the chat host and serves until ctx is cancelled, then shuts
// down. The returned error is the shutdown result.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	quit := make(chan struct{})

	if s.endpoint != nil {
		s.endpoint.Start(&wg, quit)
	}

	hostCtx, stopHost := context.WithCancel(context.WithoutCancel(ctx))
	wg.Go(func() {
		_ = s.host.Run(hostCtx)
	})

	if interval := s.settings.Storage.FlushInterval; interval > 0 {
		wg.Go(func() {
			s.flushLoop(interval, quit)
		})
	}

	GetLogger().Info("nailong-guard running",
		logger.String("instance", s.settings.Main.Name),
		logger.String("backend", s.detector.Info().Backend),
		logger.Float32("trigger", s.detector.Trigger()))

	<-ctx.Done()
	GetLogger().Info("shutdown requested")

	// drain handlers while the host can still carry their replies and mutes;
	// the dispatcher refuses new messages from here on
	if err := s.dispatch.Shutdown(s.settings.Moderation.ShutdownTimeout); err != nil {
		GetLogger().Warn("handlers still running at shutdown", logger.Error(err))
	}
	stopHost()
	err := s.Shutdown()
	close(quit)
	wg.Wait()
	return err
}

func (s *Service) flushLoop(interval time.Duration, quit <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := s.Flush(ctx); err != nil {
				GetLogger().Error("periodic save failed", logger.Error(err))
			}
			cancel()
		}
	}
}

// Flush saves the tables that changed since the last save.
func (s *Service) Flush(ctx context.Context) error {
	var errs []error
	if groups, dirty := s.whitelist.TakeDirty(); dirty {
		if err := s.store.SaveWhitelist(ctx, groups); err != nil {
			s.whitelist.MarkDirty()
			errs = append(errs, err)
		}
	}
	if records, dirty := s.ledger.TakeDirty(); dirty {
		if err := s.store.SaveRecords(ctx, records); err != nil {
			s.ledger.MarkDirty()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown drains the dispatcher, removes temporary files and saves both
// tables unconditionally. Save failures are returned; the process must not
// report a clean exit with unsaved state. Shutdown is idempotent.
func (s *Service) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Service) shutdown() error {
	log := GetLogger()
	var errs []error

	if err := s.dispatch.Shutdown(s.settings.Moderation.ShutdownTimeout); err != nil {
		log.Warn("handlers still running at shutdown", logger.Error(err))
	}
	if err := s.artifacts.Close(); err != nil {
		log.Warn("temporary file sweep incomplete", logger.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Moderation.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := s.store.SaveWhitelist(ctx, s.whitelist.Snapshot()); err != nil {
		errs = append(errs, err)
	} else {
		s.whitelist.MarkClean()
	}
	if err := s.store.SaveRecords(ctx, s.ledger.Snapshot()); err != nil {
		errs = append(errs, err)
	} else {
		s.ledger.MarkClean()
	}

	if s.publisher != nil {
		if err := s.publisher.Close(5 * time.Second); err != nil {
			log.Warn("MQTT publisher did not drain", logger.Error(err))
		}
	}
	s.release()

	if s.ledger.Dirty() || s.whitelist.Dirty() {
		log.Warn("moderation state changed after the final save and was not persisted")
	}

	if err := errors.Join(errs...); err != nil {
		log.Error("failed to save moderation state", logger.Error(err))
		return err
	}
	log.Info("moderation state saved", logger.Int("users", s.ledger.Len()))
	return nil
}

// release frees resources that hold files, sockets or native memory.
func (s *Service) release() {
	if s.fetcher != nil {
		s.fetcher.Close()
	}
	if s.detector != nil {
		if err := s.detector.Close(); err != nil {
			GetLogger().Warn("failed to release inference backend", logger.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			GetLogger().Warn("failed to close store", logger.Error(err))
		}
	}
}
