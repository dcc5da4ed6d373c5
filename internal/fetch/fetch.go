// Package fetch downloads chat images. Downloads for one message run
// concurrently with a bound, failed downloads are reported per URL, and
// successful bodies are cached briefly so a retried or forwarded message
// does not hit the host's media server again.
package fetch

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/httpclient"
	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// Default settings.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxBytes    = 20 << 20
	DefaultConcurrency = 4
	DefaultCacheTTL    = 2 * time.Minute
)

// Config configures a Fetcher.
type Config struct {
	Timeout     time.Duration // per download
	MaxBytes    int64         // larger bodies are rejected
	Concurrency int           // parallel downloads per FetchAll
	CacheTTL    time.Duration // 0 disables caching
}

// Result is the outcome of one download. Exactly one of Data and Err is set.
type Result struct {
	URL  string
	Data []byte
	Err  error
}

// Fetcher downloads images through the shared HTTP client.
type Fetcher struct {
	client   *httpclient.Client
	cache    *cache.Cache
	cfg      Config
	recorder metrics.Recorder
	sizes    interface{ ObserveSize(int) }
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRecorder reports download outcomes and cache lookups to r. When r also
// has an ObserveSize(int) method, body sizes are recorded too.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *Fetcher) {
		f.recorder = r
		if s, ok := r.(interface{ ObserveSize(int) }); ok {
			f.sizes = s
		}
	}
}

// New creates a Fetcher. Zero config values take the package defaults.
func New(client *httpclient.Client, cfg Config, opts ...Option) *Fetcher {
	if client == nil {
		client = httpclient.New(nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	f := &Fetcher{client: client, cfg: cfg, recorder: metrics.NewNoOpRecorder()}
	if cfg.CacheTTL > 0 {
		f.cache = cache.New(cfg.CacheTTL, cfg.CacheTTL*2)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads a single URL. Non-2xx statuses, oversized bodies and
// network failures are CategoryTransport errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.Newf("empty image url").
			Component("fetch").
			Category(errors.CategoryTransport).
			Build()
	}

	if f.cache != nil {
		if cached, found := f.cache.Get(url); found {
			if data, ok := cached.([]byte); ok {
				f.recorder.RecordOperation(metrics.OpFetchCache, metrics.StatusHit)
				return data, nil
			}
		}
		f.recorder.RecordOperation(metrics.OpFetchCache, metrics.StatusMiss)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	data, err := f.client.GetBytes(ctx, url, f.cfg.MaxBytes)
	f.recorder.RecordDuration(metrics.OpFetch, time.Since(start).Seconds())
	if err != nil {
		f.recorder.RecordOperation(metrics.OpFetch, metrics.StatusError)
		f.recorder.RecordError(metrics.OpFetch, string(errors.CategoryOf(err)))
		return nil, err
	}

	f.recorder.RecordOperation(metrics.OpFetch, metrics.StatusSuccess)
	if f.sizes != nil {
		f.sizes.ObserveSize(len(data))
	}
	if f.cache != nil {
		f.cache.Set(url, data, cache.DefaultExpiration)
	}
	return data, nil
}

// FetchAll downloads urls concurrently and returns one Result per URL in
// input order. A failed download never cancels the others; only ctx does.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))

	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)
	for i, url := range urls {
		g.Go(func() error {
			data, err := f.Fetch(ctx, url)
			results[i] = Result{URL: url, Data: data, Err: err}
			if err != nil {
				GetLogger().Warn("image download failed",
					logger.String("url", logger.RedactURL(url)),
					logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Close releases idle connections and drops the cache.
func (f *Fetcher) Close() {
	if f.cache != nil {
		f.cache.Flush()
	}
	f.client.Close()
}
