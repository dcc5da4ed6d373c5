package fetch

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/httpclient"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func newMockFetcher(t *testing.T, cfg Config, opts ...Option) (*Fetcher, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	f := New(httpclient.New(&httpclient.Config{Transport: mock}), cfg, opts...)
	t.Cleanup(f.Close)
	return f, mock
}

func TestFetchAllKeepsOrderAndSkipsFailures(t *testing.T) {
	t.Parallel()

	f, mock := newMockFetcher(t, Config{Concurrency: 2})
	mock.RegisterResponder(http.MethodGet, "https://img.example/a", httpmock.NewBytesResponder(http.StatusOK, []byte("A")))
	mock.RegisterResponder(http.MethodGet, "https://img.example/b", httpmock.NewStringResponder(http.StatusForbidden, "expired"))
	mock.RegisterResponder(http.MethodGet, "https://img.example/c", httpmock.NewBytesResponder(http.StatusOK, []byte("C")))

	results := f.FetchAll(t.Context(), []string{"https://img.example/a", "https://img.example/b", "https://img.example/c"})
	require.Len(t, results, 3)

	assert.Equal(t, "A", string(results[0].Data))
	require.NoError(t, results[0].Err)

	require.Error(t, results[1].Err)
	assert.True(t, errors.IsCategory(results[1].Err, errors.CategoryTransport))
	assert.Nil(t, results[1].Data)

	assert.Equal(t, "C", string(results[2].Data))
	assert.Equal(t, "https://img.example/c", results[2].URL)
}

func TestFetchBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	f, mock := newMockFetcher(t, Config{Concurrency: 2})
	mock.RegisterResponder(http.MethodGet, `=~^https://img\.example/\d+$`, func(*http.Request) (*http.Response, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return httpmock.NewBytesResponse(http.StatusOK, []byte("x")), nil
	})

	urls := []string{"https://img.example/1", "https://img.example/2", "https://img.example/3", "https://img.example/4", "https://img.example/5"}
	for _, r := range f.FetchAll(t.Context(), urls) {
		require.NoError(t, r.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetchCachesSuccessfulBodies(t *testing.T) {
	t.Parallel()

	rec := metrics.NewTestRecorder()
	f, mock := newMockFetcher(t, Config{CacheTTL: time.Minute}, WithRecorder(rec))
	mock.RegisterResponder(http.MethodGet, "https://img.example/a", httpmock.NewBytesResponder(http.StatusOK, []byte("A")))

	for range 3 {
		data, err := f.Fetch(t.Context(), "https://img.example/a")
		require.NoError(t, err)
		assert.Equal(t, "A", string(data))
	}

	assert.Equal(t, 1, mock.GetTotalCallCount())
	assert.Equal(t, 2, rec.GetOperationCount(metrics.OpFetchCache, metrics.StatusHit))
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpFetch, metrics.StatusSuccess))
}

func TestFetchDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	rec := metrics.NewTestRecorder()
	f, mock := newMockFetcher(t, Config{CacheTTL: time.Minute}, WithRecorder(rec))
	mock.RegisterResponder(http.MethodGet, "https://img.example/x", httpmock.NewStringResponder(http.StatusBadGateway, ""))

	for range 2 {
		_, err := f.Fetch(t.Context(), "https://img.example/x")
		require.Error(t, err)
	}
	assert.Equal(t, 2, mock.GetTotalCallCount())
	assert.Equal(t, 2, rec.GetErrorCount(metrics.OpFetch, string(errors.CategoryTransport)))
}

func TestFetchRejectsOversizedAndEmpty(t *testing.T) {
	t.Parallel()

	f, mock := newMockFetcher(t, Config{MaxBytes: 4})
	mock.RegisterResponder(http.MethodGet, "https://img.example/big", httpmock.NewBytesResponder(http.StatusOK, []byte("0123456789")))

	_, err := f.Fetch(t.Context(), "https://img.example/big")
	assert.True(t, errors.IsCategory(err, errors.CategoryTransport))

	_, err = f.Fetch(t.Context(), "")
	assert.True(t, errors.IsCategory(err, errors.CategoryTransport))
}

func TestFetchHonorsCancellation(t *testing.T) {
	t.Parallel()

	f, mock := newMockFetcher(t, Config{})
	mock.RegisterResponder(http.MethodGet, "https://img.example/slow", func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	results := f.FetchAll(ctx, []string{"https://img.example/slow"})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}
