package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/detection"
	"github.com/tphakala/nailong-guard/internal/dispatch"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability"
	"github.com/tphakala/nailong-guard/internal/onebot"
	"github.com/tphakala/nailong-guard/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

const (
	testGroup = int64(987654)
	testUser  = int64(123456)
	testAdmin = int64(10001)
)

// fakeHost records actions and lets the test deliver messages.
type fakeHost struct {
	mu      sync.Mutex
	handler onebot.MessageHandler
	replies []dispatch.Reply
	deleted []int64
	mutes   []int64
	running chan struct{}

	// offline is set once Run returns; late counts actions sent after that
	offline atomic.Bool
	late    atomic.Int32
}

func newFakeHost() *fakeHost {
	return &fakeHost{running: make(chan struct{})}
}

func (h *fakeHost) Reply(_ context.Context, _ dispatch.Message, r dispatch.Reply) error {
	h.checkOnline()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies = append(h.replies, r)
	return nil
}

func (h *fakeHost) DeleteMessage(_ context.Context, id int64) error {
	h.checkOnline()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, id)
	return nil
}

func (h *fakeHost) MuteUser(_ context.Context, _, user int64, _ time.Duration) error {
	h.checkOnline()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mutes = append(h.mutes, user)
	return nil
}

func (h *fakeHost) checkOnline() {
	if h.offline.Load() {
		h.late.Add(1)
	}
}

func (h *fakeHost) Run(ctx context.Context) error {
	close(h.running)
	<-ctx.Done()
	h.offline.Store(true)
	return ctx.Err()
}

func (h *fakeHost) SetHandler(handler onebot.MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *fakeHost) Connected() bool { return !h.offline.Load() }

func (h *fakeHost) deliver(msg dispatch.Message) {
	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()
	handler.Handle(context.Background(), msg)
}

func (h *fakeHost) counts() (replies, deleted, mutes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.replies), len(h.deleted), len(h.mutes)
}

// fakeInferencer reports one centered box with a fixed score.
type fakeInferencer struct {
	score  float32
	closed bool

	delay   time.Duration
	started chan struct{}
}

func (f *fakeInferencer) Infer(_ context.Context, in detection.Tensor) (detection.Output, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	time.Sleep(f.delay)
	size := float32(in.Shape[len(in.Shape)-1])
	return detection.Output{
		Features:   5,
		Candidates: 1,
		Data:       []float32{size / 2, size / 2, size / 2, size / 2, f.score},
	}, nil
}

func (f *fakeInferencer) Close() error {
	f.closed = true
	return nil
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Main.Name = "test"
	s.Main.DataDir = "/data"
	s.Main.TempDir = "tmp"
	s.Storage.Type = conf.StorageJSON
	s.Detector.Backend = BackendTFLite
	s.Detector.InputSize = 32
	s.Detector.Trigger = 0.78
	s.Moderation.BanCooldown = 5 * time.Minute
	s.Moderation.BanDuration = time.Minute
	s.Moderation.DeleteMessage = true
	s.Moderation.Admins = []int64{testAdmin}
	s.Moderation.ShutdownTimeout = time.Second
	s.Commands = conf.CommandSettings{Start: ".nailostart", Stop: ".nailostop", Check: "检测", MyTimes: "我的奶龙"}
	s.Messages = conf.MessageSettings{Start: "on", Stop: "off", Reply: "不准发奶龙哦，再发打你👊", Ban: "ban"}
	s.Fetch.Timeout = 5 * time.Second
	s.Fetch.MaxBytes = 1 << 20
	s.Fetch.Concurrency = 2
	return s
}

func newService(t *testing.T, fs afero.Fs, settings *conf.Settings, host *fakeHost, inf detection.Inferencer) *Service {
	t.Helper()
	m, err := observability.NewMetrics(settings.Detector.Backend)
	require.NoError(t, err)
	s, err := New(context.Background(), settings,
		WithFs(fs), WithHost(host), WithInferencer(inf), WithMetrics(m))
	require.NoError(t, err)
	return s
}

// mustReadOnlyStore opens a JSON store whose saves always fail.
func mustReadOnlyStore(t *testing.T, fs afero.Fs, settings *conf.Settings) store.Store {
	t.Helper()
	st, err := store.NewJSONStore(afero.NewReadOnlyFs(fs), settings.WhitelistPath(), settings.RecordsPath())
	require.NoError(t, err)
	return st
}

func pngServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewCreatesMissingStateFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	s := newService(t, fs, settings, newFakeHost(), &fakeInferencer{})

	for _, p := range []string{settings.WhitelistPath(), settings.RecordsPath()} {
		ok, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
	ok, err := afero.DirExists(fs, "/data/tmp")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Shutdown())
}

func TestNewLoadsPersistedState(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	require.NoError(t, afero.WriteFile(fs, settings.WhitelistPath(), []byte(`{"987654": true}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, settings.RecordsPath(), []byte(
		`{"123456": {"total_times": 2, "group_total_times": {"987654": 2}, "last_timestamp": {"987654": 1700000000}}}`), 0o644))

	s := newService(t, fs, settings, newFakeHost(), &fakeInferencer{})
	t.Cleanup(func() { _ = s.Shutdown() })

	assert.True(t, s.Whitelist().Enabled(testGroup))
	rec, ok := s.Ledger().Lookup(testUser)
	require.True(t, ok)
	assert.Equal(t, uint64(2), rec.TotalTimes)
}

func TestNewFailsOnCorruptState(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	require.NoError(t, afero.WriteFile(fs, settings.WhitelistPath(), []byte(`{not json`), 0o644))

	inf := &fakeInferencer{}
	_, err := New(context.Background(), settings, WithFs(fs), WithHost(newFakeHost()), WithInferencer(inf))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryPersistence))
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	settings := testSettings()
	settings.Detector.Backend = "onnx"
	m, err := observability.NewMetrics("onnx")
	require.NoError(t, err)

	_, err = New(context.Background(), settings, WithFs(afero.NewMemMapFs()), WithHost(newFakeHost()), WithMetrics(m))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestShutdownSavesState(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	host := newFakeHost()
	inf := &fakeInferencer{}
	s := newService(t, fs, settings, host, inf)

	host.deliver(dispatch.Message{ID: 1, GroupID: testGroup, UserID: testAdmin, Text: ".nailostart"})
	require.Eventually(t, func() bool { return s.Whitelist().Enabled(testGroup) }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown(), "idempotent")
	assert.True(t, inf.closed)

	data, err := afero.ReadFile(fs, settings.WhitelistPath())
	require.NoError(t, err)
	var groups map[int64]bool
	require.NoError(t, json.Unmarshal(data, &groups))
	assert.Equal(t, map[int64]bool{testGroup: true}, groups)
}

func TestModerationEndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	host := newFakeHost()
	srv := pngServer(t)
	s := newService(t, fs, settings, host, &fakeInferencer{score: 0.9})
	s.Whitelist().Set(testGroup, true)

	host.deliver(dispatch.Message{ID: 42, GroupID: testGroup, UserID: testUser, Images: []string{srv.URL + "/a.png"}})
	require.Eventually(t, func() bool {
		_, deleted, _ := host.counts()
		return deleted == 1
	}, 5*time.Second, 10*time.Millisecond)

	host.deliver(dispatch.Message{ID: 43, GroupID: testGroup, UserID: testUser, Images: []string{srv.URL + "/b.png"}})
	require.Eventually(t, func() bool {
		_, _, mutes := host.counts()
		return mutes == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Shutdown())

	data, err := afero.ReadFile(fs, settings.RecordsPath())
	require.NoError(t, err)
	var records map[int64]moderation.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Contains(t, records, testUser)
	assert.Equal(t, uint64(2), records[testUser].TotalTimes)
	assert.Equal(t, uint64(2), records[testUser].GroupTimes[testGroup])
}

func TestFlushWritesOnlyChangedTables(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	s := newService(t, fs, settings, newFakeHost(), &fakeInferencer{})
	t.Cleanup(func() { _ = s.Shutdown() })
	ctx := context.Background()

	require.NoError(t, fs.Remove(settings.RecordsPath()))
	s.Whitelist().Set(testGroup, true)
	require.NoError(t, s.Flush(ctx))

	data, err := afero.ReadFile(fs, settings.WhitelistPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "987654")

	ok, err := afero.Exists(fs, settings.RecordsPath())
	require.NoError(t, err)
	assert.False(t, ok, "unchanged table is not rewritten")

	s.Ledger().Trigger(testUser, testGroup, time.Unix(1_700_000_000, 0))
	require.NoError(t, s.Flush(ctx))
	ok, err = afero.Exists(fs, settings.RecordsPath())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, s.Ledger().Dirty())
}

func TestFlushKeepsTablesDirtyOnFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	settings := testSettings()
	s := newService(t, base, settings, newFakeHost(), &fakeInferencer{})
	t.Cleanup(func() { _ = s.Shutdown() })

	s.Whitelist().Set(testGroup, true)
	require.NoError(t, s.store.Close())
	s.store = mustReadOnlyStore(t, base, settings)

	require.Error(t, s.Flush(context.Background()))
	assert.True(t, s.Whitelist().Dirty())
}

func TestRunServesUntilCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	settings.Storage.FlushInterval = 10 * time.Millisecond
	host := newFakeHost()
	s := newService(t, fs, settings, host, &fakeInferencer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-host.running
	s.Whitelist().Set(testGroup, true)
	require.Eventually(t, func() bool { return !s.Whitelist().Dirty() }, time.Second, 5*time.Millisecond,
		"periodic flush saves the whitelist")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunDrainsHandlersBeforeDisconnecting(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	settings.Moderation.ShutdownTimeout = 5 * time.Second
	host := newFakeHost()
	srv := pngServer(t)
	inf := &fakeInferencer{score: 0.9, delay: 200 * time.Millisecond, started: make(chan struct{}, 1)}
	s := newService(t, fs, settings, host, inf)
	s.Whitelist().Set(testGroup, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-host.running

	host.deliver(dispatch.Message{ID: 7, GroupID: testGroup, UserID: testUser, Images: []string{srv.URL + "/a.png"}})
	select {
	case <-inf.started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never reached inference")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	replies, deleted, _ := host.counts()
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, replies)
	assert.Zero(t, host.late.Load(), "no host action after disconnect")

	data, err := afero.ReadFile(fs, settings.RecordsPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "123456")
}

func TestDetectorConfigOverrides(t *testing.T) {
	settings := testSettings()
	settings.Detector.Backend = BackendRemote
	settings.Detector.Remote.Model = "nailong-v2"
	settings.Detector.Labels = []string{"nailong", "xiong"}
	settings.Detector.PositiveLabel = "nailong"
	settings.Detector.IoUThreshold = 0.5

	cfg := DetectorConfig(settings)
	assert.Equal(t, "nailong-v2", cfg.Model.Name)
	assert.Equal(t, BackendRemote, cfg.Model.Backend)
	assert.Equal(t, 32, cfg.Model.InputSize)
	assert.Equal(t, []string{"nailong", "xiong"}, cfg.Model.Labels)
	assert.InDelta(t, 0.5, cfg.IoUThreshold, 1e-6)
	assert.InDelta(t, 0.78, cfg.Trigger, 1e-6)
	assert.InDelta(t, detection.DefaultConfig().ConfidenceFloor, cfg.ConfidenceFloor, 1e-6)
}
