package dispatch

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/nailong-guard/internal/artifact"
	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/fetch"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

const (
	testGroup int64 = 987654
	testUser  int64 = 123456
	testAdmin int64 = 1
	artDir          = "/tmp/nailong"
)

// hostAction is one call recorded by fakeHost.
type hostAction struct {
	Kind      string // reply, delete, mute
	Reply     Reply
	MessageID int64
	GroupID   int64
	UserID    int64
	Duration  time.Duration
}

type fakeHost struct {
	mu      sync.Mutex
	actions []hostAction
	failAll bool
}

func (h *fakeHost) record(a hostAction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, a)
	if h.failAll {
		return errors.Newf("host offline").Category(errors.CategoryHostAPI).Build()
	}
	return nil
}

func (h *fakeHost) Reply(_ context.Context, to Message, r Reply) error {
	return h.record(hostAction{Kind: "reply", Reply: r, MessageID: to.ID, GroupID: to.GroupID})
}

func (h *fakeHost) DeleteMessage(_ context.Context, id int64) error {
	return h.record(hostAction{Kind: "delete", MessageID: id})
}

func (h *fakeHost) MuteUser(_ context.Context, group, user int64, d time.Duration) error {
	return h.record(hostAction{Kind: "mute", GroupID: group, UserID: user, Duration: d})
}

func (h *fakeHost) of(kind string) []hostAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hostAction
	for _, a := range h.actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (h *fakeHost) all() []hostAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hostAction(nil), h.actions...)
}

// scoredImage carries the confidence the fake detector reports for it.
type scoredImage struct {
	*image.RGBA
	confidence float32
	fail       bool
}

// decodeFake turns "conf:0.9" into a scored image, "fail" into an image the
// detector errors on, and anything else into a decode error.
func decodeFake(data []byte) (image.Image, string, error) {
	s := string(data)
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	switch {
	case s == "fail":
		return &scoredImage{RGBA: img, fail: true}, "png", nil
	case strings.HasPrefix(s, "conf:"):
		c, err := strconv.ParseFloat(strings.TrimPrefix(s, "conf:"), 32)
		if err != nil {
			return nil, "", err
		}
		return &scoredImage{RGBA: img, confidence: float32(c)}, "png", nil
	default:
		return nil, "", errors.Newf("not an image").Category(errors.CategoryInvalidImage).Build()
	}
}

type fakeDetector struct {
	trigger float32
}

func (f fakeDetector) Score(_ context.Context, img image.Image) (float32, error) {
	s := img.(*scoredImage)
	if s.fail {
		return 0, errors.Newf("engine exploded").Category(errors.CategoryInference).Build()
	}
	return s.confidence, nil
}

func (f fakeDetector) Annotate(ctx context.Context, img image.Image) (*image.RGBA, float32, error) {
	c, err := f.Score(ctx, img)
	if err != nil {
		return nil, 0, err
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), c, nil
}

func (f fakeDetector) Qualifies(c float32) bool {
	return c >= f.trigger
}

// fakeSource serves URLs of the form "mem://<payload>"; "mem://404" fails.
type fakeSource struct{}

func (fakeSource) FetchAll(_ context.Context, urls []string) []fetch.Result {
	out := make([]fetch.Result, len(urls))
	for i, u := range urls {
		payload := strings.TrimPrefix(u, "mem://")
		out[i].URL = u
		if payload == "404" {
			out[i].Err = errors.Newf("status 404").Category(errors.CategoryTransport).Build()
			continue
		}
		out[i].Data = []byte(payload)
	}
	return out
}

type capturePublisher struct {
	mu     sync.Mutex
	events []moderation.Event
}

func (p *capturePublisher) Publish(e moderation.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *capturePublisher) types() []moderation.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []moderation.EventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// fixture bundles a dispatcher with its fakes.
type fixture struct {
	d         *Dispatcher
	host      *fakeHost
	ledger    *moderation.Ledger
	whitelist *moderation.Whitelist
	fs        afero.Fs
	pub       *capturePublisher
	rec       *metrics.TestRecorder
	now       time.Time
	nowMu     sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.nowMu.Lock()
	f.now = f.now.Add(d)
	f.nowMu.Unlock()
}

// handle dispatches msg and waits for its handler to finish.
func (f *fixture) handle(msg Message) {
	f.d.Handle(context.Background(), msg)
	f.d.wg.Wait()
}

func testConfig() Config {
	return Config{
		Commands: conf.CommandSettings{
			Start:   ".nailostart",
			Stop:    ".nailostop",
			Check:   "检测",
			MyTimes: "我的奶龙",
		},
		Messages: conf.MessageSettings{
			Start: "start-msg",
			Stop:  "stop-msg",
			Reply: "不准发奶龙哦，再发打你👊",
			Ban:   "发发发发发，不准发了👊👊👊",
		},
		ReplyWithConfidence: true,
		DeleteMessage:       true,
		BanDuration:         60 * time.Second,
		Admins:              []int64{testAdmin},
		ShutdownTimeout:     time.Second,
	}
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	fs := afero.NewMemMapFs()
	arts, err := artifact.NewManager(fs, artDir, 0)
	require.NoError(t, err)

	f := &fixture{
		host:      &fakeHost{},
		ledger:    moderation.NewLedger(60*time.Second, nil),
		whitelist: moderation.NewWhitelist(nil),
		fs:        fs,
		pub:       &capturePublisher{},
		rec:       metrics.NewTestRecorder(),
		now:       time.Unix(1_700_000_000, 0),
	}
	f.d, err = New(cfg, Deps{
		Host:      f.host,
		Detector:  fakeDetector{trigger: 0.78},
		Images:    fakeSource{},
		Ledger:    f.ledger,
		Whitelist: f.whitelist,
		Artifacts: arts,
		Publisher: f.pub,
		Recorder:  f.rec,
		Clock:     f.clock,
		Decode:    decodeFake,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = f.d.Shutdown(time.Second)
		_ = arts.Close()
	})
	return f
}

func imageMsg(id int64, text string, payloads ...string) Message {
	urls := make([]string, len(payloads))
	for i, p := range payloads {
		urls[i] = fmt.Sprintf("mem://%s", p)
	}
	return Message{ID: id, GroupID: testGroup, UserID: testUser, Role: RoleMember, Text: text, Images: urls}
}
