package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRoute(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	enabled := func(int64) bool { return true }
	disabled := func(int64) bool { return false }
	admin := func(m Message) Message {
		m.UserID = testAdmin
		return m
	}
	private := func(m Message) Message {
		m.GroupID = 0
		return m
	}
	groupAdmin := func(m Message) Message {
		m.Role = RoleAdmin
		return m
	}

	testCases := []struct {
		name        string
		msg         Message
		whitelisted func(int64) bool
		want        Plan
	}{
		{"plain image, whitelisted", imageMsg(1, "", "conf:0.9"), enabled, Plan{Mode: ModeModerate}},
		{"plain image, not whitelisted", imageMsg(1, "", "conf:0.9"), disabled, Plan{}},
		{"check command overrides whitelist", imageMsg(1, "检测", "conf:0.9"), enabled, Plan{Mode: ModeAnnotate}},
		{"check command trims space", imageMsg(1, "  检测 \n", "conf:0.9"), disabled, Plan{Mode: ModeAnnotate}},
		{"check command without image", imageMsg(1, "检测"), enabled, Plan{}},
		{"other text with image", imageMsg(1, "look", "conf:0.9"), enabled, Plan{Mode: ModeModerate}},
		{"report", imageMsg(1, " 我的奶龙 "), disabled, Plan{Report: true}},
		{"admin start", admin(imageMsg(1, ".nailostart")), disabled, Plan{Toggle: ToggleStart}},
		{"admin stop", admin(imageMsg(1, ".nailostop")), enabled, Plan{Toggle: ToggleStop}},
		{"admin start must match exactly", admin(imageMsg(1, " .nailostart")), disabled, Plan{}},
		{"non-admin start ignored", imageMsg(1, ".nailostart"), disabled, Plan{}},
		{"group admin trusted only when enabled", groupAdmin(imageMsg(1, ".nailostart")), disabled, Plan{}},
		{"private message ignored", private(admin(imageMsg(1, ".nailostart", "conf:0.9"))), enabled, Plan{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Route(&cfg, tc.msg, tc.whitelisted))
		})
	}

	trusting := testConfig()
	trusting.TrustGroupAdmins = true
	assert.Equal(t, Plan{Toggle: ToggleStart}, Route(&trusting, groupAdmin(imageMsg(1, ".nailostart")), disabled))
}

func TestModerateFirstOffense(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.whitelist.Set(testGroup, true)

	f.handle(imageMsg(42, "", "conf:0.9"))

	replies := f.host.of("reply")
	require.Len(t, replies, 1)
	assert.True(t, replies[0].Reply.Quote)
	assert.Equal(t, "不准发奶龙哦，再发打你👊\n相似度：0.90", replies[0].Reply.Text())
	assert.Empty(t, replies[0].Reply.Images())
	assert.Empty(t, f.host.of("mute"))

	deletes := f.host.of("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, int64(42), deletes[0].MessageID)

	rec, ok := f.ledger.Lookup(testUser)
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.TotalTimes)
	assert.Equal(t, uint64(1), rec.GroupTimes[testGroup])
	assert.Equal(t, []moderation.EventType{moderation.EventTrigger}, f.pub.types())
	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpRun, ModeModerate.String()))
}

func TestModerateRepeatInsideCooldownMutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.whitelist.Set(testGroup, true)

	f.handle(imageMsg(1, "", "conf:0.9"))
	f.advance(500 * time.Millisecond)
	f.handle(imageMsg(2, "", "conf:0.9"))

	mutes := f.host.of("mute")
	require.Len(t, mutes, 1)
	assert.Equal(t, testGroup, mutes[0].GroupID)
	assert.Equal(t, testUser, mutes[0].UserID)
	assert.Equal(t, 60*time.Second, mutes[0].Duration)

	// second run: mute, ban text, standard reply, delete
	actions := f.host.all()
	require.Len(t, actions, 6)
	assert.Equal(t, "mute", actions[2].Kind)
	assert.Equal(t, "发发发发发，不准发了👊👊👊", actions[3].Reply.Text())
	assert.False(t, actions[3].Reply.Quote)
	assert.True(t, actions[4].Reply.Quote)
	assert.Equal(t, "delete", actions[5].Kind)

	assert.Equal(t, []moderation.EventType{
		moderation.EventTrigger, moderation.EventTrigger, moderation.EventMute,
	}, f.pub.types())

	f.advance(61 * time.Second)
	f.handle(imageMsg(3, "", "conf:0.9"))
	assert.Len(t, f.host.of("mute"), 1, "outside the cooldown nobody is muted")

	rec, _ := f.ledger.Lookup(testUser)
	assert.Equal(t, uint64(3), rec.TotalTimes)
}

func TestModerateBelowTriggerDoesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.whitelist.Set(testGroup, true)

	f.handle(imageMsg(1, "", "conf:0.5", "conf:0.77"))

	assert.Empty(t, f.host.all())
	assert.Equal(t, 0, f.ledger.Len())
}

func TestModerateSkipsBrokenImages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.whitelist.Set(testGroup, true)

	f.handle(imageMsg(1, "", "404", "garbage", "fail", "conf:0.8", "conf:0.95"))

	replies := f.host.of("reply")
	require.Len(t, replies, 1)
	assert.Equal(t, "不准发奶龙哦，再发打你👊\n相似度：0.80\n相似度：0.95", replies[0].Reply.Text())

	rec, _ := f.ledger.Lookup(testUser)
	assert.Equal(t, uint64(1), rec.TotalTimes, "one message counts once")
}

func TestModerateAllImagesBrokenIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.whitelist.Set(testGroup, true)

	f.handle(imageMsg(1, "", "404", "garbage", "fail"))

	assert.Empty(t, f.host.all())
	assert.Equal(t, 0, f.ledger.Len())
}

func TestModerateWithoutConfidenceOrDelete(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.ReplyWithConfidence = false
		c.DeleteMessage = false
	})
	f.whitelist.Set(testGroup, true)

	f.handle(imageMsg(1, "", "conf:0.9"))

	replies := f.host.of("reply")
	require.Len(t, replies, 1)
	assert.Equal(t, "不准发奶龙哦，再发打你👊", replies[0].Reply.Text())
	assert.Empty(t, f.host.of("delete"))
}

func TestCheckCommandInWhitelistedGroupNeverModerates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.whitelist.Set(testGroup, true)

	f.handle(imageMsg(7, "检测", "conf:0.9", "conf:0.1", "conf:0.85"))

	replies := f.host.of("reply")
	require.Len(t, replies, 1)
	r := replies[0].Reply
	assert.True(t, r.Quote)
	require.Len(t, r.Images(), 2)
	assert.Equal(t, "不准发奶龙哦，再发打你👊\n相似度：0.90\n相似度：0.85", r.Text())

	// text and images interleave in message order
	require.Len(t, r.Segments, 5)
	assert.Equal(t, r.Images()[0], r.Segments[2].Image)

	assert.Empty(t, f.host.of("mute"))
	assert.Equal(t, 0, f.ledger.Len())
	assert.Empty(t, f.pub.types())
	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpRun, ModeAnnotate.String()))

	// the artifacts are removed after the grace period
	assert.Eventually(t, func() bool {
		entries, err := afero.ReadDir(f.fs, artDir)
		return err == nil && len(entries) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCheckWithoutQualifyingImageLeavesNoFiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.handle(imageMsg(7, "检测", "conf:0.2"))

	assert.Empty(t, f.host.all())
	entries, err := afero.ReadDir(f.fs, artDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdminToggleEnablesModeration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	admin := Message{ID: 1, GroupID: testGroup, UserID: testAdmin, Text: ".nailostart"}

	// non-admin start is ignored
	f.handle(Message{ID: 2, GroupID: testGroup, UserID: testUser, Text: ".nailostart"})
	assert.False(t, f.whitelist.Enabled(testGroup))
	assert.Empty(t, f.host.all())

	f.handle(admin)
	assert.True(t, f.whitelist.Enabled(testGroup))
	replies := f.host.of("reply")
	require.Len(t, replies, 1)
	assert.Equal(t, "start-msg", replies[0].Reply.Text())

	f.handle(imageMsg(3, "", "conf:0.9"))
	assert.Len(t, f.host.of("reply"), 2)

	admin.Text = ".nailostop"
	f.handle(admin)
	assert.False(t, f.whitelist.Enabled(testGroup))
	assert.Equal(t, "stop-msg", f.host.of("reply")[2].Reply.Text())

	f.handle(imageMsg(4, "", "conf:0.9"))
	assert.Len(t, f.host.of("reply"), 3, "moderation is off again")

	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpCommand, commandStart))
	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpCommand, commandStop))
	assert.Contains(t, f.pub.types(), moderation.EventWhitelist)
}

func TestReportCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.handle(imageMsg(1, "我的奶龙"))
	replies := f.host.of("reply")
	require.Len(t, replies, 1)
	assert.Equal(t, moderation.ReportEmpty, replies[0].Reply.Text())

	f.ledger.Trigger(testUser, testGroup, f.clock())
	f.handle(imageMsg(2, "我的奶龙"))
	assert.Equal(t, "你在本群发送奶龙的次数为: 1\n你的总发送次数为: 1", f.host.of("reply")[1].Reply.Text())
	assert.Equal(t, 1, f.ledger.Len(), "report does not create records")
}

func TestHostFailuresAreCounted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.host.failAll = true
	f.whitelist.Set(testGroup, true)

	f.handle(imageMsg(1, "", "conf:0.9"))

	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpReply, metrics.StatusError))
	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpDelete, metrics.StatusError))
	rec, _ := f.ledger.Lookup(testUser)
	assert.Equal(t, uint64(1), rec.TotalTimes, "counting does not depend on host results")
}

func TestConcurrentOffensesMuteAllButFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.whitelist.Set(testGroup, true)

	const messages = 10
	var wg sync.WaitGroup
	for i := range messages {
		wg.Go(func() {
			f.d.Handle(context.Background(), imageMsg(int64(i+1), "", "conf:0.9"))
		})
	}
	wg.Wait()
	f.d.wg.Wait()

	assert.Len(t, f.host.of("mute"), messages-1)
	rec, _ := f.ledger.Lookup(testUser)
	assert.Equal(t, uint64(messages), rec.TotalTimes)
	assert.True(t, rec.Consistent())
}

func TestShutdownDropsLateMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.DeleteDelay = time.Hour })
	f.whitelist.Set(testGroup, true)

	f.d.Handle(context.Background(), imageMsg(1, "", "conf:0.9"))

	// the handler is parked in the delete delay; shutdown cuts it short
	start := time.Now()
	require.NoError(t, f.d.Shutdown(5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, f.host.of("delete"), 1)

	f.d.Handle(context.Background(), imageMsg(2, "", "conf:0.9"))
	f.d.wg.Wait()
	assert.Len(t, f.host.of("reply"), 1)
	require.NoError(t, f.d.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestHandleIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.whitelist.Set(testGroup, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.d.Handle(ctx, imageMsg(1, "", "conf:0.9"))
	f.d.wg.Wait()

	assert.Len(t, f.host.of("reply"), 1)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), Deps{})
	require.Error(t, err)
}
