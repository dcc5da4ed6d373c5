package moderation

import (
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// Trigger decisions, also used as metric statuses.
const (
	DecisionEscalate = "escalate"
	DecisionRecord   = "record"
)

// Counter report texts.
const (
	ReportFormat = "你在本群发送奶龙的次数为: %d\n你的总发送次数为: %d"
	ReportEmpty  = "你还没有发送过奶龙哦~"
)

// Decision is the outcome of a single Trigger call.
type Decision struct {
	UserID     int64
	GroupID    int64
	Escalate   bool  // the user offended again inside the cooldown window
	Elapsed    int64 // seconds since the previous offense in this group, -1 for a first offense
	TotalTimes uint64
	GroupTimes uint64
	Timestamp  int64
}

// Ledger keeps one Record per user. All access goes through a single mutex so
// the cooldown check and the counter update of a trigger are one atomic step.
type Ledger struct {
	mu       sync.Mutex
	records  map[int64]*Record
	cooldown int64 // seconds
	dirty    bool
	recorder metrics.Recorder
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithRecorder reports trigger decisions to r.
func WithRecorder(r metrics.Recorder) LedgerOption {
	return func(l *Ledger) {
		if r != nil {
			l.recorder = r
		}
	}
}

// NewLedger creates a ledger seeded with records. The cooldown is truncated
// to whole seconds, matching the stored timestamps.
func NewLedger(cooldown time.Duration, records map[int64]Record, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		records:  make(map[int64]*Record, len(records)),
		cooldown: int64(cooldown / time.Second),
		recorder: metrics.NewNoOpRecorder(),
	}
	for _, opt := range opts {
		opt(l)
	}
	for user, rec := range records {
		r := rec.Clone()
		if r.normalize() {
			GetLogger().Warn("recomputed inconsistent total",
				logger.Int64("user_id", user),
				logger.Uint64("total_times", r.TotalTimes))
		}
		l.records[user] = &r
	}
	return l
}

// Trigger counts an offense by user in group at now and reports whether it
// escalates to a mute. An offense escalates when the previous one in the same
// group happened less than the cooldown ago; a clock that went backwards
// counts as inside the window. The counters are updated either way.
func (l *Ledger) Trigger(user, group int64, now time.Time) Decision {
	ts := now.Unix()

	l.mu.Lock()
	rec, ok := l.records[user]
	if !ok {
		rec = NewRecord()
		l.records[user] = rec
	}

	d := Decision{UserID: user, GroupID: group, Elapsed: -1, Timestamp: ts}
	if last, seen := rec.LastTrigger[group]; seen {
		d.Elapsed = ts - last
		d.Escalate = d.Elapsed < l.cooldown
	}

	rec.apply(group, ts)
	l.dirty = true
	d.TotalTimes = rec.TotalTimes
	d.GroupTimes = rec.GroupTimes[group]
	l.mu.Unlock()

	status := DecisionRecord
	if d.Escalate {
		status = DecisionEscalate
	}
	l.recorder.RecordOperation(metrics.OpTrigger, status)

	GetLogger().Debug("trigger counted",
		logger.Int64("user_id", user),
		logger.Int64("group_id", group),
		logger.Int64("elapsed", d.Elapsed),
		logger.Bool("escalate", d.Escalate),
		logger.Uint64("total_times", d.TotalTimes))

	return d
}

// Lookup returns a copy of the user's record.
func (l *Ledger) Lookup(user int64) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[user]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Report renders the counter report for user in group.
func (l *Ledger) Report(user, group int64) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[user]
	if !ok {
		return ReportEmpty
	}
	return fmt.Sprintf(ReportFormat, rec.GroupTimes[group], rec.TotalTimes)
}

// Snapshot returns a deep copy of every record.
func (l *Ledger) Snapshot() map[int64]Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[int64]Record, len(l.records))
	for user, rec := range l.records {
		out[user] = rec.Clone()
	}
	return out
}

// Dirty reports whether records changed since the last MarkClean.
func (l *Ledger) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// MarkClean clears the dirty flag after a successful save.
func (l *Ledger) MarkClean() {
	l.mu.Lock()
	l.dirty = false
	l.mu.Unlock()
}

// TakeDirty returns a snapshot and clears the dirty flag in one step when
// records changed since the last save. Callers that fail to persist the
// snapshot must call MarkDirty.
func (l *Ledger) TakeDirty() (map[int64]Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil, false
	}
	l.dirty = false
	out := make(map[int64]Record, len(l.records))
	for user, rec := range l.records {
		out[user] = rec.Clone()
	}
	return out, true
}

// MarkDirty flags the records as unsaved.
func (l *Ledger) MarkDirty() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
}

// Len returns the number of users with a record.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
