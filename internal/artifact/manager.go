// Package artifact owns the annotated images written to the temporary
// directory. Files are tracked per run and removed once the host had time
// to send them, and anything left over is swept at shutdown.
package artifact

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/imagecodec"
	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// DefaultGrace is the wait between releasing a run and deleting its files.
const DefaultGrace = 10 * time.Second

// timestampLayout names files by local creation time, second resolution.
const timestampLayout = "2006-01-02-15-04-05"

// maxNameAttempts bounds the search for a free file name.
const maxNameAttempts = 100

var errRunFinished = errors.NewStd("artifact run already finished")

// Manager creates artifact files under a single directory and deletes them.
type Manager struct {
	fs       afero.Fs
	dir      string
	grace    time.Duration
	recorder metrics.Recorder
	now      func() time.Time

	mu      sync.Mutex
	closed  bool
	stop    chan struct{}
	pending sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder reports file operations to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates dir on fs if needed. A negative grace means DefaultGrace.
func NewManager(fs afero.Fs, dir string, grace time.Duration, opts ...Option) (*Manager, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if grace < 0 {
		grace = DefaultGrace
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, ioError(err, "resolve", dir)
	}
	if err := fs.MkdirAll(abs, 0o755); err != nil {
		return nil, ioError(err, "mkdir", abs)
	}

	m := &Manager{
		fs:       fs,
		dir:      abs,
		grace:    grace,
		recorder: metrics.NewNoOpRecorder(),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the absolute artifact directory.
func (m *Manager) Dir() string {
	return m.dir
}

// NewRun starts tracking files for one handled message.
func (m *Manager) NewRun(id string) *Run {
	return &Run{m: m, id: id}
}

// create writes img to a new file named after the current time and index.
// The file is opened with O_EXCL so concurrent runs never share a path.
func (m *Manager) create(img image.Image, index int) (string, error) {
	stamp := m.now().Format(timestampLayout)

	var (
		f    afero.File
		path string
		err  error
	)
	for attempt := range maxNameAttempts {
		name := fmt.Sprintf("%s-%d-output.png", stamp, index)
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d-%d-output.png", stamp, index, attempt)
		}
		path = filepath.Join(m.dir, name)
		f, err = m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil || !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		err = ioError(err, "create", path)
		m.recordError(metrics.OpArtifactCreate, err)
		return "", err
	}

	if err := imagecodec.EncodePNG(f, img); err != nil {
		_ = f.Close()
		_ = m.fs.Remove(path)
		m.recordError(metrics.OpArtifactCreate, err)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = m.fs.Remove(path)
		err = ioError(err, "close", path)
		m.recordError(metrics.OpArtifactCreate, err)
		return "", err
	}

	m.recorder.RecordOperation(metrics.OpArtifactCreate, metrics.StatusSuccess)
	return path, nil
}

// remove deletes a tracked file. Failures are logged and counted, never returned.
func (m *Manager) remove(path, runID string) {
	err := m.fs.Remove(path)
	switch {
	case err == nil:
		m.recorder.RecordOperation(metrics.OpArtifactDelete, metrics.StatusSuccess)
	case errors.Is(err, os.ErrNotExist):
		GetLogger().Warn("artifact already removed",
			logger.String("path", path),
			logger.String("run_id", runID))
		m.recorder.RecordOperation(metrics.OpArtifactDelete, metrics.StatusMiss)
	default:
		GetLogger().Error("failed to delete artifact",
			logger.String("path", path),
			logger.String("run_id", runID),
			logger.Error(err))
		m.recordError(metrics.OpArtifactDelete, ioError(err, "delete", path))
	}
}

// schedule deletes paths after the grace period, or at once when the
// manager is closed first.
func (m *Manager) schedule(paths []string, runID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		for _, p := range paths {
			m.remove(p, runID)
		}
		return
	}
	m.pending.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.pending.Done()

		timer := time.NewTimer(m.grace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-m.stop:
		}
		for _, p := range paths {
			m.remove(p, runID)
		}
	}()
}

// Sweep deletes every regular file directly inside the artifact directory,
// tracked or not. Subdirectories are left alone. It returns the number of
// files removed; individual failures are logged and skipped.
func (m *Manager) Sweep() int {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		GetLogger().Error("failed to list artifact directory",
			logger.String("dir", m.dir),
			logger.Error(err))
		m.recordError(metrics.OpArtifactSweep, ioError(err, "list", m.dir))
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		if err := m.fs.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				GetLogger().Warn("failed to sweep artifact",
					logger.String("path", path),
					logger.Error(err))
				m.recordError(metrics.OpArtifactSweep, ioError(err, "sweep", path))
			}
			continue
		}
		removed++
		m.recorder.RecordOperation(metrics.OpArtifactSweep, metrics.StatusSuccess)
	}

	if removed > 0 {
		GetLogger().Info("artifact directory swept",
			logger.String("dir", m.dir),
			logger.Int("removed", removed))
	}
	return removed
}

// Close cuts every pending grace period short, waits for those deletions
// and then sweeps the directory. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	m.mu.Unlock()

	m.pending.Wait()
	m.Sweep()
	return nil
}

func (m *Manager) recordError(op string, err error) {
	m.recorder.RecordOperation(op, metrics.StatusError)
	m.recorder.RecordError(op, string(errors.CategoryOf(err)))
}

// ioError marks err as an artifact I/O failure.
func ioError(err error, op, path string) error {
	return errors.New(err).
		Component("artifact").
		Category(errors.CategoryArtifactIO).
		Context("operation", op).
		Context("path", path).
		Build()
}
