package artifact

import (
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/nailong-guard/internal/imagecodec"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const tmpDir = "/data/tmp"

var fixedNow = time.Date(2024, 5, 1, 12, 30, 45, 0, time.Local)

func newTestManager(t *testing.T, grace time.Duration, opts ...Option) (*Manager, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	m, err := NewManager(fs, tmpDir, grace, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, fs
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func listFiles(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestRunWriteNamesAndEncodesPNG(t *testing.T) {
	t.Parallel()

	m, fs := newTestManager(t, time.Hour)
	run := m.NewRun("run-1")

	p0, err := run.Write(testImage())
	require.NoError(t, err)
	p1, err := run.Write(testImage())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "2024-05-01-12-30-45-0-output.png"), p0)
	assert.Equal(t, filepath.Join(tmpDir, "2024-05-01-12-30-45-1-output.png"), p1)
	assert.Equal(t, []string{p0, p1}, run.Paths())

	data, err := afero.ReadFile(fs, p0)
	require.NoError(t, err)
	format, err := imagecodec.GuessFormat(data)
	require.NoError(t, err)
	assert.Equal(t, imagecodec.FormatPNG, format)
}

func TestConcurrentRunsNeverShareAPath(t *testing.T) {
	t.Parallel()

	m, fs := newTestManager(t, time.Hour)

	const runs = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = map[string]bool{}
	)
	for i := range runs {
		wg.Go(func() {
			run := m.NewRun(string(rune('a' + i)))
			p, err := run.Write(testImage())
			assert.NoError(t, err)
			mu.Lock()
			paths[p] = true
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.Len(t, paths, runs)
	assert.Len(t, listFiles(t, fs, tmpDir), runs)
}

func TestDiscardRemovesImmediately(t *testing.T) {
	t.Parallel()

	rec := metrics.NewTestRecorder()
	m, fs := newTestManager(t, time.Hour, WithRecorder(rec))
	run := m.NewRun("run-1")

	_, err := run.Write(testImage())
	require.NoError(t, err)
	run.Discard()
	run.Discard()

	assert.Empty(t, listFiles(t, fs, tmpDir))
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpArtifactCreate, metrics.StatusSuccess))
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpArtifactDelete, metrics.StatusSuccess))
}

func TestEmptyRunLeavesNoFiles(t *testing.T) {
	t.Parallel()

	m, fs := newTestManager(t, time.Hour)
	run := m.NewRun("nothing-qualified")
	run.Discard()

	assert.Empty(t, listFiles(t, fs, tmpDir))
	assert.Empty(t, run.Paths())
}

func TestReleaseDeletesAfterGrace(t *testing.T) {
	t.Parallel()

	m, fs := newTestManager(t, 20*time.Millisecond)
	run := m.NewRun("run-1")
	_, err := run.Write(testImage())
	require.NoError(t, err)

	run.Release()
	assert.Len(t, listFiles(t, fs, tmpDir), 1, "file stays during the grace period")

	assert.Eventually(t, func() bool {
		return len(listFiles(t, fs, tmpDir)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestWriteAfterFinishIsRejected(t *testing.T) {
	t.Parallel()

	m, fs := newTestManager(t, time.Hour)
	run := m.NewRun("run-1")
	run.Discard()

	_, err := run.Write(testImage())
	require.Error(t, err)
	assert.Empty(t, listFiles(t, fs, tmpDir))
}

func TestCloseCutsGraceShortAndSweeps(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	m, err := NewManager(fs, tmpDir, time.Hour)
	require.NoError(t, err)

	run := m.NewRun("run-1")
	_, err = run.Write(testImage())
	require.NoError(t, err)
	run.Release()

	require.NoError(t, afero.WriteFile(fs, filepath.Join(tmpDir, "leftover.png"), []byte("x"), 0o644))
	require.NoError(t, fs.MkdirAll(filepath.Join(tmpDir, "keep"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(tmpDir, "keep", "inner.png"), []byte("x"), 0o644))

	done := make(chan struct{})
	go func() {
		_ = m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close waited for the grace period")
	}

	assert.Empty(t, listFiles(t, fs, tmpDir))
	isDir, err := afero.IsDir(fs, filepath.Join(tmpDir, "keep"))
	require.NoError(t, err)
	assert.True(t, isDir, "subdirectories are left alone")
	assert.Equal(t, []string{"inner.png"}, listFiles(t, fs, filepath.Join(tmpDir, "keep")))

	require.NoError(t, m.Close(), "close is idempotent")

	// releases after close delete at once
	run2 := m.NewRun("run-2")
	_, err = run2.Write(testImage())
	require.NoError(t, err)
	run2.Release()
	assert.Empty(t, listFiles(t, fs, tmpDir))
}

func TestSweepCountsFiles(t *testing.T) {
	t.Parallel()

	rec := metrics.NewTestRecorder()
	m, fs := newTestManager(t, time.Hour, WithRecorder(rec))
	for _, name := range []string{"a.png", "b.png", "c.txt"} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(tmpDir, name), []byte("x"), 0o644))
	}

	assert.Equal(t, 3, m.Sweep())
	assert.Equal(t, 0, m.Sweep())
	assert.Equal(t, 3, rec.GetOperationCount(metrics.OpArtifactSweep, metrics.StatusSuccess))
}
