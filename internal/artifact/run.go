package artifact

import (
	"image"
	"slices"
	"sync"
)

// Run tracks the artifact files of one handled message. A run is finished
// with exactly one of Release or Discard; later calls are no-ops.
type Run struct {
	m  *Manager
	id string

	mu       sync.Mutex
	paths    []string
	next     int
	finished bool
}

// ID returns the run id given to NewRun.
func (r *Run) ID() string {
	return r.id
}

// Write stores img as the next artifact of the run and returns its path.
func (r *Run) Write(img image.Image) (string, error) {
	r.mu.Lock()
	index := r.next
	r.next++
	r.mu.Unlock()

	path, err := r.m.create(img, index)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		// run ended while the file was being written
		r.m.remove(path, r.id)
		return "", ioError(errRunFinished, "create", path)
	}
	r.paths = append(r.paths, path)
	return path, nil
}

// Paths returns the files written so far.
func (r *Run) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.paths)
}

// Release schedules the run's files for deletion after the grace period.
func (r *Run) Release() {
	if paths, ok := r.finish(); ok && len(paths) > 0 {
		r.m.schedule(paths, r.id)
	}
}

// Discard deletes the run's files immediately.
func (r *Run) Discard() {
	paths, ok := r.finish()
	if !ok {
		return
	}
	for _, p := range paths {
		r.m.remove(p, r.id)
	}
}

func (r *Run) finish() ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil, false
	}
	r.finished = true
	paths := r.paths
	r.paths = nil
	return paths, true
}
