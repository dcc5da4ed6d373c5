package moderation

import (
	"maps"
	"sync"
)

// Whitelist maps group ids to the auto-moderation switch. A group without an
// entry is disabled. Readers never block each other.
type Whitelist struct {
	mu     sync.RWMutex
	groups map[int64]bool
	dirty  bool
}

// NewWhitelist creates a whitelist seeded with a copy of groups.
func NewWhitelist(groups map[int64]bool) *Whitelist {
	w := &Whitelist{groups: maps.Clone(groups)}
	if w.groups == nil {
		w.groups = make(map[int64]bool)
	}
	return w
}

// Enabled reports whether auto-moderation is on for group.
func (w *Whitelist) Enabled(group int64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.groups[group]
}

// Set switches auto-moderation for group and reports whether the value changed.
func (w *Whitelist) Set(group int64, enabled bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, ok := w.groups[group]
	w.groups[group] = enabled
	changed := !ok || prev != enabled
	if changed {
		w.dirty = true
	}
	return changed
}

// Snapshot returns a copy of all entries, including disabled ones.
func (w *Whitelist) Snapshot() map[int64]bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.groups)
}

// Dirty reports whether entries changed since the last MarkClean.
func (w *Whitelist) Dirty() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dirty
}

// MarkClean clears the dirty flag after a successful save.
func (w *Whitelist) MarkClean() {
	w.mu.Lock()
	w.dirty = false
	w.mu.Unlock()
}

// TakeDirty returns a snapshot and clears the dirty flag in one step when
// entries changed since the last save.
func (w *Whitelist) TakeDirty() (map[int64]bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty {
		return nil, false
	}
	w.dirty = false
	return maps.Clone(w.groups), true
}

// MarkDirty flags the entries as unsaved.
func (w *Whitelist) MarkDirty() {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
}
