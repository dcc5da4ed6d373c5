// Package moderation holds the per-user offense ledger, the per-group
// whitelist and the events emitted when a user is caught.
package moderation

import "maps"

// Record is the offense history of a single user. The JSON layout matches
// user_info.json written by earlier deployments.
type Record struct {
	TotalTimes  uint64           `json:"total_times"`
	GroupTimes  map[int64]uint64 `json:"group_total_times"`
	LastTrigger map[int64]int64  `json:"last_timestamp"` // unix seconds per group
}

// NewRecord returns an empty record with initialized maps.
func NewRecord() *Record {
	return &Record{
		GroupTimes:  make(map[int64]uint64),
		LastTrigger: make(map[int64]int64),
	}
}

// apply counts one offense in group at unix second ts.
func (r *Record) apply(group, ts int64) {
	r.TotalTimes++
	r.GroupTimes[group]++
	r.LastTrigger[group] = ts
}

// Clone returns a deep copy of r.
func (r *Record) Clone() Record {
	out := Record{
		TotalTimes:  r.TotalTimes,
		GroupTimes:  maps.Clone(r.GroupTimes),
		LastTrigger: maps.Clone(r.LastTrigger),
	}
	if out.GroupTimes == nil {
		out.GroupTimes = make(map[int64]uint64)
	}
	if out.LastTrigger == nil {
		out.LastTrigger = make(map[int64]int64)
	}
	return out
}

// Consistent reports whether TotalTimes equals the sum of the per-group counters.
func (r *Record) Consistent() bool {
	var sum uint64
	for _, n := range r.GroupTimes {
		sum += n
	}
	return sum == r.TotalTimes
}

// normalize makes a record loaded from storage usable. A total that
// disagrees with the group counters is recomputed from them.
func (r *Record) normalize() (fixed bool) {
	if r.GroupTimes == nil {
		r.GroupTimes = make(map[int64]uint64)
	}
	if r.LastTrigger == nil {
		r.LastTrigger = make(map[int64]int64)
	}
	if r.Consistent() {
		return false
	}
	var sum uint64
	for _, n := range r.GroupTimes {
		sum += n
	}
	r.TotalTimes = sum
	return true
}
