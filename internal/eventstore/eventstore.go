// Package eventstore is the append-only typed event buffer the correlation
// engine reads from: events are kept sorted by timestamp per type, with
// near-duplicate suppression applied at insertion time using the
// per-type tolerance in model.EventType.DedupWindow.
package eventstore

import (
	"sort"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

// Store holds every accepted Event, indexed both as one chronological
// slice and as per-type slices for binary-search lookups.
type Store struct {
	all     []model.Event
	byType  map[model.EventType][]model.Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{byType: map[model.EventType][]model.Event{}}
}

// Add inserts e, keeping e.Type's slice sorted by TS, unless an existing
// event of the same type exists within DedupWindow of e.TS — in which case
// e is dropped. Returns true if e was kept.
func (s *Store) Add(e model.Event) bool {
	window := e.Type.DedupWindow()
	bucket := s.byType[e.Type]

	// Find insertion point (sorted by TS).
	idx := sort.Search(len(bucket), func(i int) bool { return !bucket[i].TS.Before(e.TS) })

	if window > 0 {
		// Check neighbors on both sides of the insertion point.
		if idx > 0 && e.TS.Sub(bucket[idx-1].TS) < window {
			return false
		}
		if idx < len(bucket) && bucket[idx].TS.Sub(e.TS) < window {
			return false
		}
	}

	grown := make([]model.Event, len(bucket)+1)
	copy(grown, bucket[:idx])
	grown[idx] = e
	copy(grown[idx+1:], bucket[idx:])
	s.byType[e.Type] = grown

	s.all = append(s.all, e)
	sort.Slice(s.all, func(i, j int) bool { return s.all[i].TS.Before(s.all[j].TS) })
	return true
}

// All returns every kept event, sorted by TS.
func (s *Store) All() []model.Event {
	return s.all
}

// ByType returns the sorted slice of events of the given type (nil if
// none). Callers must not mutate the returned slice.
func (s *Store) ByType(t model.EventType) []model.Event {
	return s.byType[t]
}

// Timestamps returns the sorted TS values for a type, for use with the
// stats package's binary-search helpers.
func (s *Store) Timestamps(t model.EventType) []time.Time {
	bucket := s.byType[t]
	out := make([]time.Time, len(bucket))
	for i, e := range bucket {
		out[i] = e.TS
	}
	return out
}

// Count returns the number of kept events of a given type.
func (s *Store) Count(t model.EventType) int {
	return len(s.byType[t])
}

// Types returns every EventType that has at least one kept event.
func (s *Store) Types() []model.EventType {
	out := make([]model.EventType, 0, len(s.byType))
	for t := range s.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
