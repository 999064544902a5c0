// Package interval provides an ordered map from disjoint closed-open time
// ranges to values. Every agent's schedule is indexed by one Store.
package interval

import (
	"errors"
	"fmt"
	"iter"
	"sort"
)

var (
	// ErrRangeConflict is returned when an insert would overlap an existing
	// range or the range itself is empty or inverted.
	ErrRangeConflict = errors.New("interval: range conflict")

	// ErrKeyNotFound is returned when no stored range contains the key.
	ErrKeyNotFound = errors.New("interval: key not found")
)

// Range is the closed-open interval [Start, End) in unix seconds.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether point lies in [Start, End).
func (r Range) Contains(point int64) bool {
	return r.Start <= point && point < r.End
}

// Overlaps reports whether the two ranges share at least one second.
// Adjacent ranges (a.End == b.Start) do not overlap.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Empty reports whether the range covers no time.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

type entry[V any] struct {
	rng   Range
	value V
}

// Store keeps values keyed by pairwise disjoint ranges, sorted by start.
// It is not safe for concurrent use; each Store has a single owner.
type Store[V any] struct {
	entries []entry[V]
}

// New returns an empty store.
func New[V any]() *Store[V] {
	return &Store[V]{}
}

// Len returns the number of stored ranges.
func (s *Store[V]) Len() int {
	return len(s.entries)
}

// search returns the index of the first entry whose End is greater than point.
func (s *Store[V]) search(point int64) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].rng.End > point
	})
}

// Insert stores value under r. Empty, inverted and overlapping ranges are
// rejected with ErrRangeConflict and leave the store unchanged.
func (s *Store[V]) Insert(r Range, value V) error {
	if r.Empty() {
		return fmt.Errorf("%w: %s is empty", ErrRangeConflict, r)
	}

	i := s.search(r.Start)
	if i < len(s.entries) && s.entries[i].rng.Overlaps(r) {
		return fmt.Errorf("%w: %s overlaps %s", ErrRangeConflict, r, s.entries[i].rng)
	}

	s.entries = append(s.entries, entry[V]{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = entry[V]{rng: r, value: value}
	return nil
}

// Lookup returns the value whose range contains point.
func (s *Store[V]) Lookup(point int64) (V, Range, error) {
	i := s.search(point)
	if i < len(s.entries) && s.entries[i].rng.Contains(point) {
		return s.entries[i].value, s.entries[i].rng, nil
	}
	var zero V
	return zero, Range{}, fmt.Errorf("%w: %d", ErrKeyNotFound, point)
}

// Delete removes the range containing point.
func (s *Store[V]) Delete(point int64) error {
	i := s.search(point)
	if i >= len(s.entries) || !s.entries[i].rng.Contains(point) {
		return fmt.Errorf("%w: %d", ErrKeyNotFound, point)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return nil
}

// DeleteRange removes every stored range intersecting r and returns how
// many were removed.
func (s *Store[V]) DeleteRange(r Range) int {
	if r.Empty() {
		return 0
	}
	lo := s.search(r.Start)
	hi := lo
	for hi < len(s.entries) && s.entries[hi].rng.Start < r.End {
		hi++
	}
	s.entries = append(s.entries[:lo], s.entries[hi:]...)
	return hi - lo
}

// QueryRange returns the values of all ranges intersecting [start, end),
// in ascending start order.
func (s *Store[V]) QueryRange(start, end int64) []V {
	if end <= start {
		return nil
	}
	var out []V
	for i := s.search(start); i < len(s.entries) && s.entries[i].rng.Start < end; i++ {
		out = append(out, s.entries[i].value)
	}
	return out
}

// Bounds returns the start of the first range and the end of the last one.
func (s *Store[V]) Bounds() (Range, bool) {
	if len(s.entries) == 0 {
		return Range{}, false
	}
	return Range{Start: s.entries[0].rng.Start, End: s.entries[len(s.entries)-1].rng.End}, true
}

// Ranges returns a copy of all stored ranges in order.
func (s *Store[V]) Ranges() []Range {
	out := make([]Range, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.rng
	}
	return out
}

// All iterates over every stored range and value in ascending order.
func (s *Store[V]) All() iter.Seq2[Range, V] {
	return func(yield func(Range, V) bool) {
		for _, e := range s.entries {
			if !yield(e.rng, e.value) {
				return
			}
		}
	}
}

// Clear removes everything.
func (s *Store[V]) Clear() {
	s.entries = nil
}
