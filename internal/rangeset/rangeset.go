// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package rangeset implements the progress ledger: a sorted, coalescing set
// of half-open byte ranges used to track which parts of a download have
// already been written and which remain.
package rangeset

import (
	"fmt"
	"sort"
)

// Range is a half-open interval [Start, End) of byte offsets.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by r.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Valid reports whether Start < End, as required of any Range placed in a Set.
func (r Range) Valid() bool {
	return r.Start < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Set is an ordered sequence of non-overlapping, non-adjacent ranges sorted
// by Start. For any two consecutive entries a, b: a.End < b.Start.
//
// The zero value is an empty set ready to use.
type Set struct {
	entries []Range
}

// New builds a Set from zero or more ranges, merging as it goes.
func New(ranges ...Range) *Set {
	s := &Set{}
	for _, r := range ranges {
		s.Merge(r)
	}
	return s
}

// Entries returns the set's ranges in sorted order. The returned slice must
// not be mutated by the caller.
func (s *Set) Entries() []Range {
	return s.entries
}

// Total returns the sum of (End - Start) across all entries.
func (s *Set) Total() uint64 {
	var total uint64
	for _, e := range s.entries {
		total += e.Len()
	}
	return total
}

// Clone returns a deep copy of s.
func (s *Set) Clone() *Set {
	out := &Set{entries: make([]Range, len(s.entries))}
	copy(out.entries, s.entries)
	return out
}

// Merge absorbs r into the set, coalescing any touching or overlapping
// neighbors. A no-op if r is empty (Start >= End).
func (s *Set) Merge(r Range) {
	if !r.Valid() {
		return
	}

	// Binary search for the first entry whose End is >= r.Start; everything
	// before that cannot touch r.
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].End >= r.Start
	})

	j := i
	merged := r
	for j < len(s.entries) && s.entries[j].Start <= merged.End {
		if s.entries[j].Start < merged.Start {
			merged.Start = s.entries[j].Start
		}
		if s.entries[j].End > merged.End {
			merged.End = s.entries[j].End
		}
		j++
	}

	// Replace entries[i:j] with the single merged range.
	tail := append([]Range{}, s.entries[j:]...)
	s.entries = append(s.entries[:i], merged)
	s.entries = append(s.entries, tail...)
}

// Contains reports whether the entire range r is already covered.
func (s *Set) Contains(r Range) bool {
	if !r.Valid() {
		return true
	}
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].End >= r.End
	})
	if i == len(s.entries) {
		return false
	}
	return s.entries[i].Start <= r.Start
}

// Invert computes the complement of s within [0, total), welding any
// complement gap shorter than minGap onto the next complement gap to its
// right (the covered run between them is included in the welded range). A
// short gap with no later complement gap to weld onto is dropped.
//
// This prevents a near-complete resume from generating a flood of
// kilobyte-scale chunks: short gaps are folded into an adjacent request
// instead of becoming requests of their own.
func Invert(s *Set, total uint64, minGap uint64) *Set {
	out := &Set{}
	if total == 0 {
		return out
	}

	cursor := uint64(0)
	var pendingWeld *Range // a too-short gap waiting to be welded onto the next covered run

	flushGap := func(gapStart, gapEnd uint64) {
		if gapEnd <= gapStart {
			return
		}
		if pendingWeld != nil {
			// Absorb this gap (and the covered run between it and the
			// pending one) into the pending weld, rather than overwriting
			// it — two short gaps in a row must not silently drop the
			// first one's bytes from the remaining work.
			gapStart = pendingWeld.Start
			pendingWeld = nil
		}
		if gapEnd-gapStart < minGap {
			pendingWeld = &Range{Start: gapStart, End: gapEnd}
			return
		}
		out.entries = append(out.entries, Range{Start: gapStart, End: gapEnd})
	}

	for _, e := range s.entries {
		if e.Start > cursor {
			flushGap(cursor, e.Start)
		}
		if e.End > cursor {
			cursor = e.End
		}
	}
	if cursor < total {
		flushGap(cursor, total)
	}

	// A pending short gap with no neighbor to weld onto (it was the very
	// last thing and never got flushed against a following entry) is
	// dropped, as the spec requires.
	return out
}
