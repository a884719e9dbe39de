// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package ranges

import (
	"cmp"
	"slices"
)

// Range is a half-open interval [Start, End).
type Range[T cmp.Ordered] struct {
	Start T
	End   T
}

func (r Range[T]) IsEmpty() bool {
	return r.End <= r.Start
}

// Fragment is a subrange produced by SplitOverlapping, tagged with whether
// it is covered by the set.
type Fragment[T cmp.Ordered] struct {
	Range[T]
	Covered bool
}

// Set is a collection of non-overlapping ranges.
// Invariant: s.ranges is sorted and pairwise disjoint.
type Set[T cmp.Ordered] struct {
	ranges []Range[T]
}

func New[T cmp.Ordered](ranges ...Range[T]) *Set[T] {
	s := &Set[T]{}
	for _, r := range ranges {
		s.Insert(r)
	}
	return s
}

func (s *Set[T]) Len() int {
	return len(s.ranges)
}

// Ranges returns the stored ranges in ascending order. The slice is shared
// with the set and must not be mutated.
func (s *Set[T]) Ranges() []Range[T] {
	return s.ranges
}

// Insert adds r to the set at the correct position, merging it with the
// stored ranges it overlaps or touches.
func (s *Set[T]) Insert(r Range[T]) {
	first := s.firstMergeCandidate(r)

	// every stored range ends before r starts, so we can simply append it
	if first == len(s.ranges) {
		s.ranges = append(s.ranges, r)
		return
	}

	overlapEnd := first
	for overlapEnd < len(s.ranges) && s.ranges[overlapEnd].Start <= r.End {
		overlapEnd++
	}

	// no stored range overlaps r, insert it as-is
	if overlapEnd == first {
		s.ranges = slices.Insert(s.ranges, first, r)
		return
	}

	// one or more stored ranges overlap r, merge them into one
	merged := Range[T]{
		Start: min(s.ranges[first].Start, r.Start),
		End:   max(s.ranges[overlapEnd-1].End, r.End),
	}
	s.ranges[first] = merged
	s.ranges = slices.Delete(s.ranges, first+1, overlapEnd)
}

// NextNotCovered returns the first range of non-covered values starting at
// or after x. When no stored range lies at or beyond the gap, bounded is
// false and the returned range's End is meaningless.
func (s *Set[T]) NextNotCovered(x T) (gap Range[T], bounded bool) {
	for {
		idx := s.firstOverlapCandidate(x)
		if idx == len(s.ranges) {
			return Range[T]{Start: x}, false
		}
		candidate := s.ranges[idx]
		if candidate.Start > x {
			return Range[T]{Start: x, End: candidate.Start}, true
		}
		x = candidate.End
	}
}

// Covers reports whether v lies inside one of the stored ranges.
func (s *Set[T]) Covers(v T) bool {
	idx := s.firstOverlapCandidate(v)
	return idx < len(s.ranges) && s.ranges[idx].Start <= v
}

// SplitOverlapping partitions r into an ordered sequence of fragments such
// that each fragment either lies entirely inside a stored range (Covered) or
// entirely outside all of them.
func (s *Set[T]) SplitOverlapping(r Range[T]) []Fragment[T] {
	remaining := r
	idx := s.firstOverlapCandidate(remaining.Start)
	var result []Fragment[T]

	for !remaining.IsEmpty() && idx < len(s.ranges) {
		candidate := s.ranges[idx]
		if candidate.Start > remaining.Start {
			// the first fragment of remaining is non-overlapping
			sub := Range[T]{Start: remaining.Start, End: min(candidate.Start, remaining.End)}
			remaining.Start = sub.End
			result = append(result, Fragment[T]{Range: sub, Covered: false})
			// no overlapping fragment handled yet, the candidate stays
		} else {
			// the first fragment of remaining is overlapping
			sub := Range[T]{Start: remaining.Start, End: min(candidate.End, remaining.End)}
			remaining.Start = sub.End
			result = append(result, Fragment[T]{Range: sub, Covered: true})
			idx++
		}
	}

	if !remaining.IsEmpty() {
		result = append(result, Fragment[T]{Range: remaining, Covered: false})
	}
	return result
}

// firstMergeCandidate returns the index of the first stored range ending at
// or after r.Start, or len(s.ranges) if there is none.
func (s *Set[T]) firstMergeCandidate(r Range[T]) int {
	idx, _ := slices.BinarySearchFunc(s.ranges, r.Start, func(candidate Range[T], start T) int {
		return cmp.Compare(candidate.End, start)
	})
	return idx
}

// firstOverlapCandidate returns the index of the first stored range ending
// after x, or len(s.ranges) if there is none.
func (s *Set[T]) firstOverlapCandidate(x T) int {
	idx, found := slices.BinarySearchFunc(s.ranges, x, func(candidate Range[T], start T) int {
		return cmp.Compare(candidate.End, start)
	})
	if found {
		// the matched range ends exactly at x, so it cannot cover x
		return idx + 1
	}
	return idx
}
