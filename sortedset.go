package corestore

import "github.com/google/btree"

// SortedSet is a generic ordered set used for the sorted_set<value> and
// sorted_set<position> results spec §3/§4.2 describe, where the
// element type isn't a plain uint64 and so can't ride on RecordSet's
// Roaring bitmap. Backed by google/btree (already pulled in by
// internal/collection.IncrementalSortMap), which gives ordered
// iteration without hand-rolling a skip list.
type SortedSet[T any] struct {
	tree *btree.BTreeG[T]
}

// NewSortedSet returns an empty SortedSet ordered by less.
func NewSortedSet[T any](less func(a, b T) bool) *SortedSet[T] {
	return &SortedSet[T]{tree: btree.NewG(32, less)}
}

// Add inserts v, replacing any existing equal element.
func (s *SortedSet[T]) Add(v T) {
	s.tree.ReplaceOrInsert(v)
}

// Len returns the set's cardinality.
func (s *SortedSet[T]) Len() int {
	return s.tree.Len()
}

// Slice returns every member in ascending order.
func (s *SortedSet[T]) Slice() []T {
	out := make([]T, 0, s.tree.Len())
	s.tree.Ascend(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

func valueLess(a, b Value) bool { return a.Compare(b) < 0 }

func positionLess(a, b Position) bool { return a.Compare(b) < 0 }

// NewValueSet returns an empty sorted set of Values, ordered per
// spec §3's weak Value.Compare.
func NewValueSet() *SortedSet[Value] { return NewSortedSet(valueLess) }

// NewPositionSet returns an empty sorted set of Positions.
func NewPositionSet() *SortedSet[Position] { return NewSortedSet(positionLess) }
