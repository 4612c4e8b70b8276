package corestore

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// RecordSet is a sorted set of record Identifiers — the sorted_set<record>
// spec §4.2's find/search/navigate/browse all return. Backed by a
// Roaring bitmap (grounded on the erigon go.mod's
// github.com/RoaringBitmap/roaring/v2, spec §11 domain stack "Index/
// Corpus posting-list storage"), which keeps union/membership cheap at
// the cardinalities a multi-segment scan can produce and iterates in
// ascending order for free.
type RecordSet struct {
	bm *roaring64.Bitmap
}

// NewRecordSet returns an empty RecordSet.
func NewRecordSet() *RecordSet {
	return &RecordSet{bm: roaring64.New()}
}

// Add inserts id.
func (s *RecordSet) Add(id Identifier) {
	s.bm.Add(uint64(id))
}

// Remove deletes id, if present.
func (s *RecordSet) Remove(id Identifier) {
	s.bm.Remove(uint64(id))
}

// Contains reports whether id is a member.
func (s *RecordSet) Contains(id Identifier) bool {
	return s.bm.Contains(uint64(id))
}

// Len returns the set's cardinality.
func (s *RecordSet) Len() int {
	return int(s.bm.GetCardinality())
}

// Union merges other's members into s.
func (s *RecordSet) Union(other *RecordSet) {
	if other == nil {
		return
	}
	s.bm.Or(other.bm)
}

// Intersect keeps only members also present in other.
func (s *RecordSet) Intersect(other *RecordSet) {
	if other == nil {
		s.bm = roaring64.New()
		return
	}
	s.bm.And(other.bm)
}

// Slice returns every member in ascending order.
func (s *RecordSet) Slice() []Identifier {
	raw := s.bm.ToArray()
	out := make([]Identifier, len(raw))
	for i, v := range raw {
		out[i] = Identifier(v)
	}
	return out
}

// Clone returns an independent copy of s.
func (s *RecordSet) Clone() *RecordSet {
	return &RecordSet{bm: s.bm.Clone()}
}
