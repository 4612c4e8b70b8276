package corestore

import "testing"

func TestRecordSetAddContainsRemove(t *testing.T) {
	s := NewRecordSet()
	s.Add(Identifier(1))
	s.Add(Identifier(2))

	if !s.Contains(Identifier(1)) || !s.Contains(Identifier(2)) {
		t.Fatalf("expected both ids to be members")
	}
	if s.Len() != 2 {
		t.Fatalf("expected len 2, got %d", s.Len())
	}

	s.Remove(Identifier(1))
	if s.Contains(Identifier(1)) {
		t.Fatalf("expected id 1 to be removed")
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1 after remove, got %d", s.Len())
	}
}

func TestRecordSetUnionAndIntersect(t *testing.T) {
	a := NewRecordSet()
	a.Add(1)
	a.Add(2)

	b := NewRecordSet()
	b.Add(2)
	b.Add(3)

	union := a.Clone()
	union.Union(b)
	if union.Len() != 3 {
		t.Fatalf("expected union len 3, got %d", union.Len())
	}

	inter := a.Clone()
	inter.Intersect(b)
	if inter.Len() != 1 || !inter.Contains(2) {
		t.Fatalf("expected intersection to contain only 2, got %v", inter.Slice())
	}
}

func TestRecordSetSliceIsAscending(t *testing.T) {
	s := NewRecordSet()
	for _, v := range []Identifier{5, 1, 3, 2, 4} {
		s.Add(v)
	}
	got := s.Slice()
	want := []Identifier{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d elements, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ascending order %v, got %v", want, got)
		}
	}
}

func TestRecordSetCloneIsIndependent(t *testing.T) {
	a := NewRecordSet()
	a.Add(1)
	clone := a.Clone()
	clone.Add(2)

	if a.Contains(2) {
		t.Fatalf("mutating clone should not affect original")
	}
}

func TestRecordSetIntersectWithNilEmptiesSet(t *testing.T) {
	a := NewRecordSet()
	a.Add(1)
	a.Intersect(nil)
	if a.Len() != 0 {
		t.Fatalf("expected intersect with nil to empty the set, got len %d", a.Len())
	}
}
