package corestore

import "testing"

func TestSortedSetValuesOrderedAscending(t *testing.T) {
	s := NewValueSet()
	s.Add(NewInt64(5))
	s.Add(NewInt64(1))
	s.Add(NewInt64(3))

	got := s.Slice()
	if len(got) != 3 {
		t.Fatalf("expected 3 values, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Compare(got[i]) >= 0 {
			t.Fatalf("expected ascending order, got %v", got)
		}
	}
}

func TestSortedSetAddReplacesEqualElement(t *testing.T) {
	s := NewValueSet()
	s.Add(NewString("a"))
	s.Add(NewString("a"))

	if s.Len() != 1 {
		t.Fatalf("expected duplicate insert to replace, got len %d", s.Len())
	}
}

func TestSortedSetPositionsOrderedAscending(t *testing.T) {
	s := NewPositionSet()
	s.Add(NewPosition(Identifier(2), 0))
	s.Add(NewPosition(Identifier(1), 5))
	s.Add(NewPosition(Identifier(1), 1))

	got := s.Slice()
	if len(got) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Compare(got[i]) >= 0 {
			t.Fatalf("expected ascending order, got %v", got)
		}
	}
}
