package collection

import "testing"

func TestShardedHashSetAddContainsRemove(t *testing.T) {
	s := NewShardedHashSet(4)

	if s.Contains(1) {
		t.Fatalf("expected miss on empty set")
	}

	s.Add(1)
	s.Add(2)
	if !s.Contains(1) || !s.Contains(2) {
		t.Fatalf("expected both elements present")
	}
	if s.Len() != 2 {
		t.Fatalf("expected len 2, got %d", s.Len())
	}

	s.Remove(1)
	if s.Contains(1) {
		t.Fatalf("expected 1 to be removed")
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1 after remove, got %d", s.Len())
	}
}

func TestShardedHashSetZeroShardCountUsesDefault(t *testing.T) {
	s := NewShardedHashSet(0)
	if len(s.shards) != DefaultShardCount {
		t.Fatalf("expected %d shards, got %d", DefaultShardCount, len(s.shards))
	}
}

func TestShardedHashSetConcurrentIteratorVisitsEveryElement(t *testing.T) {
	s := NewShardedHashSet(4)
	want := map[uint64]bool{1: true, 2: true, 17: true, 100: true}
	for k := range want {
		s.Add(k)
	}

	it := s.ConcurrentIterator()
	seen := make(map[uint64]bool)
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		seen[v] = true
	}
	it.Close()

	if len(seen) != len(want) {
		t.Fatalf("expected to visit %d elements, saw %d", len(want), len(seen))
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("expected to visit %d", k)
		}
	}
}

func TestShardedHashSetIteratorRemoveDropsElement(t *testing.T) {
	s := NewShardedHashSet(2)
	s.Add(5)
	s.Add(6)

	it := s.ConcurrentIterator()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		if v == 5 {
			it.Remove(5)
		}
	}
	it.Close()

	if s.Contains(5) {
		t.Fatalf("expected 5 to have been removed via iterator")
	}
	if !s.Contains(6) {
		t.Fatalf("expected 6 to remain")
	}
}

func TestShardedHashSetIteratorCloseIsIdempotent(t *testing.T) {
	s := NewShardedHashSet(2)
	s.Add(1)
	it := s.ConcurrentIterator()
	it.Close()
	it.Close() // must not panic or double-unlock
	if _, ok := it.Next(); ok {
		t.Fatalf("expected no elements after close")
	}
}
