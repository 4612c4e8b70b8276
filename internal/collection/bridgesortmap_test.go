package collection

import "testing"

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func TestBridgeSortMapMergesPrimaryAndAux(t *testing.T) {
	m := NewBridgeSortMap[int, string](cmpInt)
	m.AppendSorted(1, "a")
	m.AppendSorted(3, "c")
	m.AppendSorted(5, "e")
	m.InsertLate(4, "d")
	m.InsertLate(2, "b")

	var keys []int
	m.Iterate(func(k int, v string) bool {
		keys = append(keys, k)
		return true
	})
	want := []int{1, 2, 3, 4, 5}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d: %v", len(want), len(keys), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected sorted order %v, got %v", want, keys)
		}
	}
}

func TestBridgeSortMapIterateStopsEarly(t *testing.T) {
	m := NewBridgeSortMap[int, string](cmpInt)
	m.AppendSorted(1, "a")
	m.AppendSorted(2, "b")
	m.AppendSorted(3, "c")

	var seen int
	m.Iterate(func(k int, v string) bool {
		seen++
		return k < 2
	})
	if seen != 2 {
		t.Fatalf("expected iteration to stop after 2 entries, saw %d", seen)
	}
}

func TestBridgeSortMapLen(t *testing.T) {
	m := NewBridgeSortMap[int, string](cmpInt)
	m.AppendSorted(1, "a")
	m.InsertLate(0, "z")
	if m.Len() != 2 {
		t.Fatalf("expected len 2, got %d", m.Len())
	}
}
