package corestore

import "testing"

func TestLocalTimeSourceIsMonotonic(t *testing.T) {
	ts := NewLocalTimeSource()
	prev := ts.EpochMicros()
	for i := 0; i < 1000; i++ {
		next := ts.EpochMicros()
		if next <= prev {
			t.Fatalf("expected strictly increasing micros, got %d then %d", prev, next)
		}
		prev = next
	}
}

type fakeHybridClock struct {
	seq []uint64
	i   int
}

func (f *fakeHybridClock) Now() uint64 {
	v := f.seq[f.i]
	if f.i < len(f.seq)-1 {
		f.i++
	}
	return v
}

func TestHybridTimeSourceMonotonicDespiteClockGoingBackwards(t *testing.T) {
	clock := &fakeHybridClock{seq: []uint64{100, 50, 200}}
	ts := NewHybridTimeSource(clock)

	first := ts.EpochMicros()
	if first != 100 {
		t.Fatalf("expected first reading 100, got %d", first)
	}
	second := ts.EpochMicros()
	if second <= first {
		t.Fatalf("expected monotonic bump past %d when clock reported 50, got %d", first, second)
	}
	third := ts.EpochMicros()
	if third != 200 {
		t.Fatalf("expected clock's forward jump to 200 to win, got %d", third)
	}
}
