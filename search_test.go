package corestore

import "testing"

func TestHorspoolMatcherFindsSubstring(t *testing.T) {
	m := newHorspoolMatcher("fox")
	if !m.Contains("a quick fox jumps") {
		t.Fatalf("expected match for substring 'fox'")
	}
	if m.Contains("no match here") {
		t.Fatalf("expected no match")
	}
}

func TestHorspoolMatcherEmptyPatternMatchesAnything(t *testing.T) {
	m := newHorspoolMatcher("")
	if !m.Contains("anything") {
		t.Fatalf("expected empty pattern to match anything")
	}
	if !m.Contains("") {
		t.Fatalf("expected empty pattern to match empty text")
	}
}

func TestHorspoolMatcherPatternLongerThanTextNeverMatches(t *testing.T) {
	m := newHorspoolMatcher("a very long pattern")
	if m.Contains("short") {
		t.Fatalf("expected no match when text is shorter than pattern")
	}
}

func TestHorspoolMatcherMatchesAtBoundaries(t *testing.T) {
	m := newHorspoolMatcher("cat")
	if !m.Contains("cat") {
		t.Fatalf("expected exact match")
	}
	if !m.Contains("concatenate") {
		t.Fatalf("expected match inside a larger word")
	}
	if !m.Contains("scatter") {
		t.Fatalf("expected match at a non-prefix position")
	}
}
