package corestore

// horspoolMatcher is a precompiled Boyer-Moore-Horspool substring
// matcher (spec §4.2: "for single-token substring match, a precompiled
// Boyer-Moore table is used"). Built once per query token and reused
// against every candidate word a Corpus scan produces.
type horspoolMatcher struct {
	pattern []byte
	shift   [256]int
}

func newHorspoolMatcher(pattern string) *horspoolMatcher {
	m := &horspoolMatcher{pattern: []byte(pattern)}
	n := len(m.pattern)
	for i := range m.shift {
		m.shift[i] = n
	}
	if n > 0 {
		for i := 0; i < n-1; i++ {
			m.shift[m.pattern[i]] = n - 1 - i
		}
	}
	return m
}

// Contains reports whether text contains the matcher's pattern as a
// substring.
func (m *horspoolMatcher) Contains(text string) bool {
	n := len(m.pattern)
	if n == 0 {
		return true
	}
	t := []byte(text)
	if len(t) < n {
		return false
	}
	i := 0
	for i <= len(t)-n {
		j := n - 1
		for j >= 0 && t[i+j] == m.pattern[j] {
			j--
		}
		if j < 0 {
			return true
		}
		i += m.shift[t[i+n-1]]
	}
	return false
}
