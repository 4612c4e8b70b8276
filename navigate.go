package corestore

import "strings"

// navigationStep is one dotted segment of a navigate() path.
type navigationStep struct {
	key Text
	op  Operator
}

// NavigatePath parses a dotted key sequence "k0.k1.k2…kN" into steps.
// Every step but the last is a plain Link-follow; the operator and
// values applied at the final key are passed to Navigate separately
// (spec §4.8).
type NavigatePath struct {
	steps []Text
}

// ParseNavigatePath splits path on '.' into its component keys.
func ParseNavigatePath(path string) (NavigatePath, error) {
	if path == "" {
		return NavigatePath{}, ErrInvalidPath
	}
	parts := strings.Split(path, ".")
	steps := make([]Text, len(parts))
	for i, p := range parts {
		if p == "" {
			return NavigatePath{}, ErrInvalidPath
		}
		steps[i] = TextFromString(p)
	}
	return NavigatePath{steps: steps}, nil
}

// Navigate resolves path starting from startRecords, applying op/values
// at the final key (spec §4.8). It picks between the forward and
// reverse-ad-hoc-index strategies via a cheap cost estimate, falling
// back to reverse when neither clearly wins.
func (db *Database) Navigate(path NavigatePath, startRecords *RecordSet, op Operator, values []Value, version uint64) (*RecordSet, error) {
	if len(path.steps) == 0 {
		return nil, ErrInvalidPath
	}
	if db.chooseForward(path, startRecords, version) {
		return db.navigateForward(path, startRecords, op, values, version)
	}
	return db.navigateReverse(path, op, values, version)
}

// chooseForward estimates the first step's fan-out against the last
// step's expected selectivity and prefers forward traversal when the
// start set is small relative to how many records the final condition
// is expected to match (spec §4.8's cost estimator). Ties and
// uncertain estimates favour the reverse ad-hoc-index path, since a
// wrong forward guess wastes work proportional to fan-out at every
// intermediate step while a wrong reverse guess costs one find() call.
func (db *Database) chooseForward(path NavigatePath, startRecords *RecordSet, version uint64) bool {
	if startRecords == nil || startRecords.Len() == 0 {
		return false
	}
	finalEstimate := db.estimateFanout(path.steps[len(path.steps)-1], version)
	startEstimate := startRecords.Len()
	return startEstimate > 0 && startEstimate*len(path.steps) < finalEstimate
}

// estimateFanout approximates the selectivity of browsing key by
// summing the byte length of key's range in each sealed segment's
// index stream (as its index manifest records it) —
// a per-segment cardinality hint in place of a maintained histogram
// (spec §4.8: "using per-segment cardinality hints").
func (db *Database) estimateFanout(key Text, version uint64) int {
	total := 0
	for _, seg := range db.segmentsUpTo(version) {
		start, end, found, err := seg.FindIndexRange(key)
		if err != nil || !found {
			continue
		}
		if end > start {
			total += int(end - start)
		}
	}
	if total == 0 {
		total = 1
	}
	return total
}

// navigateForward resolves records → values at each step, following
// Link values into the next record set, and applies op at the final
// step.
func (db *Database) navigateForward(path NavigatePath, records *RecordSet, op Operator, values []Value, version uint64) (*RecordSet, error) {
	current := records
	for i, step := range path.steps {
		last := i == len(path.steps)-1
		next := NewRecordSet()
		matched := NewRecordSet()

		for _, rec := range current.Slice() {
			set, err := db.Select(step, rec, version)
			if err != nil {
				return nil, err
			}
			for _, v := range set.Slice() {
				if last {
					if matchOperator(op, v, values) {
						matched.Add(rec)
					}
					continue
				}
				if v.Type() == ValueLink {
					lnk, err := v.AsLink()
					if err == nil {
						next.Add(lnk)
					}
				}
			}
		}
		if last {
			return matched, nil
		}
		current = next
	}
	return current, nil
}

// navigateReverse applies find(kN, op, values) to get the final step's
// candidates, then walks backward: at each prior step, keep only
// records whose value at that key links to a record already in the
// candidate set (spec §4.8's "walk the graph backward via inverted
// links").
func (db *Database) navigateReverse(path NavigatePath, op Operator, values []Value, version uint64) (*RecordSet, error) {
	last := path.steps[len(path.steps)-1]
	candidates, err := db.Find(last, op, values, version)
	if err != nil {
		return nil, err
	}

	for i := len(path.steps) - 2; i >= 0; i-- {
		step := path.steps[i]
		buckets, err := db.Browse(step, version)
		if err != nil {
			return nil, err
		}
		next := NewRecordSet()
		for _, b := range buckets {
			if b.Val.Type() != ValueLink {
				continue
			}
			lnk, err := b.Val.AsLink()
			if err != nil {
				continue
			}
			if candidates.Contains(lnk) {
				next.Union(b.Records)
			}
		}
		candidates = next
	}
	return candidates, nil
}
