package corestore

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// VersionNow is the sentinel version meaning "current state" rather
// than a specific point in time (spec §4.2: "a version=NOW variant
// reads current state").
const VersionNow uint64 = ^uint64(0)

// Operator names the comparison find(key, operator, values…, version)
// applies against a candidate Value (spec §4.2).
type Operator int

const (
	OpEQ Operator = iota
	OpNEQ
	OpLT
	OpLTE
	OpGT
	OpGTE
	OpBetweenInclusive
	OpBetweenExclusive
	OpRegex
	OpNotRegex
	OpLike
	OpNotLike
	OpLinksTo
)

// Database is the read-side aggregator (spec §4.2): it routes reads
// across the sealed segment prefix and the mutable seg0, merges in the
// Buffer's not-yet-transported writes, and caches recently built
// per-record/per-key views.
type Database struct {
	storage *SegmentStorage
	buffer  *Buffer
	cfg     Config
	log     *zap.SugaredLogger

	partial   *partialRecordCache
	secondary *secondaryRecordCache
	corpus    *corpusRecordCache
}

// OpenDatabase opens storage's segment directory and wires it to
// buffer and the three lookup caches (spec §3).
func OpenDatabase(storage *SegmentStorage, buffer *Buffer, cfg Config, log *zap.SugaredLogger) *Database {
	log = withLogger(log)
	return &Database{
		storage:   storage,
		buffer:    buffer,
		cfg:       cfg,
		log:       log,
		partial:   newPartialRecordCache(cfg.CacheCapacity, log),
		secondary: newSecondaryRecordCache(cfg.CacheCapacity, log),
		corpus:    newCorpusRecordCache(cfg.CacheCapacity, log),
	}
}

// Storage exposes the underlying SegmentStorage, e.g. for the
// Compactor and Transporter.
func (db *Database) Storage() *SegmentStorage { return db.storage }

// segmentsUpTo returns every segment visible as-of version: all of
// them when version is VersionNow, since this build doesn't retain
// per-version historical segment snapshots — a sealed segment's
// StartVersion is a lower bound on the writes it can hold, so segments
// that started after the requested version are simply excluded.
func (db *Database) segmentsUpTo(version uint64) []*Segment {
	segs := db.storage.Segments()
	if version == VersionNow {
		return segs
	}
	out := make([]*Segment, 0, len(segs))
	for _, s := range segs {
		if s.StartVersion() <= version || s.StartVersion() == 0 {
			out = append(out, s)
		}
	}
	return out
}

// Verify reports whether (key, value, record) is present at version:
// even/odd parity over every matching revision across segments and the
// buffer (spec §4.2). Early termination is never valid since a REMOVE
// in an older segment can be followed by an ADD in a newer one, so
// every segment is consulted, but Bloom filters skip the ones that
// provably can't contain the fingerprint.
func (db *Database) Verify(key Text, val Value, record Identifier, version uint64) (bool, error) {
	fp := BuildComposite(db.cfg.HashAlgorithm, record, key, val)
	count := 0

	for _, seg := range db.segmentsUpTo(version) {
		if !seg.MightContain(fp) {
			continue
		}
		start, end, found, err := seg.FindTableRange(record)
		if err != nil {
			return false, err
		}
		if !found {
			continue
		}
		revs, err := seg.ReadTableRange(start, end)
		if err != nil {
			return false, err
		}
		for _, r := range revs {
			if r.Key.Equal(key) && r.Val.Equal(val) && versionVisible(r.Version, version) {
				count++
			}
		}
	}
	for _, w := range db.buffer.RecordWrites(record) {
		if w.Key.Equal(key) && w.Val.Equal(val) && versionVisible(w.Version, version) {
			count++
		}
	}
	return count%2 == 1, nil
}

func versionVisible(writeVersion, asOf uint64) bool {
	return asOf == VersionNow || writeVersion <= asOf
}

// SelectRecord returns every key → sorted_set<value> visible for
// record at version (spec §4.2's select(record, version)).
func (db *Database) SelectRecord(record Identifier, version uint64) (map[string]*SortedSet[Value], error) {
	parity := make(map[string]map[string]int) // key -> valueEncoding -> count
	values := make(map[string]map[string]Value)

	note := func(key Text, val Value, writeVersion uint64) {
		if !versionVisible(writeVersion, version) {
			return
		}
		k := key.String()
		if parity[k] == nil {
			parity[k] = make(map[string]int)
			values[k] = make(map[string]Value)
		}
		enc := string(val.Encode())
		parity[k][enc]++
		values[k][enc] = val
	}

	for _, seg := range db.segmentsUpTo(version) {
		start, end, found, err := seg.FindTableRange(record)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		revs, err := seg.ReadTableRange(start, end)
		if err != nil {
			return nil, err
		}
		for _, r := range revs {
			note(r.Key, r.Val, r.Version)
		}
	}
	for _, w := range db.buffer.RecordWrites(record) {
		note(w.Key, w.Val, w.Version)
	}

	out := make(map[string]*SortedSet[Value], len(parity))
	for k, byVal := range parity {
		set := NewValueSet()
		for enc, count := range byVal {
			if count%2 == 1 {
				set.Add(values[k][enc])
			}
		}
		out[k] = set
	}
	return out, nil
}

// Select returns the sorted_set<value> visible for (key, record) at
// version (spec §4.2's select(key, record, version)), served from the
// PartialRecord cache when version is VersionNow.
func (db *Database) Select(key Text, record Identifier, version uint64) (*SortedSet[Value], error) {
	if version != VersionNow {
		return db.selectUncached(key, record, version)
	}
	pk := partialRecordKey{Record: record, Key: key.String()}
	if v, ok := db.partial.c.Get(pk); ok {
		return v, nil
	}
	set, err := db.selectUncached(key, record, VersionNow)
	if err != nil {
		return nil, err
	}
	db.partial.c.Put(pk, set)
	return set, nil
}

func (db *Database) selectUncached(key Text, record Identifier, version uint64) (*SortedSet[Value], error) {
	counts := make(map[string]int)
	values := make(map[string]Value)
	note := func(val Value, writeVersion uint64) {
		if !versionVisible(writeVersion, version) {
			return
		}
		enc := string(val.Encode())
		counts[enc]++
		values[enc] = val
	}

	fp := BuildComposite(db.cfg.HashAlgorithm, record, key)
	for _, seg := range db.segmentsUpTo(version) {
		if !seg.MightContain(fp) {
			continue
		}
		start, end, found, err := seg.FindTableRange(record)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		revs, err := seg.ReadTableRange(start, end)
		if err != nil {
			return nil, err
		}
		for _, r := range revs {
			if r.Key.Equal(key) {
				note(r.Val, r.Version)
			}
		}
	}
	for _, w := range db.buffer.RecordWrites(record) {
		if w.Key.Equal(key) {
			note(w.Val, w.Version)
		}
	}

	set := NewValueSet()
	for enc, c := range counts {
		if c%2 == 1 {
			set.Add(values[enc])
		}
	}
	return set, nil
}

// Browse returns value → sorted_set<record> for every value ever
// written under key, visible at version (spec §4.2), served from the
// SecondaryRecord cache when version is VersionNow.
func (db *Database) Browse(key Text, version uint64) (map[string]valueBucket, error) {
	if version == VersionNow {
		entry := db.secondary.c.GetOrCreate(key.String(), func() *secondaryRecordEntry {
			e := newSecondaryRecordEntry()
			db.populateBrowse(key, VersionNow, func(val Value, record Identifier) {
				e.add(val, record)
			})
			return e
		})
		return entry.snapshot(), nil
	}

	entry := newSecondaryRecordEntry()
	db.populateBrowse(key, version, func(val Value, record Identifier) {
		entry.add(val, record)
	})
	return entry.snapshot(), nil
}

// populateBrowse folds every parity-resolved index revision for key
// into add.
func (db *Database) populateBrowse(key Text, version uint64, add func(Value, Identifier)) {
	type cell struct {
		val    Value
		record Identifier
	}
	counts := make(map[string]int)
	cells := make(map[string]cell)
	note := func(val Value, record Identifier, writeVersion uint64) {
		if !versionVisible(writeVersion, version) {
			return
		}
		k := string(val.Encode()) + "|" + string(record.Bytes())
		counts[k]++
		cells[k] = cell{val: val, record: record}
	}

	for _, seg := range db.segmentsUpTo(version) {
		start, end, found, err := seg.FindIndexRange(key)
		if err != nil || !found {
			continue
		}
		revs, err := seg.ReadIndexRange(start, end)
		if err != nil {
			continue
		}
		for _, r := range revs {
			note(r.Key, r.Val, r.Version)
		}
	}
	for _, w := range db.buffer.KeyWrites(key) {
		note(w.Val, w.Record, w.Version)
	}

	for k, c := range counts {
		if c%2 == 1 {
			cell := cells[k]
			add(cell.val, cell.record)
		}
	}
}

// Find applies operator against key's browse map (spec §4.2's
// find(key, operator, values…, version)).
func (db *Database) Find(key Text, op Operator, values []Value, version uint64) (*RecordSet, error) {
	buckets, err := db.Browse(key, version)
	if err != nil {
		return nil, err
	}
	out := NewRecordSet()
	for _, b := range buckets {
		if matchOperator(op, b.Val, values) {
			out.Union(b.Records)
		}
	}
	return out, nil
}

func matchOperator(op Operator, candidate Value, values []Value) bool {
	switch op {
	case OpEQ:
		return len(values) > 0 && candidate.Equal(values[0])
	case OpNEQ:
		return len(values) > 0 && !candidate.Equal(values[0])
	case OpLT:
		return len(values) > 0 && candidate.Compare(values[0]) < 0
	case OpLTE:
		return len(values) > 0 && candidate.Compare(values[0]) <= 0
	case OpGT:
		return len(values) > 0 && candidate.Compare(values[0]) > 0
	case OpGTE:
		return len(values) > 0 && candidate.Compare(values[0]) >= 0
	case OpBetweenInclusive:
		return len(values) > 1 && candidate.Compare(values[0]) >= 0 && candidate.Compare(values[1]) <= 0
	case OpBetweenExclusive:
		return len(values) > 1 && candidate.Compare(values[0]) > 0 && candidate.Compare(values[1]) < 0
	case OpRegex:
		return len(values) > 0 && matchRegex(candidate, values[0])
	case OpNotRegex:
		return len(values) > 0 && !matchRegex(candidate, values[0])
	case OpLike:
		return len(values) > 0 && matchLike(candidate, values[0])
	case OpNotLike:
		return len(values) > 0 && !matchLike(candidate, values[0])
	case OpLinksTo:
		return len(values) > 0 && candidate.Type() == ValueLink && candidate.Equal(values[0])
	default:
		return false
	}
}

func matchRegex(candidate, pattern Value) bool {
	re, err := regexp.Compile(pattern.stringForm())
	if err != nil {
		return false
	}
	return re.MatchString(candidate.stringForm())
}

// matchLike implements SQL-style LIKE: % matches any run, _ matches
// one character, translated to an anchored regexp.
func matchLike(candidate, pattern Value) bool {
	p := regexp.QuoteMeta(pattern.stringForm())
	p = strings.ReplaceAll(p, `%`, `.*`)
	p = strings.ReplaceAll(p, `_`, `.`)
	re, err := regexp.Compile("^" + p + "$")
	if err != nil {
		return false
	}
	return re.MatchString(candidate.stringForm())
}

// Search tokenises query and returns records whose Corpus postings
// under key contain every token at adjacent positions (spec §4.2: "for
// single-token substring match, a precompiled Boyer-Moore table is
// used"; multi-token AND-combines per-token hits at adjacent
// positions).
func (db *Database) Search(key Text, query string, version uint64) (*RecordSet, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return NewRecordSet(), nil
	}
	if len(tokens) == 1 {
		return db.searchSingleToken(key, tokens[0], version)
	}
	return db.searchPhrase(key, tokens, version)
}

// searchSingleToken scans every distinct word posted under key and
// keeps the ones containing token as a substring, using a
// Boyer-Moore-Horspool matcher (search.go) rather than strings.Contains
// to match the spec's "precompiled Boyer-Moore table" requirement.
func (db *Database) searchSingleToken(key Text, token string, version uint64) (*RecordSet, error) {
	matcher := newHorspoolMatcher(token)
	words, err := db.corpusWords(key, version)
	if err != nil {
		return nil, err
	}

	out := NewRecordSet()
	for _, word := range words {
		if !matcher.Contains(word) {
			continue
		}
		postings, err := db.corpusPostings(key, TextFromString(word), version)
		if err != nil {
			return nil, err
		}
		for _, p := range postings.Slice() {
			out.Add(p.Record)
		}
	}
	return out, nil
}

// searchPhrase AND-combines exact-token postings, keeping only records
// where consecutive tokens occur at consecutive positions.
func (db *Database) searchPhrase(key Text, tokens []string, version uint64) (*RecordSet, error) {
	perToken := make([][]Position, len(tokens))
	for i, tok := range tokens {
		set, err := db.corpusPostings(key, TextFromString(tok), version)
		if err != nil {
			return nil, err
		}
		perToken[i] = set.Slice()
	}

	starts := make(map[Identifier]map[uint32]struct{})
	for _, p := range perToken[0] {
		if starts[p.Record] == nil {
			starts[p.Record] = make(map[uint32]struct{})
		}
		starts[p.Record][p.Index] = struct{}{}
	}

	for t := 1; t < len(perToken); t++ {
		next := make(map[Identifier]map[uint32]struct{})
		present := make(map[Identifier]map[uint32]struct{})
		for _, p := range perToken[t] {
			if present[p.Record] == nil {
				present[p.Record] = make(map[uint32]struct{})
			}
			present[p.Record][p.Index] = struct{}{}
		}
		for record, idxs := range starts {
			for idx := range idxs {
				if _, ok := present[record][idx+uint32(t)]; ok {
					if next[record] == nil {
						next[record] = make(map[uint32]struct{})
					}
					next[record][idx] = struct{}{}
				}
			}
		}
		starts = next
	}

	out := NewRecordSet()
	for record := range starts {
		out.Add(record)
	}
	return out, nil
}

func (db *Database) corpusPostings(key, word Text, version uint64) (*SortedSet[Position], error) {
	if version == VersionNow {
		ck := corpusKey{Key: key.String(), Word: word.String()}
		if v, ok := db.corpus.c.Get(ck); ok {
			return v, nil
		}
		set, err := db.corpusPostingsUncached(key, word, VersionNow)
		if err != nil {
			return nil, err
		}
		db.corpus.c.Put(ck, set)
		return set, nil
	}
	return db.corpusPostingsUncached(key, word, version)
}

func (db *Database) corpusPostingsUncached(key, word Text, version uint64) (*SortedSet[Position], error) {
	counts := make(map[Position]int)

	for _, seg := range db.segmentsUpTo(version) {
		start, end, found, err := seg.FindCorpusRange(key)
		if err != nil || !found {
			continue
		}
		revs, err := seg.ReadCorpusRange(start, end)
		if err != nil {
			return nil, err
		}
		for _, r := range revs {
			if r.Key.Equal(word) && versionVisible(r.Version, version) {
				counts[r.Val]++
			}
		}
	}
	for _, c := range db.buffer.CorpusRevisions(key, word) {
		if versionVisible(c.Version, version) {
			counts[c.Val]++
		}
	}

	set := NewPositionSet()
	for p, c := range counts {
		if c%2 == 1 {
			set.Add(p)
		}
	}
	return set, nil
}

func (db *Database) corpusWords(key Text, version uint64) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, seg := range db.segmentsUpTo(version) {
		revs, err := seg.AllCorpusRevisions()
		if err != nil {
			return nil, err
		}
		for _, r := range revs {
			if !r.Locator.Equal(key) || !versionVisible(r.Version, version) {
				continue
			}
			if _, ok := seen[r.Key.String()]; !ok {
				seen[r.Key.String()] = struct{}{}
				out = append(out, r.Key.String())
			}
		}
	}
	for _, w := range db.buffer.CorpusWords(key) {
		if _, ok := seen[w]; !ok {
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out, nil
}

// ingestReceipts folds a batch of just-transported Writes and their
// Receipts into the three lookup caches, invalidating the entries they
// touch rather than trying to patch them in place (spec §4.2's
// "re-derives cache entries from the supplied receipts").
func (db *Database) ingestReceipts(writes []Write, receipts []Receipt) {
	_ = receipts // fingerprints already recomputed from writes; kept for the spec's merge(segment, receipts) shape
	for _, w := range writes {
		db.partial.c.Invalidate(partialRecordKey{Record: w.Record, Key: w.Key.String()})
		db.secondary.c.Invalidate(w.Key.String())
		for _, c := range w.Corpus() {
			db.corpus.c.Invalidate(corpusKey{Key: c.Locator.String(), Word: c.Key.String()})
		}
	}
}

// Merge inserts seg immediately before seg0 and invalidates caches for
// every revision it carries (spec §4.2's merge(segment, receipts)); if
// seg is still mutable it is persisted first.
func (db *Database) Merge(seg *Segment, receipts []Receipt) error {
	if !seg.Sealed() {
		if err := db.storage.Save(seg); err != nil {
			return err
		}
	}
	db.storage.InsertBeforeSeg0(seg)

	revs, err := seg.AllTableRevisions()
	if err != nil {
		return err
	}
	for _, r := range revs {
		db.partial.c.Invalidate(partialRecordKey{Record: r.Locator, Key: r.Key.String()})
		db.secondary.c.Invalidate(r.Key.String())
	}
	return nil
}

// Repair detects pairs of sealed segments whose intersection is
// non-empty and drops the newer copy of each duplicated fingerprint
// (spec §4.2's repair(); mirrors SegmentStorage's restart-time
// dropOverlappingDuplicates, but callable while the database is live).
func (db *Database) Repair() (int, error) {
	sealed := db.storage.Sealed()
	dropped := 0
	kept := make([]*Segment, 0, len(sealed))
	for _, candidate := range sealed {
		dup := false
		for _, k := range kept {
			intersects, err := candidate.Intersects(k)
			if err != nil {
				return dropped, err
			}
			if intersects {
				dup = true
				break
			}
		}
		if dup {
			dropped++
			continue
		}
		kept = append(kept, candidate)
	}
	if dropped == 0 {
		return 0, nil
	}
	if _, err := db.storage.Replace(0, len(sealed), kept); err != nil {
		return 0, err
	}
	return dropped, nil
}

// Stats summarises the database's current segment population: the
// number of sealed segments and the number of writes seg0 holds.
type Stats struct {
	SealedSegments int
	Seg0Writes     int
}

func (db *Database) Stats() Stats {
	sealed := db.storage.Sealed()
	seg0 := db.storage.Seg0()
	seg0.mu.RLock()
	seg0Writes := len(seg0.tableRevs)
	seg0.mu.RUnlock()
	return Stats{SealedSegments: len(sealed), Seg0Writes: seg0Writes}
}
