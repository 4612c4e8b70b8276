package corestore

import (
	"sync"

	"go.uber.org/zap"
)

// CompactionStrategy decides whether a run of sealed segments should
// be rewritten, and produces the replacements (spec §4.7). Returning
// nil replacements means "don't compact this run".
type CompactionStrategy interface {
	// Compact inspects segments (a contiguous run of the sealed
	// prefix) and either returns the segments that should replace
	// them, or nil if no compaction applies.
	Compact(env *CompactEnv, segments []*Segment) ([]*Segment, error)
}

// CompactEnv collects what a CompactionStrategy needs from its
// environment without depending on the Compactor's internals.
type CompactEnv struct {
	Dir                string
	Alg                int
	BloomFPP           float64
	SimilarityThreshold int
	Log                *zap.SugaredLogger
}

// NoOpCompactor never compacts anything — the default strategy (spec
// §4.7: "NoOpCompactor always returns None and is the default").
type NoOpCompactor struct{}

func (NoOpCompactor) Compact(*CompactEnv, []*Segment) ([]*Segment, error) {
	return nil, nil
}

// MergeSortCompactor merges exactly two adjacent segments when their
// similarity exceeds env.SimilarityThreshold and there's enough free
// disk space to hold both while the merge runs (spec §4.7).
type MergeSortCompactor struct{}

func (MergeSortCompactor) Compact(env *CompactEnv, segments []*Segment) ([]*Segment, error) {
	if len(segments) != 2 {
		return nil, nil
	}
	a, b := segments[0], segments[1]

	similarity, err := a.SimilarityWith(b)
	if err != nil {
		return nil, err
	}
	if similarity <= env.SimilarityThreshold {
		return nil, nil
	}

	free, err := availableDiskSpace(env.Dir)
	if err != nil {
		return nil, err
	}
	if free <= a.Length()+b.Length() {
		return nil, nil
	}

	merged, err := mergeSegments(env, a, b)
	if err != nil {
		return nil, err
	}
	return []*Segment{merged}, nil
}

// mergeSegments produces one new segment, sealed into env.Dir, holding
// every revision from a and b, their parity left untouched: spec §4.7 merges
// "all writes from both in sort order", not a parity-resolved view —
// later point reads still resolve ADD/REMOVE parity the normal way,
// now against a single stream instead of two.
func mergeSegments(env *CompactEnv, a, b *Segment) (*Segment, error) {
	tableRevs, err := concatTableRevisions(a, b)
	if err != nil {
		return nil, err
	}
	indexRevs, err := concatIndexRevisions(a, b)
	if err != nil {
		return nil, err
	}
	corpusRevs, err := concatCorpusRevisions(a, b)
	if err != nil {
		return nil, err
	}

	bloomPath := ""
	merged, err := NewSegmentFromRevisions(env.Alg, env.BloomFPP, bloomPath, env.Log, tableRevs, indexRevs, corpusRevs)
	if err != nil {
		return nil, err
	}
	if _, err := merged.Transfer(env.Dir); err != nil {
		return nil, err
	}
	return merged, nil
}

func concatTableRevisions(a, b *Segment) ([]TableRevision, error) {
	ar, err := a.AllTableRevisions()
	if err != nil {
		return nil, err
	}
	br, err := b.AllTableRevisions()
	if err != nil {
		return nil, err
	}
	return append(ar, br...), nil
}

func concatIndexRevisions(a, b *Segment) ([]IndexRevision, error) {
	ar, err := a.AllIndexRevisions()
	if err != nil {
		return nil, err
	}
	br, err := b.AllIndexRevisions()
	if err != nil {
		return nil, err
	}
	return append(ar, br...), nil
}

func concatCorpusRevisions(a, b *Segment) ([]CorpusRevision, error) {
	ar, err := a.AllCorpusRevisions()
	if err != nil {
		return nil, err
	}
	br, err := b.AllCorpusRevisions()
	if err != nil {
		return nil, err
	}
	return append(ar, br...), nil
}

// Compactor runs the shift state machine spec §4.7 describes over a
// Database's sealed segment prefix. Its own mutex serialises shift
// computation; SegmentStorage's lock (acquired only as an advisory
// try/block gate, never held across a whole shift) guards the actual
// list mutation via Replace.
type Compactor struct {
	mu       sync.Mutex
	db       *Database
	strategy CompactionStrategy
	env      *CompactEnv
	log      *zap.SugaredLogger

	index int
	count int
}

// NewCompactor wires db to strategy (NoOpCompactor by default per
// spec §4.7).
func NewCompactor(db *Database, strategy CompactionStrategy, dir string, cfg Config, log *zap.SugaredLogger) *Compactor {
	log = withLogger(log)
	if strategy == nil {
		strategy = NoOpCompactor{}
	}
	return &Compactor{
		db:       db,
		strategy: strategy,
		log:      log,
		count:    1,
		env: &CompactEnv{
			Dir:                 dir,
			Alg:                 cfg.HashAlgorithm,
			BloomFPP:            cfg.BloomFalsePositiveRate,
			SimilarityThreshold: cfg.CompactionSimilarityThreshold,
			Log:                 log,
		},
	}
}

// TryIncrementalCompaction runs one shift iff there are more than two
// segments total and the storage write-lock is immediately acquirable
// (spec §4.7's minor cycle).
func (c *Compactor) TryIncrementalCompaction() (bool, error) {
	segs := c.db.Storage().Segments()
	if len(segs) <= 2 {
		return false, nil
	}
	if !c.db.Storage().TryLock() {
		return false, nil
	}
	c.db.Storage().Unlock()

	return c.runShiftOnce()
}

// ExecuteFullCompaction loops shifts (blocking on the storage lock each
// time) until one shift completes a full cycle — index resets to 0 and
// count resets to 1 — spec §4.7's major cycle.
func (c *Compactor) ExecuteFullCompaction() error {
	for {
		c.db.Storage().Lock()
		c.db.Storage().Unlock()

		didCompact, err := c.runShiftOnce()
		if err != nil {
			return err
		}
		_ = didCompact

		c.mu.Lock()
		index, count := c.index, c.count
		c.mu.Unlock()
		if index == 0 && count == 1 {
			return nil
		}
	}
}

// runShiftOnce advances the shift state machine by exactly one step
// (spec §4.7's runShift(index, count)).
func (c *Compactor) runShiftOnce() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sealed := c.db.Storage().Sealed()
	limit := len(sealed)

	if c.count > limit {
		c.index, c.count = 0, 1
		return false, nil
	}
	if c.index+c.count > limit {
		c.index, c.count = 0, c.count+1
		return false, nil
	}

	run := sealed[c.index : c.index+c.count]
	replacements, err := c.strategy.Compact(c.env, run)
	if err != nil {
		return false, err
	}
	if replacements == nil {
		c.index++
		return false, nil
	}

	if _, err := c.db.Storage().Replace(c.index, c.count, replacements); err != nil {
		return false, err
	}
	c.log.Infow("compacted segment run", "index", c.index, "count", c.count, "replacements", len(replacements))
	c.index += c.count - 1
	return true, nil
}
