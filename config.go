package corestore

import "time"

// SyncMode selects how aggressively Buffer.insert fsyncs a page after
// appending a Write (spec §4.1).
type SyncMode int

const (
	// SyncEach fsyncs after every insert. Safest, slowest.
	SyncEach SyncMode = iota
	// SyncBatched fsyncs a page once every 32 inserts to it, amortising
	// the cost across writes.
	SyncBatched
	// SyncOS leaves fsync timing to the operating system page cache.
	SyncOS
)

// Config collects every tunable of the storage core in one place,
// following the teacher's convention of a single struct passed down
// through constructors rather than package-level globals.
type Config struct {
	// PageSize bounds a Buffer page's on-disk size before it is
	// sealed and a new page opened (spec §4.1).
	PageSize int64

	// SegmentTargetSize is not read by the storage core: the
	// MergeSortCompactor's disk-space check compares free space with the
	// combined length of the two segments it would merge.
	SegmentTargetSize int64

	// Sync controls Buffer durability (spec §4.1).
	Sync SyncMode

	// HashAlgorithm selects among AlgXXHash3 / AlgFNV1a / AlgBlake2b
	// for Composite fingerprints and Bloom filter seeding (spec §3,
	// §4.4). Must stay fixed across the lifetime of a given on-disk
	// environment: changing it makes existing Composites
	// un-reproducible from their source bytes.
	HashAlgorithm int

	// BloomFalsePositiveRate sizes every Segment's LoggingBloomFilter
	// (spec §4.4).
	BloomFalsePositiveRate float64

	// CompactionSimilarityThreshold is the `> 50` in spec §4.7's
	// MergeSortCompactor rule, exposed so tests can exercise both
	// sides of the boundary without relying on the literal constant.
	CompactionSimilarityThreshold int

	// Transporter (Streaming variant, spec §4.5) tuning.
	TransporterMinSleep            time.Duration
	TransporterMaxSleep            time.Duration
	TransporterInactivityThreshold time.Duration
	TransporterHungThreshold       time.Duration
	TransporterHungCheckInterval   time.Duration

	// ShardCount is not read by the storage core: the lookup caches
	// build their ShardedHashSet and IncrementalSortMap with the
	// collection package's default shard count (16).
	ShardCount int

	// CacheCapacity bounds the PartialRecord/SecondaryRecord/CorpusRecord
	// caches' entry count (spec §3: "bounded by a configurable heap
	// budget"). Entry count is used as the budget's unit rather than a
	// byte estimate, since the three cache value shapes vary too much
	// in size for a byte budget to be meaningfully uniform.
	CacheCapacity int
}

// DefaultConfig returns a Config with the values spec.md's component
// sections cite as defaults (16 shards, 50% similarity threshold) and
// otherwise reasonable production tunables.
func DefaultConfig() Config {
	return Config{
		PageSize:                       64 << 20, // 64 MiB
		SegmentTargetSize:              256 << 20,
		Sync:                           SyncBatched,
		HashAlgorithm:                  AlgXXHash3,
		BloomFalsePositiveRate:         0.01,
		CompactionSimilarityThreshold:  50,
		TransporterMinSleep:            10 * time.Millisecond,
		TransporterMaxSleep:            2 * time.Second,
		TransporterInactivityThreshold: 30 * time.Second,
		TransporterHungThreshold:       2 * time.Minute,
		TransporterHungCheckInterval:   5 * time.Second,
		ShardCount:                     16,
		CacheCapacity:                  8192,
	}
}
