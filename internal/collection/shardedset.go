package collection

import "sync"

// DefaultShardCount is the default N for ShardedHashSet and
// IncrementalSortMap (spec §4.9.2: "partitioned into N (default 16)
// shards").
const DefaultShardCount = 16

// ShardedHashSet is a set partitioned into N shards, each guarded by
// its own lock (spec §4.9.2). Go's sync.RWMutex plays the role of the
// source's stamped lock here: reads take RLock, writes take Lock.
// shard selection always uses an UNSIGNED remainder of the hash (spec
// §9 open question: the source's plain `%` indexes out of bounds on a
// negative hash; this implementation takes hashes as uint64, so the
// bug cannot arise by construction).
type ShardedHashSet struct {
	shards []shard
}

type shard struct {
	mu   sync.RWMutex
	data map[uint64]struct{}
}

// NewShardedHashSet constructs a set with n shards (n <= 0 uses
// DefaultShardCount).
func NewShardedHashSet(n int) *ShardedHashSet {
	if n <= 0 {
		n = DefaultShardCount
	}
	s := &ShardedHashSet{shards: make([]shard, n)}
	for i := range s.shards {
		s.shards[i].data = make(map[uint64]struct{})
	}
	return s
}

func (s *ShardedHashSet) shardFor(hash uint64) *shard {
	return &s.shards[hash%uint64(len(s.shards))]
}

// Add inserts hash into its shard.
func (s *ShardedHashSet) Add(hash uint64) {
	sh := s.shardFor(hash)
	sh.mu.Lock()
	sh.data[hash] = struct{}{}
	sh.mu.Unlock()
}

// Contains reports whether hash is present.
func (s *ShardedHashSet) Contains(hash uint64) bool {
	sh := s.shardFor(hash)
	sh.mu.RLock()
	_, ok := sh.data[hash]
	sh.mu.RUnlock()
	return ok
}

// Remove deletes hash from its shard.
func (s *ShardedHashSet) Remove(hash uint64) {
	sh := s.shardFor(hash)
	sh.mu.Lock()
	delete(sh.data, hash)
	sh.mu.Unlock()
}

// Len returns the total element count across all shards.
func (s *ShardedHashSet) Len() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		total += len(s.shards[i].data)
		s.shards[i].mu.RUnlock()
	}
	return total
}

// CloseableIterator walks every shard in turn, holding only the
// current shard's read lock at a time (spec §4.9.2: "acquires each
// shard's read lock as it rotates to that shard"). Callers MUST call
// Close, including on early return, or the final shard's read lock
// leaks.
type CloseableIterator struct {
	set       *ShardedHashSet
	shardIdx  int
	keys      []uint64
	pos       int
	curLocked bool
}

// ConcurrentIterator returns a CloseableIterator over every element.
// Removal through the iterator (see Remove) only holds a read lock on
// the shard being visited, so it is weaker than Set.Remove and is
// documented as such (spec §4.9.2).
func (s *ShardedHashSet) ConcurrentIterator() *CloseableIterator {
	it := &CloseableIterator{set: s, shardIdx: -1}
	it.advanceShard()
	return it
}

func (it *CloseableIterator) advanceShard() {
	it.releaseCurrent()
	for {
		it.shardIdx++
		if it.shardIdx >= len(it.set.shards) {
			it.keys = nil
			return
		}
		sh := &it.set.shards[it.shardIdx]
		sh.mu.RLock()
		it.curLocked = true
		keys := make([]uint64, 0, len(sh.data))
		for k := range sh.data {
			keys = append(keys, k)
		}
		it.keys = keys
		it.pos = 0
		if len(keys) > 0 {
			return
		}
		it.releaseCurrent()
	}
}

func (it *CloseableIterator) releaseCurrent() {
	if it.curLocked {
		it.set.shards[it.shardIdx].mu.RUnlock()
		it.curLocked = false
	}
}

// Next returns the next hash and true, or 0 and false when exhausted.
func (it *CloseableIterator) Next() (uint64, bool) {
	for {
		if it.keys == nil {
			return 0, false
		}
		if it.pos < len(it.keys) {
			v := it.keys[it.pos]
			it.pos++
			return v, true
		}
		it.advanceShard()
	}
}

// Close releases any shard lock the iterator currently holds. Safe to
// call multiple times and after exhaustion.
func (it *CloseableIterator) Close() {
	it.releaseCurrent()
	it.keys = nil
}

// Remove deletes hash from the shard the iterator currently holds the
// read lock on; per spec §4.9.2 this only takes that read lock (not
// the shard's write lock), so it is weaker consistency than Set.Remove
// and concurrent readers of the same shard may briefly still observe
// the removed element.
func (it *CloseableIterator) Remove(hash uint64) {
	if it.shardIdx < 0 || it.shardIdx >= len(it.set.shards) {
		return
	}
	delete(it.set.shards[it.shardIdx].data, hash)
}
