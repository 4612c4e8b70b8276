package collection

import (
	"sync"

	"github.com/google/btree"
)

// IncrementalSortMap is a concurrent navigable map that defers sorting
// (spec §4.9.3). Writes land in one of N hash-map shards; any
// navigable operation first drains every shard into an internal
// ordered tree (spec calls for a ConcurrentSkipListMap; this module
// uses google/btree's generic BTreeG, the ordered-map structure the
// pack's erigon repo already depends on, as the nearest idiomatic Go
// equivalent). Point reads outside navigation consult a shard first,
// falling back to the tree only if the shard missed and a drain has
// already happened.
type IncrementalSortMap[K any, V any] struct {
	less func(a, b K) bool

	mu      sync.RWMutex
	shards  []map[uint64]Entry[K, V]
	hashOf  func(K) uint64
	tree    *btree.BTreeG[Entry[K, V]]
	drained bool // true if tree reflects every shard's current contents
}

// NewIncrementalSortMap constructs a map ordered by less, hashing keys
// into n shards via hashOf (n <= 0 uses DefaultShardCount).
func NewIncrementalSortMap[K any, V any](n int, less func(a, b K) bool, hashOf func(K) uint64) *IncrementalSortMap[K, V] {
	if n <= 0 {
		n = DefaultShardCount
	}
	m := &IncrementalSortMap[K, V]{
		less:   less,
		shards: make([]map[uint64]Entry[K, V], n),
		hashOf: hashOf,
		tree: btree.NewG(32, func(a, b Entry[K, V]) bool {
			return less(a.Key, b.Key)
		}),
	}
	for i := range m.shards {
		m.shards[i] = make(map[uint64]Entry[K, V])
	}
	return m
}

func (m *IncrementalSortMap[K, V]) shardFor(hash uint64) map[uint64]Entry[K, V] {
	return m.shards[hash%uint64(len(m.shards))]
}

// Put inserts or overwrites key's value into its shard. A subsequent
// navigable operation will observe it once drained.
func (m *IncrementalSortMap[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := m.hashOf(key)
	m.shardFor(hash)[hash] = Entry[K, V]{Key: key, Value: value}
	m.drained = false
}

// Get consults key's shard directly, a point read bypassing the tree
// (spec §4.9.3: "reads outside navigation consult a shard first, then
// the skip-list").
func (m *IncrementalSortMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash := m.hashOf(key)
	if e, ok := m.shardFor(hash)[hash]; ok {
		return e.Value, true
	}
	if m.drained {
		if e, ok := m.tree.Get(Entry[K, V]{Key: key}); ok {
			return e.Value, true
		}
	}
	var zero V
	return zero, false
}

// drain merges every shard's pending entries into the tree. Must be
// called with mu held for writing.
func (m *IncrementalSortMap[K, V]) drain() {
	if m.drained {
		return
	}
	for _, shard := range m.shards {
		for _, e := range shard {
			m.tree.ReplaceOrInsert(e)
		}
	}
	m.drained = true
}

// Ascend visits every entry in ascending key order, draining first if
// any shard has pending writes.
func (m *IncrementalSortMap[K, V]) Ascend(yield func(K, V) bool) {
	m.mu.Lock()
	m.drain()
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	m.tree.Ascend(func(e Entry[K, V]) bool {
		return yield(e.Key, e.Value)
	})
}

// Min returns the smallest key's entry, draining first.
func (m *IncrementalSortMap[K, V]) Min() (K, V, bool) {
	m.mu.Lock()
	m.drain()
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tree.Min()
	return e.Key, e.Value, ok
}

// Max returns the largest key's entry, draining first.
func (m *IncrementalSortMap[K, V]) Max() (K, V, bool) {
	m.mu.Lock()
	m.drain()
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tree.Max()
	return e.Key, e.Value, ok
}

// Delete removes key, returning its value and whether it was present.
// Removes it from its shard and from the tree, since an earlier drain
// may have copied it into the tree even if later Puts have left the
// map undrained since.
func (m *IncrementalSortMap[K, V]) Delete(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := m.hashOf(key)
	sh := m.shardFor(hash)
	if e, ok := sh[hash]; ok {
		delete(sh, hash)
		m.tree.Delete(e)
		return e.Value, true
	}
	if m.drained {
		if e, ok := m.tree.Get(Entry[K, V]{Key: key}); ok {
			m.tree.Delete(e)
			return e.Value, true
		}
	}
	var zero V
	return zero, false
}

// Len returns the total entry count (draining first to dedupe shard
// vs tree overlap).
func (m *IncrementalSortMap[K, V]) Len() int {
	m.mu.Lock()
	m.drain()
	n := m.tree.Len()
	m.mu.Unlock()
	return n
}
