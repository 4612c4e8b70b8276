package corestore

import (
	"strconv"
	"sync"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/jpl-au/corestore/internal/collection"
)

// lookupCache is a fixed-capacity cache shared by the three lookup
// caches below (spec §3: "Caches are bounded by a configurable heap
// budget; eviction is advisory (LRU/softref) and fires a listener";
// spec §4.2 backs them with the incremental-sort-map family). Values
// live in an IncrementalSortMap, internal/collection's concurrent
// deferred-sort map (Buffer pages use its sibling BridgeSortMap);
// eviction candidates are picked
// with a clock (second-chance) sweep, using a ShardedHashSet as the
// per-entry reference bit — IncrementalSortMap orders by domain key,
// not by access recency, so it cannot itself tell the sweep which
// entries are cold.
type lookupCache[K comparable, V any] struct {
	capacity int
	hashOf   func(K) uint64
	onEvict  func(K, V)

	store      *collection.IncrementalSortMap[K, V]
	referenced *collection.ShardedHashSet

	mu    sync.Mutex
	queue []K // clock hand order; front is the next eviction candidate
	size  int
}

func newLookupCache[K comparable, V any](capacity int, less func(a, b K) bool, hashOf func(K) uint64, onEvict func(K, V)) *lookupCache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &lookupCache[K, V]{
		capacity:   capacity,
		hashOf:     hashOf,
		onEvict:    onEvict,
		store:      collection.NewIncrementalSortMap[K, V](0, less, hashOf),
		referenced: collection.NewShardedHashSet(0),
	}
}

func (c *lookupCache[K, V]) Get(key K) (V, bool) {
	v, ok := c.store.Get(key)
	if ok {
		c.referenced.Add(c.hashOf(key))
	}
	return v, ok
}

func (c *lookupCache[K, V]) GetOrCreate(key K, create func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := create()
	if existing, ok := c.Get(key); ok {
		return existing
	}
	c.Put(key, v)
	return v
}

func (c *lookupCache[K, V]) Put(key K, value V) {
	_, existed := c.store.Get(key)
	c.store.Put(key, value)
	if existed {
		return
	}
	// New entries start with their reference bit unset — the clock
	// sweep below only gives a second chance to entries a Get has
	// touched since they were queued.
	c.mu.Lock()
	c.queue = append(c.queue, key)
	c.size++
	c.mu.Unlock()
	c.evictIfNeeded()
}

func (c *lookupCache[K, V]) Invalidate(key K) {
	if _, ok := c.store.Delete(key); !ok {
		return
	}
	c.referenced.Remove(c.hashOf(key))
	c.mu.Lock()
	c.size--
	c.mu.Unlock()
}

func (c *lookupCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// evictIfNeeded runs a clock sweep until the cache is back within
// capacity: an entry whose reference bit is set gets a second chance
// (the bit is cleared and it's moved to the back of the queue) rather
// than being evicted outright.
func (c *lookupCache[K, V]) evictIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.size > c.capacity && len(c.queue) > 0 {
		key := c.queue[0]
		c.queue = c.queue[1:]

		v, ok := c.store.Get(key)
		if !ok {
			// Already removed via Invalidate; drop the stale queue
			// entry, size was already decremented there.
			continue
		}
		h := c.hashOf(key)
		if c.referenced.Contains(h) {
			c.referenced.Remove(h)
			c.queue = append(c.queue, key)
			continue
		}
		c.store.Delete(key)
		c.size--
		if c.onEvict != nil {
			c.onEvict(key, v)
		}
	}
}

// partialRecordKey is PartialRecord's (record, key) cache key (spec §3).
type partialRecordKey struct {
	Record Identifier
	Key    string
}

func partialRecordKeyLess(a, b partialRecordKey) bool {
	if c := a.Record.Compare(b.Record); c != 0 {
		return c < 0
	}
	return a.Key < b.Key
}

func hashPartialRecordKey(k partialRecordKey) uint64 {
	return xxh3.HashString(strconv.FormatUint(uint64(k.Record), 10) + "\x00" + k.Key)
}

// partialRecordCache backs Database.select(record,key,version): a
// cache of (record,key) -> sorted_set<value>.
type partialRecordCache struct {
	c *lookupCache[partialRecordKey, *SortedSet[Value]]
}

func newPartialRecordCache(capacity int, log *zap.SugaredLogger) *partialRecordCache {
	return &partialRecordCache{c: newLookupCache[partialRecordKey, *SortedSet[Value]](capacity, partialRecordKeyLess, hashPartialRecordKey, func(k partialRecordKey, _ *SortedSet[Value]) {
		log.Debugw("evicting partial record cache entry", "record", k.Record, "key", k.Key)
	})}
}

// corpusKey is CorpusRecord's (key, word) cache key (spec §3).
type corpusKey struct {
	Key  string
	Word string
}

func corpusKeyLess(a, b corpusKey) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Word < b.Word
}

func hashCorpusKey(k corpusKey) uint64 {
	return xxh3.HashString(k.Key + "\x00" + k.Word)
}

// corpusRecordCache backs Database.search: a cache of (key,word) ->
// sorted_set<position>.
type corpusRecordCache struct {
	c *lookupCache[corpusKey, *SortedSet[Position]]
}

func newCorpusRecordCache(capacity int, log *zap.SugaredLogger) *corpusRecordCache {
	return &corpusRecordCache{c: newLookupCache[corpusKey, *SortedSet[Position]](capacity, corpusKeyLess, hashCorpusKey, func(k corpusKey, _ *SortedSet[Position]) {
		log.Debugw("evicting corpus record cache entry", "key", k.Key, "word", k.Word)
	})}
}

// valueBucket is one value's record set within a secondaryRecordEntry.
type valueBucket struct {
	Val     Value
	Records *RecordSet
}

// secondaryRecordEntry is SecondaryRecord's per-key cache value: a
// (value -> sorted_set<record>) map (spec §3).
type secondaryRecordEntry struct {
	mu      sync.RWMutex
	buckets map[string]valueBucket
}

func newSecondaryRecordEntry() *secondaryRecordEntry {
	return &secondaryRecordEntry{buckets: make(map[string]valueBucket)}
}

func (e *secondaryRecordEntry) add(val Value, record Identifier) {
	key := string(val.Encode())
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buckets[key]
	if !ok {
		b = valueBucket{Val: val, Records: NewRecordSet()}
	}
	b.Records.Add(record)
	e.buckets[key] = b
}

func (e *secondaryRecordEntry) snapshot() map[string]valueBucket {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]valueBucket, len(e.buckets))
	for k, v := range e.buckets {
		out[k] = valueBucket{Val: v.Val, Records: v.Records.Clone()}
	}
	return out
}

func stringLess(a, b string) bool { return a < b }

// secondaryRecordCache backs Database.browse(key,version): a cache of
// key -> (value -> sorted_set<record>).
type secondaryRecordCache struct {
	c *lookupCache[string, *secondaryRecordEntry]
}

func newSecondaryRecordCache(capacity int, log *zap.SugaredLogger) *secondaryRecordCache {
	return &secondaryRecordCache{c: newLookupCache[string, *secondaryRecordEntry](capacity, stringLess, xxh3.HashString, func(k string, _ *secondaryRecordEntry) {
		log.Debugw("evicting secondary record cache entry", "key", k)
	})}
}
