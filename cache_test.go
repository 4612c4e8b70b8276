package corestore

import (
	"testing"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

func TestLookupCacheGetPutInvalidate(t *testing.T) {
	c := newLookupCache[string, int](2, stringLess, xxh3.HashString, nil)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit for a=1, got %v %v", v, ok)
	}

	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a to be invalidated")
	}
}

func TestLookupCacheClockSweepGivesTouchedEntriesASecondChance(t *testing.T) {
	var evicted []string
	c := newLookupCache[string, int](2, stringLess, xxh3.HashString, func(k string, v int) {
		evicted = append(evicted, k)
	})

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // touch a, setting its reference bit
	c.Put("c", 3)

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("expected b to be evicted, got %v", evicted)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected c to be present")
	}
}

func TestLookupCacheGetOrCreateOnlyCallsFactoryOnce(t *testing.T) {
	c := newLookupCache[string, int](4, stringLess, xxh3.HashString, nil)
	calls := 0
	create := func() int {
		calls++
		return 42
	}

	v1 := c.GetOrCreate("x", create)
	v2 := c.GetOrCreate("x", create)

	if v1 != 42 || v2 != 42 {
		t.Fatalf("expected both calls to return 42, got %d %d", v1, v2)
	}
	if calls != 1 {
		t.Fatalf("expected factory to run once, ran %d times", calls)
	}
}

func TestLookupCacheZeroCapacityClampsToOne(t *testing.T) {
	c := newLookupCache[string, int](0, stringLess, xxh3.HashString, nil)
	c.Put("a", 1)
	c.Put("b", 2)
	if c.Len() != 1 {
		t.Fatalf("expected capacity clamped to 1, got len %d", c.Len())
	}
}

func TestPartialRecordCachePutGetInvalidate(t *testing.T) {
	log := zap.NewNop().Sugar()
	cache := newPartialRecordCache(4, log)
	key := partialRecordKey{Record: Identifier(1), Key: "name"}
	set := NewValueSet()
	set.Add(NewString("hi"))

	cache.c.Put(key, set)
	got, ok := cache.c.Get(key)
	if !ok || got.Len() != 1 {
		t.Fatalf("expected cached value set with 1 entry")
	}

	cache.c.Invalidate(key)
	if _, ok := cache.c.Get(key); ok {
		t.Fatalf("expected entry to be invalidated")
	}
}

func TestSecondaryRecordEntrySnapshotIsIndependent(t *testing.T) {
	e := newSecondaryRecordEntry()
	e.add(NewInt64(1), Identifier(10))
	e.add(NewInt64(1), Identifier(20))

	snap := e.snapshot()
	bucket, ok := snap[string(NewInt64(1).Encode())]
	if !ok {
		t.Fatalf("expected bucket for value 1")
	}
	if bucket.Records.Len() != 2 {
		t.Fatalf("expected 2 records in bucket, got %d", bucket.Records.Len())
	}

	bucket.Records.Add(Identifier(30))
	again := e.snapshot()
	if again[string(NewInt64(1).Encode())].Records.Len() != 2 {
		t.Fatalf("mutating a snapshot's record set should not affect the source entry")
	}
}
