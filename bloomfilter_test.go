package corestore

import (
	"path/filepath"
	"testing"
)

func TestLoggingBloomFilterPutThenMightContain(t *testing.T) {
	bf := NewLoggingBloomFilter(1000, 0.01, AlgXXHash3)
	data := []byte("hello-fingerprint")
	if bf.MightContain(data) {
		t.Fatal("expected MightContain false before Put")
	}
	bf.Put(data)
	if !bf.MightContain(data) {
		t.Fatal("expected MightContain true after Put")
	}
}

func TestLoggingBloomFilterNeverFalseNegative(t *testing.T) {
	bf := NewLoggingBloomFilter(200, 0.01, AlgXXHash3)
	items := make([][]byte, 0, 100)
	for i := 0; i < 100; i++ {
		items = append(items, []byte{byte(i), byte(i >> 8), byte(i * 7)})
	}
	for _, it := range items {
		bf.Put(it)
	}
	for _, it := range items {
		if !bf.MightContain(it) {
			t.Fatalf("false negative for %v", it)
		}
	}
}

func TestLoggingBloomFilterDiskSyncAppendsAndReplays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg.blm")

	bf, err := OpenLoggingBloomFilter(path, 500, 0.01, AlgXXHash3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bf.Put([]byte("alpha"))
	bf.Put([]byte("beta"))
	if err := bf.DiskSync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := bf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenLoggingBloomFilter(path, 500, 0.01, AlgXXHash3)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.MightContain([]byte("alpha")) || !reopened.MightContain([]byte("beta")) {
		t.Fatal("expected replayed filter to contain previously-put items")
	}
}

func TestLoggingBloomFilterSizing(t *testing.T) {
	bf := NewLoggingBloomFilter(1000, 0.01, AlgXXHash3)
	if bf.NumBits() == 0 {
		t.Fatal("expected non-zero numBits")
	}
	if bf.K() == 0 {
		t.Fatal("expected non-zero k")
	}
}

func TestLoggingBloomFilterDiskSyncIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg.blm")
	bf, err := OpenLoggingBloomFilter(path, 500, 0.01, AlgXXHash3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bf.Put([]byte("one"))
	if err := bf.DiskSync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	firstSynced := bf.synced

	bf.Put([]byte("two"))
	if err := bf.DiskSync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if bf.synced <= firstSynced {
		t.Fatal("expected synced count to grow monotonically across syncs")
	}
}
