package corestore

import (
	"context"
	"sync"
	"testing"
)

// fakeBatchSource hands out a fixed slice of Batches in order and
// records which ones were purged.
type fakeBatchSource struct {
	mu      sync.Mutex
	batches []Batch
	next    int
	purged  map[uint64]bool
}

func newFakeBatchSource(batches []Batch) *fakeBatchSource {
	return &fakeBatchSource{batches: batches, purged: make(map[uint64]bool)}
}

func (f *fakeBatchSource) NextBatch(ctx context.Context) (Batch, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.batches) {
		return Batch{}, false, nil
	}
	b := f.batches[f.next]
	f.next++
	return b, true, nil
}

func (f *fakeBatchSource) Purge(batch Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged[batch.Ordinal] = true
	return nil
}

func (f *fakeBatchSource) purgedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.purged {
		if v {
			n++
		}
	}
	return n
}

func newTestBatchDatabase(t *testing.T) (*Database, *SegmentStorage) {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig()
	buf, err := NewBuffer(dir, cfg, NewLocalTimeSource(), nil, func(Text) bool { return false })
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	t.Cleanup(func() { buf.Close() })
	storage, err := OpenSegmentStorage(dir, cfg.HashAlgorithm, cfg.BloomFalsePositiveRate, nil)
	if err != nil {
		t.Fatalf("OpenSegmentStorage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return OpenDatabase(storage, buf, cfg, nil), storage
}

func TestBatchTransporterMergesInOrdinalOrder(t *testing.T) {
	db, storage := newTestBatchDatabase(t)
	batches := []Batch{
		{Name: "b0", Ordinal: 0, Writes: []Write{
			NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 1, ActionAdd, false),
		}},
		{Name: "b1", Ordinal: 1, Writes: []Write{
			NewWrite(TextFromString("name"), NewString("bob"), Identifier(2), 1, ActionAdd, false),
		}},
		{Name: "b2", Ordinal: 2, Writes: []Write{
			NewWrite(TextFromString("name"), NewString("carol"), Identifier(3), 1, ActionAdd, false),
		}},
	}
	source := newFakeBatchSource(batches)
	bt := NewBatchTransporter(source, db, testConfig(), nil)

	if err := bt.Run(context.Background(), 4); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(storage.Sealed()) != 3 {
		t.Fatalf("expected 3 merged segments, got %d", len(storage.Sealed()))
	}
	if source.purgedCount() != 3 {
		t.Fatalf("expected all 3 batches purged, got %d", source.purgedCount())
	}

	set, err := db.Select(TextFromString("name"), Identifier(2), VersionNow)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected record 2's value to be visible after merge, got len %d", set.Len())
	}
}

func TestBatchTransporterHandlesEmptySource(t *testing.T) {
	db, storage := newTestBatchDatabase(t)
	source := newFakeBatchSource(nil)
	bt := NewBatchTransporter(source, db, testConfig(), nil)

	if err := bt.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(storage.Sealed()) != 0 {
		t.Fatalf("expected no segments merged from an empty source, got %d", len(storage.Sealed()))
	}
}

func TestBatchTransporterPendingOrdinalsDrainsToEmpty(t *testing.T) {
	db, _ := newTestBatchDatabase(t)
	batches := []Batch{
		{Name: "b0", Ordinal: 0, Writes: []Write{
			NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 1, ActionAdd, false),
		}},
	}
	source := newFakeBatchSource(batches)
	bt := NewBatchTransporter(source, db, testConfig(), nil)

	if err := bt.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(bt.pendingOrdinals()) != 0 {
		t.Fatalf("expected no ordinals left pending after a full drain, got %v", bt.pendingOrdinals())
	}
}
