package corestore

import "testing"

func sealNSegments(t *testing.T, storage *SegmentStorage, n int, write func(seg0 *Segment) error) {
	t.Helper()
	for i := 0; i < n; i++ {
		seg0 := storage.Seg0()
		if write != nil {
			if err := write(seg0); err != nil {
				t.Fatalf("write to seg0: %v", err)
			}
		}
		if _, err := storage.SealSeg0AndInsert(); err != nil {
			t.Fatalf("SealSeg0AndInsert: %v", err)
		}
	}
}

func TestNoOpCompactorNeverReplacesSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	storage, err := OpenSegmentStorage(dir, cfg.HashAlgorithm, cfg.BloomFalsePositiveRate, nil)
	if err != nil {
		t.Fatalf("OpenSegmentStorage: %v", err)
	}
	defer storage.Close()

	sealNSegments(t, storage, 3, func(seg0 *Segment) error {
		_, err := seg0.Acquire(NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 1, ActionAdd, false))
		return err
	})

	buf, err := NewBuffer(dir, cfg, NewLocalTimeSource(), nil, func(Text) bool { return false })
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	defer buf.Close()
	db := OpenDatabase(storage, buf, cfg, nil)

	compactor := NewCompactor(db, NoOpCompactor{}, dir, cfg, nil)
	if err := compactor.ExecuteFullCompaction(); err != nil {
		t.Fatalf("ExecuteFullCompaction: %v", err)
	}

	if len(storage.Sealed()) != 3 {
		t.Fatalf("expected NoOpCompactor to leave all 3 segments untouched, got %d", len(storage.Sealed()))
	}
}

func TestTryIncrementalCompactionNeedsMoreThanTwoSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	storage, err := OpenSegmentStorage(dir, cfg.HashAlgorithm, cfg.BloomFalsePositiveRate, nil)
	if err != nil {
		t.Fatalf("OpenSegmentStorage: %v", err)
	}
	defer storage.Close()
	sealNSegments(t, storage, 1, nil)

	buf, err := NewBuffer(dir, cfg, NewLocalTimeSource(), nil, func(Text) bool { return false })
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	defer buf.Close()
	db := OpenDatabase(storage, buf, cfg, nil)

	compactor := NewCompactor(db, NoOpCompactor{}, dir, cfg, nil)
	ran, err := compactor.TryIncrementalCompaction()
	if err != nil {
		t.Fatalf("TryIncrementalCompaction: %v", err)
	}
	if ran {
		t.Fatalf("expected no shift to run with only 1 sealed + seg0 segments")
	}
}

func TestMergeSortCompactorMergesSimilarSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CompactionSimilarityThreshold = 0 // force the merge for any overlap
	storage, err := OpenSegmentStorage(dir, cfg.HashAlgorithm, cfg.BloomFalsePositiveRate, nil)
	if err != nil {
		t.Fatalf("OpenSegmentStorage: %v", err)
	}
	defer storage.Close()

	// Two segments holding the same write (same record/key/value and
	// version) so SimilarityWith reports a high overlap.
	sealNSegments(t, storage, 2, func(seg0 *Segment) error {
		_, err := seg0.Acquire(NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 1, ActionAdd, false))
		return err
	})
	// A third segment sharing nothing with the first two, so the sealed
	// prefix holds more than just the pair to be merged.
	sealNSegments(t, storage, 1, func(seg0 *Segment) error {
		_, err := seg0.Acquire(NewWrite(TextFromString("name"), NewString("carol"), Identifier(2), 1, ActionAdd, false))
		return err
	})

	buf, err := NewBuffer(dir, cfg, NewLocalTimeSource(), nil, func(Text) bool { return false })
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	defer buf.Close()
	db := OpenDatabase(storage, buf, cfg, nil)

	compactor := NewCompactor(db, MergeSortCompactor{}, dir, cfg, nil)
	if err := compactor.ExecuteFullCompaction(); err != nil {
		t.Fatalf("ExecuteFullCompaction: %v", err)
	}

	if len(storage.Sealed()) >= 3 {
		t.Fatalf("expected at least one merge to reduce the sealed segment count below 3, got %d", len(storage.Sealed()))
	}
}
