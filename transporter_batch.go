package corestore

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Batch is one named, ordinal-tagged unit of writes a
// BatchTransportable source hands out (spec §4.6).
type Batch struct {
	Name    string
	Writes  []Write
	Ordinal uint64
}

// BatchTransportable is an explicit-pull Write source: nextBatch()
// hands the consumer a Batch to index; purge() removes it once the
// consumer has finished (spec §4.6).
type BatchTransportable interface {
	NextBatch(ctx context.Context) (Batch, bool, error)
	Purge(batch Batch) error
}

// BatchTransporter drains a BatchTransportable, indexing each batch's
// writes (optionally in parallel across batches) and merging the
// resulting segments into the Database strictly in ordinal order,
// since consumers "MUST merge resulting segments into the Database in
// ordinal order" (spec §4.6).
type BatchTransporter struct {
	source BatchTransportable
	db     *Database
	cfg    Config
	log    *zap.SugaredLogger

	mu       sync.Mutex
	pending  map[uint64]indexedBatch
	nextMerge uint64
}

type indexedBatch struct {
	batch    Batch
	segment  *Segment
	receipts []Receipt
}

// NewBatchTransporter wires source to db.
func NewBatchTransporter(source BatchTransportable, db *Database, cfg Config, log *zap.SugaredLogger) *BatchTransporter {
	return &BatchTransporter{
		source:  source,
		db:      db,
		cfg:     cfg,
		log:     withLogger(log),
		pending: make(map[uint64]indexedBatch),
	}
}

// Run pulls batches until the source is exhausted or ctx is cancelled,
// indexing up to parallelism batches concurrently via an errgroup
// while still committing merges in strict ordinal order.
func (bt *BatchTransporter) Run(ctx context.Context, parallelism int) error {
	if parallelism < 1 {
		parallelism = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for {
		batch, ok, err := bt.source.NextBatch(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		b := batch
		g.Go(func() error {
			return bt.indexAndQueue(b)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return bt.drainPending()
}

// indexAndQueue builds a fresh segment from one batch's writes
// (consumer's "index the writes, potentially in parallel" step) and
// stashes it keyed by ordinal, then opportunistically merges whatever
// ordinal-contiguous run is ready.
func (bt *BatchTransporter) indexAndQueue(batch Batch) error {
	seg, err := NewSegment(bt.cfg.HashAlgorithm, bt.cfg.BloomFalsePositiveRate, "", bt.log)
	if err != nil {
		return err
	}
	receipts := make([]Receipt, 0, len(batch.Writes))
	for _, w := range batch.Writes {
		r, err := seg.Acquire(w)
		if err != nil {
			return err
		}
		receipts = append(receipts, r)
	}

	bt.mu.Lock()
	bt.pending[batch.Ordinal] = indexedBatch{batch: batch, segment: seg, receipts: receipts}
	bt.mu.Unlock()

	return bt.drainPending()
}

// drainPending merges every ordinal-contiguous batch starting at
// nextMerge, in order, then purges each from the source. mu is held
// throughout, so concurrent callers never merge out of order.
func (bt *BatchTransporter) drainPending() error {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	for {
		ib, ok := bt.pending[bt.nextMerge]
		if !ok {
			return nil
		}
		delete(bt.pending, bt.nextMerge)
		bt.nextMerge++

		if err := bt.db.Merge(ib.segment, ib.receipts); err != nil {
			return err
		}
		if err := bt.source.Purge(ib.batch); err != nil {
			return err
		}
	}
}

// pendingOrdinals returns the ordinals currently buffered awaiting
// their turn to merge, for diagnostics/tests.
func (bt *BatchTransporter) pendingOrdinals() []uint64 {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	out := make([]uint64, 0, len(bt.pending))
	for k := range bt.pending {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
