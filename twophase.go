package corestore

import (
	"sync"

	"go.uber.org/zap"
)

// AtomicOperation is the front-end's distributed commit unit (spec §4
// overview: "client → AtomicOperation → Buffer"; §9 DESIGN NOTES
// re-architects the source's exception-based failures into an
// explicit CommitOutcome). Commit() acquires locks on every fingerprint
// the operation touches but defers applying its Writes until Finish();
// Abort() releases the locks without applying anything.
type AtomicOperation struct {
	coord    *twoPhaseCoordinator
	writes   []Write
	fps      []string
	committed bool
	log      *zap.SugaredLogger
}

// twoPhaseCoordinator is the shared fingerprint lock table every
// AtomicOperation commits through (spec §4's TwoPhaseCommit, §5: "Two-
// phase commit waits for its peers; no internal suspension" — modelled
// here as non-blocking acquisition that reports CommitConflict rather
// than actually suspending, since this build has no peer-coordination
// transport to suspend against).
type twoPhaseCoordinator struct {
	mu     sync.Mutex
	locked map[string]*AtomicOperation
	alg    int
	log    *zap.SugaredLogger
}

// NewTwoPhaseCoordinator constructs the shared lock table a Database's
// AtomicOperations commit through. alg must match the Database's
// configured HashAlgorithm so fingerprints agree with its Composites.
func NewTwoPhaseCoordinator(alg int, log *zap.SugaredLogger) *twoPhaseCoordinator {
	return &twoPhaseCoordinator{locked: make(map[string]*AtomicOperation), alg: alg, log: withLogger(log)}
}

// Begin starts a new AtomicOperation over writes, not yet committed.
func (c *twoPhaseCoordinator) Begin(writes []Write) *AtomicOperation {
	fps := make([]string, len(writes))
	for i, w := range writes {
		fps[i] = string(BuildComposite(c.alg, w.Record, w.Key, w.Val).Bytes())
	}
	return &AtomicOperation{coord: c, writes: writes, fps: fps, log: c.log}
}

// Commit attempts non-blocking, all-or-nothing acquisition of every
// fingerprint op touches (spec §4's "acquires locks on commit but
// defers application until finish"). CommitConflict means another
// operation holds one of them; the caller should retry the whole
// operation. Locks acquired here are held until Finish or Abort
// releases them.
func (op *AtomicOperation) Commit() CommitOutcome {
	op.coord.mu.Lock()
	defer op.coord.mu.Unlock()

	for _, fp := range op.fps {
		if holder, ok := op.coord.locked[fp]; ok && holder != op {
			return CommitConflict
		}
	}
	for _, fp := range op.fps {
		op.coord.locked[fp] = op
	}
	op.committed = true
	return CommitOk
}

// Finish applies op's Writes (the caller is responsible for routing
// them into the Buffer) and releases every lock Commit acquired.
// Calling Finish without a prior successful Commit is a no-op.
func (op *AtomicOperation) Finish() []Write {
	if !op.committed {
		return nil
	}
	op.release()
	return op.writes
}

// Abort releases any locks Commit acquired without applying anything.
func (op *AtomicOperation) Abort() {
	op.release()
}

func (op *AtomicOperation) release() {
	op.coord.mu.Lock()
	defer op.coord.mu.Unlock()
	for _, fp := range op.fps {
		if op.coord.locked[fp] == op {
			delete(op.coord.locked, fp)
		}
	}
	op.committed = false
}
