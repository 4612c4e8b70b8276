package corestore

import "testing"

func TestAtomicOperationCommitThenFinishAppliesWrites(t *testing.T) {
	coord := NewTwoPhaseCoordinator(AlgXXHash3, nil)
	writes := []Write{
		NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 0, ActionAdd, false),
	}
	op := coord.Begin(writes)

	if outcome := op.Commit(); outcome != CommitOk {
		t.Fatalf("expected CommitOk, got %v", outcome)
	}

	applied := op.Finish()
	if len(applied) != 1 {
		t.Fatalf("expected Finish to return 1 write, got %d", len(applied))
	}
}

func TestAtomicOperationConflictWhenFingerprintAlreadyLocked(t *testing.T) {
	coord := NewTwoPhaseCoordinator(AlgXXHash3, nil)
	w := NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 0, ActionAdd, false)

	first := coord.Begin([]Write{w})
	if outcome := first.Commit(); outcome != CommitOk {
		t.Fatalf("expected first commit to succeed, got %v", outcome)
	}

	second := coord.Begin([]Write{w})
	if outcome := second.Commit(); outcome != CommitConflict {
		t.Fatalf("expected second commit to conflict, got %v", outcome)
	}

	first.Abort()
	if outcome := second.Commit(); outcome != CommitOk {
		t.Fatalf("expected commit to succeed after first aborts, got %v", outcome)
	}
}

func TestAtomicOperationFinishWithoutCommitIsNoOp(t *testing.T) {
	coord := NewTwoPhaseCoordinator(AlgXXHash3, nil)
	w := NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 0, ActionAdd, false)
	op := coord.Begin([]Write{w})

	applied := op.Finish()
	if applied != nil {
		t.Fatalf("expected Finish without Commit to return nil, got %v", applied)
	}
}

func TestAtomicOperationAbortReleasesLocks(t *testing.T) {
	coord := NewTwoPhaseCoordinator(AlgXXHash3, nil)
	w := NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 0, ActionAdd, false)

	op := coord.Begin([]Write{w})
	if outcome := op.Commit(); outcome != CommitOk {
		t.Fatalf("expected commit to succeed, got %v", outcome)
	}
	op.Abort()

	other := coord.Begin([]Write{w})
	if outcome := other.Commit(); outcome != CommitOk {
		t.Fatalf("expected lock to be released after Abort, got %v", outcome)
	}
}

func TestAtomicOperationDisjointWritesDoNotConflict(t *testing.T) {
	coord := NewTwoPhaseCoordinator(AlgXXHash3, nil)
	w1 := NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 0, ActionAdd, false)
	w2 := NewWrite(TextFromString("name"), NewString("bob"), Identifier(2), 0, ActionAdd, false)

	op1 := coord.Begin([]Write{w1})
	op2 := coord.Begin([]Write{w2})

	if outcome := op1.Commit(); outcome != CommitOk {
		t.Fatalf("expected op1 commit to succeed, got %v", outcome)
	}
	if outcome := op2.Commit(); outcome != CommitOk {
		t.Fatalf("expected op2 commit to succeed (disjoint fingerprints), got %v", outcome)
	}
}
