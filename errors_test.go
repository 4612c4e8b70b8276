// Sentinel error tests.
//
// The storage core matches errors with errors.Is against a closed set
// of named conditions (spec §7). Two sentinels sharing a message would
// let a caller's errors.Is check silently match the wrong condition; a
// nil sentinel would panic errors.Is.
package corestore

import (
	"errors"
	"testing"
)

func TestSentinelErrorsAreDistinctAndNonNil(t *testing.T) {
	errs := []error{
		ErrClosed,
		ErrSegmentNotFound,
		ErrCorruptHeader,
		ErrCorruptManifest,
		ErrUnsupportedSchema,
		ErrCompositeTooLarge,
		ErrBufferIO,
		ErrCapacity,
		ErrInvalidPath,
		ErrDecompress,
	}

	seen := make(map[string]bool, len(errs))
	for i, err := range errs {
		if err == nil {
			t.Fatalf("sentinel error at index %d is nil", i)
		}
		msg := err.Error()
		if seen[msg] {
			t.Fatalf("duplicate sentinel error message: %q", msg)
		}
		seen[msg] = true
	}
}

func TestCommitOutcomeString(t *testing.T) {
	cases := map[CommitOutcome]string{
		CommitOk:         "ok",
		CommitConflict:   "conflict",
		CommitFatal:      "fatal",
		CommitOutcome(99): "unknown",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("CommitOutcome(%d).String() = %q, want %q", outcome, got, want)
		}
	}
}

func TestErrorsWrapping(t *testing.T) {
	wrapped := errors.New("wrapped: " + ErrClosed.Error())
	if errors.Is(wrapped, ErrClosed) {
		t.Fatal("errors.New should not satisfy errors.Is without %w wrapping")
	}
}
