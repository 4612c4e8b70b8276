package corestore

import (
	"sync/atomic"
	"time"
)

// TimeSource hands out monotonic microsecond timestamps for Write
// versions (spec §2, §9). Spec §9 DESIGN NOTES bans the source's
// global TimeSource.LOCAL/DISTRIBUTED singletons in favour of an
// explicit handle threaded through constructors; NewBuffer takes one
// rather than reaching for a package global.
type TimeSource interface {
	// EpochMicros returns the current time in microseconds since the
	// Unix epoch. Successive calls on one TimeSource never return a
	// value less than a previous call's (spec §5: "writes ... carry
	// monotonic versions").
	EpochMicros() uint64
}

// localTimeSource derives versions from the wall clock, nudging
// forward by one when two calls land in the same microsecond or the
// clock appears to move backwards (NTP step). This is the "local"
// variant spec §2's table cites.
type localTimeSource struct {
	last atomic.Uint64
}

// NewLocalTimeSource returns a TimeSource backed by this process's
// wall clock.
func NewLocalTimeSource() TimeSource {
	return &localTimeSource{}
}

func (t *localTimeSource) EpochMicros() uint64 {
	for {
		now := uint64(time.Now().UnixMicro())
		last := t.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if t.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// HybridClock is the external collaborator spec §1 calls out:
// "cluster consensus (treated as an external collaborator providing
// hybrid_clock() and append_log(bytes))". Any distributed clock
// (e.g. a hybrid logical clock coordinated across nodes) that can
// produce a monotonic microsecond reading satisfies it.
type HybridClock interface {
	Now() uint64
}

// hybridTimeSource wraps an externally supplied HybridClock, still
// guarding against non-increasing readings the same way the local
// variant does, since the spec requires per-record FIFO version
// ordering regardless of clock source.
type hybridTimeSource struct {
	clock HybridClock
	last  atomic.Uint64
}

// NewHybridTimeSource wraps clock as a monotonic TimeSource (spec §2:
// "local or hybrid-distributed").
func NewHybridTimeSource(clock HybridClock) TimeSource {
	return &hybridTimeSource{clock: clock}
}

func (t *hybridTimeSource) EpochMicros() uint64 {
	for {
		now := t.clock.Now()
		last := t.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if t.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
