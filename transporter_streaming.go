package corestore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// StreamingTransporter continuously drains the Buffer into the
// Database, adapting its sleep interval to observed pressure and
// self-restarting if it appears to have hung (spec §4.5).
type StreamingTransporter struct {
	buffer *Buffer
	db     *Database
	cfg    Config
	log    *zap.SugaredLogger

	sleep          atomic.Int64 // current sleep, nanoseconds
	isDoingWork    atomic.Bool
	isPaused       atomic.Bool
	lastWakeupNs   atomic.Int64
	hasEverPaused  atomic.Bool
	hasRestarted   atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}
}

// NewStreamingTransporter wires up a Transporter draining buffer into
// db. It registers itself on buffer.OnTransportRateScaleBack so its
// sleep resets to MAX_SLEEP as soon as a backlog it was draining
// aggressively clears back down (spec §4.5).
func NewStreamingTransporter(buffer *Buffer, db *Database, cfg Config, log *zap.SugaredLogger) *StreamingTransporter {
	t := &StreamingTransporter{buffer: buffer, db: db, cfg: cfg, log: withLogger(log)}
	t.sleep.Store(int64(cfg.TransporterMaxSleep))
	buffer.OnTransportRateScaleBack(func() {
		t.sleep.Store(int64(cfg.TransporterMaxSleep))
	})
	return t
}

// Start launches the transport loop and its hung-detector side-thread.
func (t *StreamingTransporter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	t.done = make(chan struct{})
	t.running.Store(true)
	t.lastWakeupNs.Store(time.Now().UnixNano())

	go t.loop(ctx)
	go t.hungDetector(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (t *StreamingTransporter) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.running.Store(false)
	if t.done != nil {
		<-t.done
	}
}

func (t *StreamingTransporter) loop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		idle := time.Duration(time.Now().UnixMicro()-t.buffer.LastTransportMicros()) * time.Microsecond
		if idle > t.cfg.TransporterInactivityThreshold {
			t.isPaused.Store(true)
			t.hasEverPaused.Store(true)
			t.buffer.WaitUntilTransportable(ctx)
			t.isPaused.Store(false)
			if ctx.Err() != nil {
				return
			}
		}

		t.isDoingWork.Store(true)
		moved := t.tryOneCycle(ctx)
		t.isDoingWork.Store(false)

		if moved {
			t.scaleDown()
		}

		sleep := time.Duration(t.sleep.Load())
		t.lastWakeupNs.Store(time.Now().UnixNano())
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// tryOneCycle implements one cycle's try-lock-then-transport step
// (spec §4.5 item 2), wrapping the transport attempt's transient IO
// errors in a bounded exponential backoff (spec §7: transient IO is
// retried; fatal IO errors panic, matching Buffer's own fatal-IO
// contract) rather than the sleep-scaling arithmetic below, which is a
// simple halve/reset-to-max rule and not itself a retry policy.
func (t *StreamingTransporter) tryOneCycle(ctx context.Context) bool {
	if !t.db.Storage().TryLock() {
		return false
	}
	t.db.Storage().Unlock()

	var moved bool
	op := func() error {
		var err error
		moved, err = t.buffer.TryTransport(t.db)
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(op, b); err != nil {
		t.log.Errorw("transport cycle failed after retries", "err", err)
		return false
	}
	return moved
}

// scaleDown halves sleep toward MinSleep whenever a transport actually
// moved data (spec §4.5: "decrement sleep_ms toward MIN_SLEEP").
func (t *StreamingTransporter) scaleDown() {
	for {
		cur := t.sleep.Load()
		next := cur / 2
		if next < int64(t.cfg.TransporterMinSleep) {
			next = int64(t.cfg.TransporterMinSleep)
		}
		if t.sleep.CompareAndSwap(cur, next) {
			return
		}
	}
}

// hungDetector runs every HungCheckInterval: if the loop isn't doing
// work, isn't paused, and hasn't woken up in HungThreshold, it's
// declared hung and restarted (spec §4.5 item 4).
func (t *StreamingTransporter) hungDetector(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.TransporterHungCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, t.lastWakeupNs.Load()))
			if !t.isDoingWork.Load() && !t.isPaused.Load() && idle > t.cfg.TransporterHungThreshold {
				t.log.Warnw("transporter appears hung, restarting", "idle", idle)
				t.restart(ctx)
			}
		}
	}
}

// restart cancels the current loop and resubmits a fresh one (spec
// §4.5: "set running=false, cancel outstanding tasks ... set
// running=true, resubmit").
func (t *StreamingTransporter) restart(parent context.Context) {
	t.hasRestarted.Store(true)
	t.running.Store(false)

	t.mu.Lock()
	cancel := t.cancel
	ctx, newCancel := context.WithCancel(parent)
	t.cancel = newCancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	t.done = make(chan struct{})
	t.running.Store(true)
	t.lastWakeupNs.Store(time.Now().UnixNano())
	go t.loop(ctx)
}

// HasEverPaused reports whether the transporter has ever entered its
// idle-wait branch, for diagnostics.
func (t *StreamingTransporter) HasEverPaused() bool { return t.hasEverPaused.Load() }

// HasEverRestarted reports whether the hung-detector has ever fired.
func (t *StreamingTransporter) HasEverRestarted() bool { return t.hasRestarted.Load() }
