package corestore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Buffer is the write-ahead, page-based queue of Writes spec §4.1
// describes: every Insert is durable before it returns, visible to
// reads immediately, and later moved into the Database by a
// Transporter. Buffer owns the FIFO list of sealed pages awaiting
// transport plus the one current page still accepting inserts.
type Buffer struct {
	dir string
	cfg Config
	ts  TimeSource
	log *zap.SugaredLogger

	pagesMu        sync.Mutex
	pages          []*bufferPage // sealed, oldest first, awaiting transport
	current        *bufferPage
	nextPageID     uint64
	isTransporting bool
	transportable  chan struct{}

	idxMu    sync.RWMutex
	byRecord map[Identifier][]Write
	byKey    map[string][]Write
	byCorpus map[corpusKey][]CorpusRevision

	listenersMu sync.Mutex
	listeners   []func()

	lastTransportMicros atomic.Int64
}

// NewBuffer opens dir/buffer, recovering any page files left over
// from a prior run (spec §7). The newest recovered page becomes the
// current page; a fresh page is opened only when none was recovered.
// searchable decides, per key, whether a recovered write should be
// retokenised into Corpus index entries — the page wire format (spec
// §6) doesn't itself persist the flag.
func NewBuffer(dir string, cfg Config, ts TimeSource, log *zap.SugaredLogger, searchable func(Text) bool) (*Buffer, error) {
	log = withLogger(log)
	pageDir := filepath.Join(dir, "buffer")
	if err := os.MkdirAll(pageDir, 0o755); err != nil {
		return nil, err
	}

	b := &Buffer{
		dir:           dir,
		cfg:           cfg,
		ts:            ts,
		log:           log,
		transportable: make(chan struct{}, 1),
		byRecord:      make(map[Identifier][]Write),
		byKey:         make(map[string][]Write),
		byCorpus:      make(map[corpusKey][]CorpusRevision),
	}
	b.lastTransportMicros.Store(time.Now().UnixMicro())

	entries, err := os.ReadDir(pageDir)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".page" {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".page"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		p, err := openBufferPage(filepath.Join(pageDir, pageFileName(id)), log, searchable)
		if err != nil {
			log.Warnw("excluding unreadable buffer page on restart", "id", id, "err", err)
			continue
		}
		for _, w := range p.Writes() {
			b.indexWrite(w)
		}
		if i == len(ids)-1 {
			// The newest page might still be the live (unsealed) one;
			// treat it as current rather than queueing it for
			// transport. If it was in fact already full, the next
			// Insert's size check seals it immediately.
			b.current = p
			b.nextPageID = id + 1
		} else {
			p.sealed = true
			b.pages = append(b.pages, p)
		}
	}

	if b.current == nil {
		p, err := newBufferPage(filepath.Join(pageDir, pageFileName(b.nextPageID)), b.nextPageID, log)
		if err != nil {
			return nil, err
		}
		b.current = p
		b.nextPageID++
	}
	if len(b.pages) > 0 {
		b.signalTransportable()
	}
	return b, nil
}

func pageFileName(id uint64) string {
	return strconv.FormatUint(id, 10) + ".page"
}

// Insert assigns w a monotonic version from the Buffer's TimeSource,
// appends it durably to the current page, updates the in-memory
// lookup index, and rotates the page if it has grown past PageSize
// (spec §4.1).
func (b *Buffer) Insert(w Write) (Write, error) {
	w.Version = b.ts.EpochMicros()

	b.pagesMu.Lock()
	if err := b.current.Insert(w, b.cfg.Sync); err != nil {
		b.pagesMu.Unlock()
		return Write{}, err
	}
	grew := b.current.Size() >= b.cfg.PageSize
	if grew {
		b.turnPageLocked()
	}
	b.pagesMu.Unlock()

	b.indexWrite(w)
	return w, nil
}

// turnPageLocked seals the current page, queues it for transport, and
// opens a fresh one. Must be called with pagesMu held.
func (b *Buffer) turnPageLocked() {
	old := b.current
	if err := old.Seal(); err != nil {
		b.log.Errorw("failed to seal buffer page", "id", old.id, "err", err)
	}
	b.pages = append(b.pages, old)

	p, err := newBufferPage(filepath.Join(b.dir, "buffer", pageFileName(b.nextPageID)), b.nextPageID, b.log)
	if err != nil {
		// Fatal per spec §4.1: "IO errors reading/writing pages are
		// fatal (panic/exit)".
		panic(err)
	}
	b.current = p
	b.nextPageID++
	b.signalTransportable()
}

func (b *Buffer) signalTransportable() {
	select {
	case b.transportable <- struct{}{}:
	default:
	}
}

// indexWrite folds w into the in-memory lookup index so point reads
// against still-unflushed data don't need to re-scan page files.
func (b *Buffer) indexWrite(w Write) {
	b.idxMu.Lock()
	defer b.idxMu.Unlock()
	b.byRecord[w.Record] = append(b.byRecord[w.Record], w)
	b.byKey[w.Key.String()] = append(b.byKey[w.Key.String()], w)
	for _, c := range w.Corpus() {
		ck := corpusKey{Key: c.Locator.String(), Word: c.Key.String()}
		b.byCorpus[ck] = append(b.byCorpus[ck], c)
	}
}

// removeFromIndex deletes exactly the entries contributed by writes
// (by identity of version, which is unique per Write) once they've
// been transported into the Database and are no longer "in the
// Buffer" by spec §3 invariant 2.
func (b *Buffer) removeFromIndex(writes []Write) {
	if len(writes) == 0 {
		return
	}
	versions := make(map[uint64]struct{}, len(writes))
	for _, w := range writes {
		versions[w.Version] = struct{}{}
	}

	b.idxMu.Lock()
	defer b.idxMu.Unlock()
	for rec, ws := range b.byRecord {
		b.byRecord[rec] = filterWrites(ws, versions)
	}
	for k, ws := range b.byKey {
		b.byKey[k] = filterWrites(ws, versions)
	}
	for ck, cs := range b.byCorpus {
		kept := cs[:0:0]
		for _, c := range cs {
			if _, gone := versions[c.Version]; !gone {
				kept = append(kept, c)
			}
		}
		b.byCorpus[ck] = kept
	}
}

func filterWrites(ws []Write, gone map[uint64]struct{}) []Write {
	kept := ws[:0:0]
	for _, w := range ws {
		if _, remove := gone[w.Version]; !remove {
			kept = append(kept, w)
		}
	}
	return kept
}

// RecordWrites returns every buffered (not-yet-transported) write for
// record, used by Database.select/verify to merge buffer state with
// segment state.
func (b *Buffer) RecordWrites(record Identifier) []Write {
	b.idxMu.RLock()
	defer b.idxMu.RUnlock()
	ws := b.byRecord[record]
	out := make([]Write, len(ws))
	copy(out, ws)
	return out
}

// KeyWrites returns every buffered write for key, used by
// Database.browse/find.
func (b *Buffer) KeyWrites(key Text) []Write {
	b.idxMu.RLock()
	defer b.idxMu.RUnlock()
	ws := b.byKey[key.String()]
	out := make([]Write, len(ws))
	copy(out, ws)
	return out
}

// CorpusRevisions returns every buffered Corpus posting for
// (key, word), used by Database.search.
func (b *Buffer) CorpusRevisions(key, word Text) []CorpusRevision {
	b.idxMu.RLock()
	defer b.idxMu.RUnlock()
	cs := b.byCorpus[corpusKey{Key: key.String(), Word: word.String()}]
	out := make([]CorpusRevision, len(cs))
	copy(out, cs)
	return out
}

// CorpusWords returns every distinct word buffered under key, for
// search's substring scan over the full posting space.
func (b *Buffer) CorpusWords(key Text) []string {
	b.idxMu.RLock()
	defer b.idxMu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	prefix := key.String()
	for ck := range b.byCorpus {
		if ck.Key != prefix {
			continue
		}
		if _, ok := seen[ck.Word]; !ok {
			seen[ck.Word] = struct{}{}
			out = append(out, ck.Word)
		}
	}
	return out
}

// TryTransport moves the oldest sealed page's writes into database's
// mutable seg0 and deletes the page (spec §4.1). Returns true iff at
// least one write moved in this call.
func (b *Buffer) TryTransport(db *Database) (bool, error) {
	b.pagesMu.Lock()
	if len(b.pages) == 0 || b.isTransporting {
		b.pagesMu.Unlock()
		return false, nil
	}
	page := b.pages[0]
	b.isTransporting = true
	b.pagesMu.Unlock()

	defer func() {
		b.pagesMu.Lock()
		b.isTransporting = false
		b.pagesMu.Unlock()
	}()

	writes := page.Writes()
	if len(writes) == 0 {
		b.dequeuePage(page)
		_ = page.Remove()
		return false, nil
	}

	seg0 := db.storage.Seg0()
	receipts := make([]Receipt, 0, len(writes))
	for _, w := range writes {
		r, err := seg0.Acquire(w)
		if err != nil {
			return false, err
		}
		receipts = append(receipts, r)
	}
	db.ingestReceipts(writes, receipts)

	b.dequeuePage(page)
	b.removeFromIndex(writes)
	if err := page.Remove(); err != nil {
		b.log.Warnw("failed to remove transported buffer page", "id", page.id, "err", err)
	}
	b.lastTransportMicros.Store(time.Now().UnixMicro())
	return true, nil
}

// dequeuePage removes page from the head of the pending queue. If
// doing so brings the backlog back down to at most one pending page,
// write pressure has dropped and the scale-back listener fires (spec
// §4.1, §4.5: the Streaming Transporter resets its sleep to MAX_SLEEP
// once the backlog it was draining aggressively has cleared).
func (b *Buffer) dequeuePage(page *bufferPage) {
	b.pagesMu.Lock()
	wasPending := len(b.pages)
	if wasPending > 0 && b.pages[0] == page {
		b.pages = b.pages[1:]
	}
	pending := len(b.pages)
	b.pagesMu.Unlock()

	if wasPending > 1 && pending <= 1 {
		b.fireScaleBack()
	}
}

// WaitUntilTransportable blocks until a page has been sealed since
// the last call, or ctx is done (spec §4.1; modelled as a cancellable
// condition rather than the source's raw condition variable so
// Transporter shutdown can interrupt it cleanly — spec §9's
// "interruptible condition variables").
func (b *Buffer) WaitUntilTransportable(ctx context.Context) {
	b.pagesMu.Lock()
	pending := len(b.pages)
	b.pagesMu.Unlock()
	if pending > 0 {
		return
	}
	select {
	case <-b.transportable:
	case <-ctx.Done():
	}
}

// OnTransportRateScaleBack registers listener to be invoked when the
// Buffer judges that write pressure has dropped back off — the pending
// backlog that made the Transporter drain aggressively has cleared, so
// it's safe to widen the poll sleep again (spec §4.1, §4.5).
func (b *Buffer) OnTransportRateScaleBack(listener func()) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners = append(b.listeners, listener)
}

func (b *Buffer) fireScaleBack() {
	b.listenersMu.Lock()
	listeners := append([]func(){}, b.listeners...)
	b.listenersMu.Unlock()
	for _, l := range listeners {
		l()
	}
}

// LastTransportMicros returns the epoch-microsecond timestamp of the
// most recent successful TryTransport, used by the Streaming
// Transporter's inactivity check (spec §4.5).
func (b *Buffer) LastTransportMicros() int64 {
	return b.lastTransportMicros.Load()
}

// PendingPages returns the count of sealed pages awaiting transport.
func (b *Buffer) PendingPages() int {
	b.pagesMu.Lock()
	defer b.pagesMu.Unlock()
	return len(b.pages)
}

// Close flushes and releases every page's file handle.
func (b *Buffer) Close() error {
	b.pagesMu.Lock()
	defer b.pagesMu.Unlock()
	var firstErr error
	for _, p := range b.pages {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.current.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
