package corestore

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SegmentStorage owns the ordered segment list plus the mutable tail
// segment `seg0`, and is the sole lock guarding the list's shape (spec
// §4.2, §5): "every mutation of the segment list is under the
// SegmentStorage write lock. Reads take the read lock."
//
// Invariant (spec §4.2 item 3): the segment list is at all times
// [s1, s2, …, sn, seg0], where seg0 is the only mutable element and
// always the tail.
type SegmentStorage struct {
	lock sync.RWMutex // the read/write lock spec §5 item 1 describes

	dir       string
	fileLock  fileLock // cross-process coordination over dir (spec's fileLock)
	sealed    []*Segment
	seg0      *Segment
	alg       int
	bloomFPP  float64
	log       *zap.SugaredLogger
}

// OpenSegmentStorage lists dir/segments/*.seg, loads each header, sorts
// by starting version, drops duplicate-overlap segments (spec §4.2:
// "full-record restart behaviour ... detect and remove duplicate-data
// segments (overlapping fingerprints)"), and opens a fresh mutable
// seg0.
func OpenSegmentStorage(dir string, alg int, bloomFPP float64, log *zap.SugaredLogger) (*SegmentStorage, error) {
	log = withLogger(log)
	segDir := filepath.Join(dir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, err
	}
	bloomDir := filepath.Join(dir, "bloom")
	if err := os.MkdirAll(bloomDir, 0o755); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(segDir)
	if err != nil {
		return nil, err
	}
	var segs []*Segment
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".seg" {
			continue
		}
		seg, err := OpenSegment(filepath.Join(segDir, e.Name()), alg, log)
		if err != nil {
			log.Warnw("excluding unreadable segment on restart", "file", e.Name(), "err", err)
			continue
		}
		segs = append(segs, seg)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartVersion() < segs[j].StartVersion() })

	segs, err = dropOverlappingDuplicates(segs, log)
	if err != nil {
		return nil, err
	}

	lockFile, err := os.OpenFile(filepath.Join(dir, ".lock"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	seg0, err := NewSegment(alg, bloomFPP, filepath.Join(bloomDir, "seg0.blm"), log)
	if err != nil {
		lockFile.Close()
		return nil, err
	}

	ss := &SegmentStorage{
		dir:      dir,
		sealed:   segs,
		seg0:     seg0,
		alg:      alg,
		bloomFPP: bloomFPP,
		log:      log,
	}
	ss.fileLock.setFile(lockFile)
	return ss, nil
}

// dropOverlappingDuplicates implements spec §4.2's restart-time repair
// step: when two sealed segments share any fingerprint (almost always
// caused by a crash mid-transport that recorded the same writes
// twice), the newer one is dropped, keeping the list's first copy
// (spec §7: "On-startup duplicate-overlap detection drops the newer
// duplicate").
func dropOverlappingDuplicates(segs []*Segment, log *zap.SugaredLogger) ([]*Segment, error) {
	kept := make([]*Segment, 0, len(segs))
	for _, candidate := range segs {
		dup := false
		for _, k := range kept {
			intersects, err := candidate.Intersects(k)
			if err != nil {
				return nil, err
			}
			if intersects {
				log.Warnw("dropping duplicate segment detected on restart", "id", candidate.ID, "duplicateOf", k.ID)
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, candidate)
		} else {
			deleteSegmentFile(candidate, log)
		}
	}
	return kept, nil
}

// deleteSegmentFile closes seg (unmapping it, if it was opened via
// OpenSegment) and removes its backing .seg file. Errors are logged,
// not returned: a garbage .seg file left behind by a failed removal
// is a disk-space leak, not a correctness problem, and must not abort
// whatever list mutation is in progress.
func deleteSegmentFile(seg *Segment, log *zap.SugaredLogger) {
	path := seg.Path()
	if err := seg.Close(); err != nil {
		log.Warnw("failed to close superseded segment before deletion", "id", seg.ID, "path", path, "err", err)
	}
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnw("failed to delete superseded segment file", "id", seg.ID, "path", path, "err", err)
	}
}

// Segments returns a snapshot of the full list [s1..sn, seg0] under
// the read lock.
func (ss *SegmentStorage) Segments() []*Segment {
	ss.lock.RLock()
	defer ss.lock.RUnlock()
	out := make([]*Segment, 0, len(ss.sealed)+1)
	out = append(out, ss.sealed...)
	out = append(out, ss.seg0)
	return out
}

// Sealed returns a snapshot of just the sealed prefix (everything
// except seg0), the population the Compactor operates over.
func (ss *SegmentStorage) Sealed() []*Segment {
	ss.lock.RLock()
	defer ss.lock.RUnlock()
	out := make([]*Segment, len(ss.sealed))
	copy(out, ss.sealed)
	return out
}

// Seg0 returns the current mutable tail segment.
func (ss *SegmentStorage) Seg0() *Segment {
	ss.lock.RLock()
	defer ss.lock.RUnlock()
	return ss.seg0
}

// TryLock attempts to acquire the write lock without blocking, for the
// Compactor's incremental cycle (spec §4.7: "if ... the storage
// write-lock is immediately acquirable").
func (ss *SegmentStorage) TryLock() bool {
	return ss.lock.TryLock()
}

// Unlock releases a lock acquired via TryLock or Lock.
func (ss *SegmentStorage) Unlock() {
	ss.lock.Unlock()
}

// Lock acquires the write lock, blocking.
func (ss *SegmentStorage) Lock() {
	ss.lock.Lock()
}

// SealSeg0AndInsert seals the current seg0 (writing it to
// dir/segments), appends it to the sealed prefix, and installs a fresh
// mutable seg0 — used by the Transporter when it moves a full buffer
// page's writes into the database (the segment that results becomes
// part of the durable sealed prefix, and a new seg0 takes over).
func (ss *SegmentStorage) SealSeg0AndInsert() (*Segment, error) {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	sealedPath, err := ss.seg0.Transfer(filepath.Join(ss.dir, "segments"))
	if err != nil {
		return nil, err
	}
	sealed := ss.seg0
	_ = sealedPath
	ss.sealed = append(ss.sealed, sealed)

	next, err := NewSegment(ss.alg, ss.bloomFPP, filepath.Join(ss.dir, "bloom", sealed.ID.String()+"-next.blm"), ss.log)
	if err != nil {
		return nil, err
	}
	ss.seg0 = next
	return sealed, nil
}

// InsertBeforeSeg0 inserts seg immediately before seg0 (spec §4.2:
// "merge(segment, receipts): inserts the segment immediately before
// seg0"), e.g. a segment produced by a Batch Transporter consumer.
func (ss *SegmentStorage) InsertBeforeSeg0(seg *Segment) {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	ss.sealed = append(ss.sealed, seg)
}

// Replace atomically removes `count` sealed segments starting at
// index and splices in replacements at the same position, preserving
// list order — the primitive spec §4.7's Compactor shift uses once it
// decides to compact(segments[index:index+count]), and Database.Repair
// uses to drop duplicate-overlap segments it finds live.
//
// Every removed segment not also present in replacements (by ID) is
// garbage: its .seg file is deleted once the new list is durable.
// Repair passes some of the original segment pointers straight through
// as replacements (the ones it decided to keep), so the set difference
// — not a blind sweep of removed — is what decides what's actually
// garbage (spec §4.7's runShift pseudocode: "garbage.push(removed)").
func (ss *SegmentStorage) Replace(index, count int, replacements []*Segment) ([]*Segment, error) {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	if index < 0 || count < 0 || index+count > len(ss.sealed) {
		return nil, ErrSegmentNotFound
	}
	removed := make([]*Segment, count)
	copy(removed, ss.sealed[index:index+count])

	next := make([]*Segment, 0, len(ss.sealed)-count+len(replacements))
	next = append(next, ss.sealed[:index]...)
	next = append(next, replacements...)
	next = append(next, ss.sealed[index+count:]...)
	ss.sealed = next

	for _, r := range replacements {
		if _, err := ss.saveLocked(r); err != nil {
			return nil, err
		}
	}

	kept := make(map[uuid.UUID]struct{}, len(replacements))
	for _, r := range replacements {
		kept[r.ID] = struct{}{}
	}
	for _, r := range removed {
		if _, stillPresent := kept[r.ID]; !stillPresent {
			deleteSegmentFile(r, ss.log)
		}
	}
	return removed, nil
}

// Save persists seg (sealing it if still mutable) to dir/segments.
func (ss *SegmentStorage) Save(seg *Segment) error {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	_, err := ss.saveLocked(seg)
	return err
}

func (ss *SegmentStorage) saveLocked(seg *Segment) (string, error) {
	return seg.Transfer(filepath.Join(ss.dir, "segments"))
}

// Close releases the storage directory's cross-process lock.
func (ss *SegmentStorage) Close() error {
	ss.fileLock.setFile(nil)
	return nil
}
