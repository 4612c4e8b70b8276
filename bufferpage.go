package corestore

import (
	"encoding/binary"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/jpl-au/corestore/internal/collection"
)

// cmpVersion orders page write entries by their assigned Version, the
// BridgeSortMap key a bufferPage's writes are kept sorted on.
func cmpVersion(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// pageMagic is the Buffer page file magic number (spec §6).
const pageMagic uint32 = 0x50414745 // "PAGE"

// pageHeaderSize is the fixed prefix before the write records:
// page_magic:4 || page_id:8 || write_count:4 (spec §6).
const pageHeaderSize = 4 + 8 + 4

// encodePageWrite writes one Write in the page-file wire format spec
// §6 fixes: size:4 || action:1 || version:8 || key_len:4 || key_bytes
// || value_type:1 || value_len:4 || value_bytes || record:8. size
// covers everything after itself. value_bytes is Value's own
// type-tagged encoding (value.go's Encode); value_type duplicates its
// leading tag byte so a reader can filter by type without touching
// value_bytes, per spec's explicit separate field.
func encodePageWrite(w Write) []byte {
	keyBytes := w.Key.RawBytes()
	valBytes := w.Val.Encode()

	body := make([]byte, 0, 1+8+4+len(keyBytes)+1+4+len(valBytes)+8+1)
	action := byte(0)
	if w.Action == ActionAdd {
		action = 1
	}
	body = append(body, action)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], w.Version)
	body = append(body, u64[:]...)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(keyBytes)))
	body = append(body, u32[:]...)
	body = append(body, keyBytes...)

	body = append(body, valBytes[0]) // value_type
	binary.BigEndian.PutUint32(u32[:], uint32(len(valBytes)))
	body = append(body, u32[:]...)
	body = append(body, valBytes...)

	binary.BigEndian.PutUint64(u64[:], uint64(w.Record))
	body = append(body, u64[:]...)

	// Searchable isn't in spec §6's literal byte layout (the source
	// wire format predates per-field search flags), so it is not
	// written here; openBufferPage restores it on recovery from its
	// searchable callback.
	searchable := w.Searchable

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	_ = searchable
	return out
}

// decodePageWrite decodes one write record (including its leading
// size:4) from b, returning the number of bytes consumed.
func decodePageWrite(b []byte, searchable bool) (Write, int, error) {
	if len(b) < 4 {
		return Write{}, 0, ErrBufferIO
	}
	size := binary.BigEndian.Uint32(b[0:4])
	if uint32(len(b)) < 4+size {
		return Write{}, 0, ErrBufferIO
	}
	body := b[4 : 4+size]
	off := 0

	if len(body) < off+1 {
		return Write{}, 0, ErrBufferIO
	}
	action := ActionRemove
	if body[off] == 1 {
		action = ActionAdd
	}
	off++

	if len(body) < off+8 {
		return Write{}, 0, ErrBufferIO
	}
	version := binary.BigEndian.Uint64(body[off : off+8])
	off += 8

	if len(body) < off+4 {
		return Write{}, 0, ErrBufferIO
	}
	keyLen := int(binary.BigEndian.Uint32(body[off : off+4]))
	off += 4
	if len(body) < off+keyLen {
		return Write{}, 0, ErrBufferIO
	}
	key := TextFromBytes(body[off : off+keyLen])
	off += keyLen

	if len(body) < off+1 {
		return Write{}, 0, ErrBufferIO
	}
	off++ // value_type, redundant with valBytes[0]

	if len(body) < off+4 {
		return Write{}, 0, ErrBufferIO
	}
	valLen := int(binary.BigEndian.Uint32(body[off : off+4]))
	off += 4
	if len(body) < off+valLen {
		return Write{}, 0, ErrBufferIO
	}
	val, _, err := ValueFromEncoded(body[off : off+valLen])
	if err != nil {
		return Write{}, 0, err
	}
	off += valLen

	if len(body) < off+8 {
		return Write{}, 0, ErrBufferIO
	}
	record := Identifier(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8

	w := NewWrite(key, val, record, version, action, searchable)
	return w, 4 + int(size), nil
}

// bufferPage is one write-ahead page file (spec §4.1): a fixed-size
// file holding a prefix-length sequence of serialised Writes, plus an
// in-memory mirror used to serve reads and sorted iteration without
// re-parsing the file on every access.
type bufferPage struct {
	mu sync.Mutex

	id          uint64
	path        string
	file        *os.File
	writes      *collection.BridgeSortMap[uint64, Write]
	lastVersion uint64
	size        int64 // bytes written so far, including the header
	sealed      bool
	unsyncedWrites int

	log *zap.SugaredLogger
}

// newBufferPage creates a fresh page file at path and writes its
// header.
func newBufferPage(path string, id uint64, log *zap.SugaredLogger) (*bufferPage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	p := &bufferPage{id: id, path: path, file: f, writes: collection.NewBridgeSortMap[uint64, Write](cmpVersion), log: withLogger(log)}
	if err := p.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	p.size = pageHeaderSize
	return p, nil
}

// openBufferPage reopens an existing page file on restart, decoding
// every write record it holds back into memory (spec §7 recovery).
// searchable is applied to every recovered Write since the page
// format (spec §6) doesn't itself persist the flag (see
// encodePageWrite); callers reconstruct it from the schema's
// searchable-key configuration, which a restart already knows.
func openBufferPage(path string, log *zap.SugaredLogger, searchable func(Text) bool) (*bufferPage, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	if len(raw) < pageHeaderSize {
		f.Close()
		return nil, ErrBufferIO
	}
	if binary.BigEndian.Uint32(raw[0:4]) != pageMagic {
		f.Close()
		return nil, ErrBufferIO
	}
	id := binary.BigEndian.Uint64(raw[4:12])
	count := binary.BigEndian.Uint32(raw[12:16])

	p := &bufferPage{id: id, path: path, file: f, writes: collection.NewBridgeSortMap[uint64, Write](cmpVersion), log: withLogger(log)}
	b := raw[pageHeaderSize:]
	for i := uint32(0); i < count; i++ {
		w, n, err := decodePageWrite(b, false)
		if err != nil {
			break // spec §7: structural corruption truncates recovery at the last good record
		}
		if searchable != nil {
			w.Searchable = searchable(w.Key)
		}
		// Records were written to the page file in insertion order,
		// which racing inserts can leave slightly out of version order
		// (see Insert), so recovery makes the same AppendSorted/
		// InsertLate choice that live inserts do.
		if p.writes.Len() == 0 || w.Version >= p.lastVersion {
			p.writes.AppendSorted(w.Version, w)
			p.lastVersion = w.Version
		} else {
			p.writes.InsertLate(w.Version, w)
		}
		b = b[n:]
	}
	p.size = int64(len(raw) - len(b))
	return p, nil
}

func (p *bufferPage) writeHeader() error {
	var hdr [pageHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], pageMagic)
	binary.BigEndian.PutUint64(hdr[4:12], p.id)
	binary.BigEndian.PutUint32(hdr[12:16], 0)
	_, err := p.file.WriteAt(hdr[:], 0)
	return err
}

// Insert appends w's encoding to the page file and patches the
// write_count field in place — an atomic-append-then-byte-patch
// idiom (see DESIGN.md) rather than rewriting the whole header each
// time.
func (p *bufferPage) Insert(w Write, sync SyncMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return ErrClosed
	}

	rec := encodePageWrite(w)
	if _, err := p.file.WriteAt(rec, p.size); err != nil {
		return err
	}
	p.size += int64(len(rec))

	// Versions are assigned before the page's lock is acquired (see
	// Buffer.Insert), so two racing inserts can occasionally land out
	// of order; the fast AppendSorted path only applies when this
	// write still extends the page's max version.
	if p.writes.Len() == 0 || w.Version >= p.lastVersion {
		p.writes.AppendSorted(w.Version, w)
		p.lastVersion = w.Version
	} else {
		p.writes.InsertLate(w.Version, w)
	}

	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(p.writes.Len()))
	if _, err := p.file.WriteAt(cnt[:], 12); err != nil {
		return err
	}

	p.unsyncedWrites++
	switch sync {
	case SyncEach:
		return p.file.Sync()
	case SyncBatched:
		if p.unsyncedWrites >= 32 {
			p.unsyncedWrites = 0
			return p.file.Sync()
		}
	}
	return nil
}

// Size returns the page's current on-disk size in bytes.
func (p *bufferPage) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Writes returns a snapshot of the page's buffered writes, in version
// order (late, out-of-order inserts merged into place).
func (p *bufferPage) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Write, 0, p.writes.Len())
	p.writes.Iterate(func(_ uint64, w Write) bool {
		out = append(out, w)
		return true
	})
	return out
}

// Seal closes the page file for further inserts and fsyncs it (spec
// §4.1: "page is closed ... and its writes become eligible for
// transport").
func (p *bufferPage) Seal() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return nil
	}
	p.sealed = true
	return p.file.Sync()
}

// Close releases the page's file handle without deleting it.
func (p *bufferPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Close()
}

// Remove closes and deletes the page's backing file, once every
// write it held has been transported into the Database.
func (p *bufferPage) Remove() error {
	p.mu.Lock()
	path := p.path
	f := p.file
	p.mu.Unlock()
	if f != nil {
		f.Close()
	}
	return os.Remove(path)
}
