package corestore

import (
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// LoggingBloomFilter is a bit-set plus an append-only log of the bit
// indices it has set (spec §4.4). Persistence never rewrites history:
// diskSync only ever appends the indices set since the last sync, and
// on open the backing file is memory-mapped and every recorded index
// is replayed into a fresh in-memory bit-set.
type LoggingBloomFilter struct {
	mu       sync.RWMutex
	bits     []uint64 // numBits packed 64 per word
	numBits  uint64
	k        uint64
	alg      int
	pending  []uint32 // bit indices set since last diskSync, not yet flushed
	f        *os.File
	synced   uint64 // count of indices already on disk
}

// NewLoggingBloomFilter sizes a filter for n expected items at false
// positive probability fpp (spec §4.4):
//
//	num_bits = ceil(n·ln(fpp) / ln(1/2^ln2))
//	k        = round(ln2·num_bits/n)
func NewLoggingBloomFilter(n uint64, fpp float64, alg int) *LoggingBloomFilter {
	if n == 0 {
		n = 1
	}
	ln2 := math.Ln2
	numBits := uint64(math.Ceil(float64(n) * math.Log(fpp) / math.Log(1/math.Pow(2, ln2))))
	if numBits == 0 {
		numBits = 1
	}
	k := uint64(math.Round(ln2 * float64(numBits) / float64(n)))
	if k == 0 {
		k = 1
	}
	return &LoggingBloomFilter{
		bits:    make([]uint64, (numBits+63)/64),
		numBits: numBits,
		k:       k,
		alg:     alg,
	}
}

// OpenLoggingBloomFilter memory-maps path (creating it if absent) and
// replays every recorded bit index into a freshly sized filter.
func OpenLoggingBloomFilter(path string, n uint64, fpp float64, alg int) (*LoggingBloomFilter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	bf := NewLoggingBloomFilter(n, fpp, alg)
	bf.f = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		bf.synced = 0
		return bf, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	count := len(m) / 4
	for i := 0; i < count; i++ {
		idx := binary.LittleEndian.Uint32(m[i*4 : i*4+4])
		bf.setBit(uint64(idx))
	}
	bf.synced = uint64(count)
	m.Unmap()
	return bf, nil
}

func (bf *LoggingBloomFilter) setBit(idx uint64) {
	word := idx / 64
	bit := idx % 64
	bf.bits[word] |= uint64(1) << bit
}

func (bf *LoggingBloomFilter) testBit(idx uint64) bool {
	word := idx / 64
	bit := idx % 64
	return bf.bits[word]&(uint64(1)<<bit) != 0
}

// doubleHash derives bf.k bit positions from a 128-bit hash by the
// standard Kirsch-Mitzenmacher double-hashing construction: the two
// 64-bit halves of hash128 act as the two base hash functions.
func (bf *LoggingBloomFilter) doubleHash(data []byte) []uint64 {
	h := hash128(data, bf.alg)
	h1 := binary.BigEndian.Uint64(h[0:8])
	h2 := binary.BigEndian.Uint64(h[8:16])
	positions := make([]uint64, bf.k)
	for i := uint64(0); i < bf.k; i++ {
		positions[i] = (h1 + i*h2) % bf.numBits
	}
	return positions
}

// Put sets the bits for data's fingerprint, recording every newly-set
// bit index in the pending append buffer (spec §4.4: "every newly-set
// bit index ... is appended to an in-memory buffer").
func (bf *LoggingBloomFilter) Put(data []byte) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for _, pos := range bf.doubleHash(data) {
		if !bf.testBit(pos) {
			bf.setBit(pos)
			bf.pending = append(bf.pending, uint32(pos))
		}
	}
}

// MightContain returns false iff any of data's hash bits is clear
// (spec §4.4). A true result may be a false positive; false is exact.
func (bf *LoggingBloomFilter) MightContain(data []byte) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	for _, pos := range bf.doubleHash(data) {
		if !bf.testBit(pos) {
			return false
		}
	}
	return true
}

// DiskSync appends the pending buffer's indices to the backing file
// and resets the buffer. Put never clears a bit, so DiskSync never
// needs to rewrite previously-written history — it only appends.
func (bf *LoggingBloomFilter) DiskSync() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.f == nil || len(bf.pending) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(bf.pending))
	for i, idx := range bf.pending {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], idx)
	}
	if _, err := bf.f.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	if _, err := bf.f.Write(buf); err != nil {
		return err
	}
	if err := bf.f.Sync(); err != nil {
		return err
	}
	bf.synced += uint64(len(bf.pending))
	bf.pending = bf.pending[:0]
	return nil
}

// Close flushes any pending indices and closes the backing file.
func (bf *LoggingBloomFilter) Close() error {
	if err := bf.DiskSync(); err != nil {
		return err
	}
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.f != nil {
		err := bf.f.Close()
		bf.f = nil
		return err
	}
	return nil
}

// NumBits and K expose the filter's sizing, chiefly for tests.
func (bf *LoggingBloomFilter) NumBits() uint64 { return bf.numBits }
func (bf *LoggingBloomFilter) K() uint64       { return bf.k }

// ExportAll encodes every currently-set bit index as the same
// append-only hash:4 stream DiskSync writes (spec §6), regardless of
// which have already been synced. Used when sealing a Segment: the
// immutable file embeds a fresh complete log of the filter's final
// state rather than sharing the mutable seg0's incremental one.
func (bf *LoggingBloomFilter) ExportAll() []byte {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	var out []byte
	var idx4 [4]byte
	for i := uint64(0); i < bf.numBits; i++ {
		if bf.testBit(i) {
			binary.LittleEndian.PutUint32(idx4[:], uint32(i))
			out = append(out, idx4[:]...)
		}
	}
	return out
}

// NewLoggingBloomFilterFromBits rebuilds a filter of the given sizing
// by replaying a complete hash:4 index stream (as produced by
// ExportAll), with no backing file — used to reconstruct a sealed
// Segment's Bloom filter from its embedded bytes.
func NewLoggingBloomFilterFromBits(numBits, k uint64, alg int, exported []byte) *LoggingBloomFilter {
	bf := &LoggingBloomFilter{
		bits:    make([]uint64, (numBits+63)/64),
		numBits: numBits,
		k:       k,
		alg:     alg,
	}
	count := len(exported) / 4
	for i := 0; i < count; i++ {
		idx := binary.LittleEndian.Uint32(exported[i*4 : i*4+4])
		bf.setBit(uint64(idx))
	}
	return bf
}
