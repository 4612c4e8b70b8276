package corestore

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	natomic "github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// Receipt is returned by Segment.Acquire and records every fingerprint
// a Write touched, so Database.merge can re-derive cache entries from
// a batch of receipts without re-scanning the segment (spec §4.2:
// "merge(segment, receipts) ... re-derives cache entries from the
// supplied receipts").
type Receipt struct {
	TableFingerprint   Composite
	IndexFingerprint   Composite
	CorpusFingerprints []Composite
}

// Segment is the storage core's on-disk unit (spec §4.3). A Segment
// begins life mutable (seg0): Acquire appends Writes and grows its
// in-memory revision lists and Bloom filter. Transfer seals it,
// writing the byte-exact layout of §4.3 and freeing the in-memory
// revision lists in favour of the sealed byte streams.
type Segment struct {
	ID  uuid.UUID
	alg int
	log *zap.SugaredLogger

	mu     sync.RWMutex // intrinsic lock (spec §5, item 2)
	sealed bool

	startVersion uint64
	haveStart    bool

	// Mutable (seg0) state.
	tableRevs  []TableRevision
	indexRevs  []IndexRevision
	corpusRevs []CorpusRevision
	bloom      *LoggingBloomFilter

	// Sealed state.
	path            string
	header          segmentHeader
	raw             []byte
	mapped          mmap.MMap // non-nil when raw is a live memory mapping (OpenSegment)
	tableManifest   []manifestEntry
	indexManifest   []manifestEntry
	corpusManifest  []manifestEntry
	manifestsLoaded bool
}

// NewSegment constructs a fresh mutable seg0. bloomPath backs the
// live Bloom filter's append log (spec §6: database/bloom/<uuid>.blm);
// pass "" to keep it purely in-memory (tests, or a segment that will
// never itself be sealed to disk).
func NewSegment(alg int, fpp float64, bloomPath string, log *zap.SugaredLogger) (*Segment, error) {
	s := &Segment{ID: uuid.New(), alg: alg, log: withLogger(log)}
	if bloomPath == "" {
		s.bloom = NewLoggingBloomFilter(4096, fpp, alg)
		return s, nil
	}
	bf, err := OpenLoggingBloomFilter(bloomPath, 4096, fpp, alg)
	if err != nil {
		return nil, err
	}
	s.bloom = bf
	return s, nil
}

// NewSegmentFromRevisions builds a fresh mutable segment preloaded
// with tableRevs/indexRevs/corpusRevs and an already-populated Bloom
// filter, for MergeSortCompactor's "produce one merged segment
// containing all writes from both in sort order" step (spec §4.7). The
// caller is expected to Transfer it immediately.
func NewSegmentFromRevisions(alg int, fpp float64, bloomPath string, log *zap.SugaredLogger, tableRevs []TableRevision, indexRevs []IndexRevision, corpusRevs []CorpusRevision) (*Segment, error) {
	s, err := NewSegment(alg, fpp, bloomPath, log)
	if err != nil {
		return nil, err
	}
	s.tableRevs = tableRevs
	s.indexRevs = indexRevs
	s.corpusRevs = corpusRevs

	for _, r := range tableRevs {
		s.putBloom(r.Locator, r.Key, r.Val)
		if !s.haveStart || r.Version < s.startVersion {
			s.startVersion = r.Version
			s.haveStart = true
		}
	}
	for _, r := range indexRevs {
		s.putBloom(r.Locator, r.Key, r.Val)
	}
	for _, r := range corpusRevs {
		s.putBloom(r.Locator, r.Key, r.Val)
	}
	return s, nil
}

// Acquire appends w's derived revisions into the mutable segment and
// returns a Receipt of the fingerprints it touched (spec §4.3:
// "accepts Writes via acquire(write) -> Receipt").
func (s *Segment) Acquire(w Write) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return Receipt{}, ErrClosed
	}

	if !s.haveStart {
		s.startVersion = w.Version
		s.haveStart = true
	}

	table := w.Table()
	index := w.Index()
	corpus := w.Corpus()

	s.tableRevs = append(s.tableRevs, table)
	s.indexRevs = append(s.indexRevs, index)
	s.corpusRevs = append(s.corpusRevs, corpus...)

	receipt := Receipt{
		TableFingerprint: table.Fingerprint(s.alg),
		IndexFingerprint: index.Fingerprint(s.alg),
	}
	s.putBloom(table.Locator, table.Key, table.Val)
	s.putBloom(index.Locator, index.Key, index.Val)
	for _, c := range corpus {
		receipt.CorpusFingerprints = append(receipt.CorpusFingerprints, c.Fingerprint(s.alg))
		s.putBloom(c.Locator, c.Key, c.Val)
	}
	return receipt, nil
}

// putBloom records the three granularities spec §4.3 requires every
// segment's Bloom filter to answer for: the full (locator, key,
// value) fingerprint, the (locator, key) prefix, and the bare locator.
func (s *Segment) putBloom(locator, key, val Byteable) {
	s.bloom.Put(BuildComposite(s.alg, locator, key, val).Bytes())
	s.bloom.Put(BuildComposite(s.alg, locator, key).Bytes())
	s.bloom.Put(BuildComposite(s.alg, locator).Bytes())
}

// SyncBloom flushes the mutable Bloom filter's pending buffer to disk.
func (s *Segment) SyncBloom() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bloom.DiskSync()
}

// Sealed reports whether Transfer has been called.
func (s *Segment) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// StartVersion is the lowest Write version this segment has ever
// accepted, used to order segments at restart (spec §4.2: "sort by
// starting version").
func (s *Segment) StartVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startVersion
}

// Transfer seals the segment: sorts its three revision lists by
// locator, builds their streams and manifests, embeds a complete
// snapshot of the Bloom filter, and atomically writes the byte-exact
// layout of spec §4.3 to dir/<uuid>.seg. After Transfer the in-memory
// revision lists are released; reads are served from the sealed byte
// stream.
func (s *Segment) Transfer(dir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return s.path, nil
	}

	tableRecs := make([]revisionRecord, len(s.tableRevs))
	for i := range s.tableRevs {
		tableRecs[i] = s.tableRevs[i]
	}
	indexRecs := make([]revisionRecord, len(s.indexRevs))
	for i := range s.indexRevs {
		indexRecs[i] = s.indexRevs[i]
	}
	corpusRecs := make([]revisionRecord, len(s.corpusRevs))
	for i := range s.corpusRevs {
		corpusRecs[i] = s.corpusRevs[i]
	}

	tableStream, tableManifest := buildStreamAndManifest(s.alg, tableRecs)
	indexStream, indexManifest := buildStreamAndManifest(s.alg, indexRecs)
	corpusStream, corpusManifest := buildStreamAndManifest(s.alg, corpusRecs)

	if err := s.bloom.DiskSync(); err != nil {
		return "", err
	}
	bloomBytes := s.bloom.ExportAll()

	tableManifestBytes := encodeManifestEntries(tableManifest)
	indexManifestBytes := encodeManifestEntries(indexManifest)
	corpusManifestBytes := encodeManifestEntries(corpusManifest)

	h := segmentHeader{
		FormatVersion: segmentFormatVersion,
		Schema:        segmentSchema,
		TableCount:    uint64(len(tableRecs)),
		IndexCount:    uint64(len(indexRecs)),
		CorpusCount:   uint64(len(corpusRecs)),
		BloomNumBits:  s.bloom.NumBits(),
		BloomK:        s.bloom.K(),
		BloomLength:   uint32(len(bloomBytes)),
	}
	h.TableOffset = uint64(segmentHeaderSize)
	h.IndexOffset = h.TableOffset + uint64(len(tableStream))
	h.CorpusOffset = h.IndexOffset + uint64(len(indexStream))
	h.TableManifestOffset = h.CorpusOffset + uint64(len(corpusStream))
	h.IndexManifestOffset = h.TableManifestOffset + uint64(len(tableManifestBytes))
	h.CorpusManifestOffset = h.IndexManifestOffset + uint64(len(indexManifestBytes))
	h.BloomOffset = h.CorpusManifestOffset + uint64(len(corpusManifestBytes))

	var buf bytes.Buffer
	buf.Write(h.encode())
	buf.Write(tableStream)
	buf.Write(indexStream)
	buf.Write(corpusStream)
	buf.Write(tableManifestBytes)
	buf.Write(indexManifestBytes)
	buf.Write(corpusManifestBytes)
	buf.Write(bloomBytes)

	path := filepath.Join(dir, s.ID.String()+".seg")
	if err := natomic.WriteFile(path, bytes.NewReader(buf.Bytes())); err != nil {
		return "", err
	}

	s.path = path
	s.header = h
	s.raw = buf.Bytes()
	s.tableManifest = tableManifest
	s.indexManifest = indexManifest
	s.corpusManifest = corpusManifest
	s.manifestsLoaded = true
	s.sealed = true
	s.tableRevs = nil
	s.indexRevs = nil
	s.corpusRevs = nil

	s.log.Infow("segment sealed", "id", s.ID, "path", path, "tableCount", h.TableCount, "indexCount", h.IndexCount, "corpusCount", h.CorpusCount)
	return path, nil
}

// OpenSegment memory-maps a previously-sealed segment file (spec §4.3:
// "the manifest is mapped on first use"). The header is decoded
// eagerly since every read needs its offsets; the manifest sections
// are decoded lazily by ensureManifests.
func OpenSegment(path string, alg int, log *zap.SugaredLogger) (*Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	h, err := decodeSegmentHeader(m)
	if err != nil {
		m.Unmap()
		return nil, err
	}
	id, err := uuid.Parse(filenameWithoutExt(path))
	if err != nil {
		id = uuid.New()
	}
	s := &Segment{
		ID:     id,
		alg:    alg,
		log:    withLogger(log),
		sealed: true,
		path:   path,
		header: h,
		raw:    []byte(m),
		mapped: m,
	}
	return s, nil
}

// Close unmaps the segment's backing file, if it was opened via
// OpenSegment. Segments produced fresh by NewSegment/Transfer hold
// their bytes as a plain in-memory buffer and have nothing to unmap.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapped != nil {
		err := s.mapped.Unmap()
		s.mapped = nil
		return err
	}
	return nil
}

func filenameWithoutExt(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// ensureManifests lazily decodes the three manifest sections on first
// consult (spec §4.3).
func (s *Segment) ensureManifests() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifestsLoaded {
		return nil
	}
	tm, err := decodeManifestEntries(s.raw[s.header.TableManifestOffset:s.header.IndexManifestOffset])
	if err != nil {
		return err
	}
	im, err := decodeManifestEntries(s.raw[s.header.IndexManifestOffset:s.header.CorpusManifestOffset])
	if err != nil {
		return err
	}
	cm, err := decodeManifestEntries(s.raw[s.header.CorpusManifestOffset:s.header.BloomOffset])
	if err != nil {
		return err
	}
	s.tableManifest, s.indexManifest, s.corpusManifest = tm, im, cm
	s.manifestsLoaded = true
	return nil
}

// bloomFromDisk reconstructs the sealed Bloom filter from its
// embedded bytes.
func (s *Segment) bloomFromDisk() *LoggingBloomFilter {
	bloomBytes := s.raw[s.header.BloomOffset : s.header.BloomOffset+uint64(s.header.BloomLength)]
	return NewLoggingBloomFilterFromBits(s.header.BloomNumBits, s.header.BloomK, s.alg, bloomBytes)
}

// MightContain consults the segment's Bloom filter (live, if this is
// still seg0; reconstructed from the embedded snapshot otherwise).
func (s *Segment) MightContain(c Composite) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.sealed {
		return s.bloom.MightContain(c.Bytes())
	}
	return s.bloomFromDisk().MightContain(c.Bytes())
}

// FindTableRange returns the byte range of locator's records in the
// table stream, and whether any were found.
func (s *Segment) FindTableRange(locator Identifier) (start, end uint64, found bool, err error) {
	if err := s.ensureManifests(); err != nil {
		return 0, 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end, found = lookupManifest(s.tableManifest, hash64(locator.CanonicalBytes(), s.alg))
	return start, end, found, nil
}

func (s *Segment) FindIndexRange(locator Text) (start, end uint64, found bool, err error) {
	if err := s.ensureManifests(); err != nil {
		return 0, 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end, found = lookupManifest(s.indexManifest, hash64(locator.CanonicalBytes(), s.alg))
	return start, end, found, nil
}

func (s *Segment) FindCorpusRange(locator Text) (start, end uint64, found bool, err error) {
	if err := s.ensureManifests(); err != nil {
		return 0, 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end, found = lookupManifest(s.corpusManifest, hash64(locator.CanonicalBytes(), s.alg))
	return start, end, found, nil
}

// ReadTableRange decodes the TableRevisions within [start,end) of the
// sealed table stream.
func (s *Segment) ReadTableRange(start, end uint64) ([]TableRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.raw[s.header.TableOffset:s.header.IndexOffset]
	return decodeTableStreamRange(stream, start, end)
}

func (s *Segment) ReadIndexRange(start, end uint64) ([]IndexRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.raw[s.header.IndexOffset:s.header.CorpusOffset]
	return decodeIndexStreamRange(stream, start, end)
}

func (s *Segment) ReadCorpusRange(start, end uint64) ([]CorpusRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.raw[s.header.CorpusOffset:s.header.TableManifestOffset]
	return decodeCorpusStreamRange(stream, start, end)
}

// AllTableRevisions decodes the segment's whole table stream. Used by
// intersects/similarityWith and by Database.repair, which must
// compare every fingerprint a segment holds.
func (s *Segment) AllTableRevisions() ([]TableRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.sealed {
		out := make([]TableRevision, len(s.tableRevs))
		copy(out, s.tableRevs)
		return out, nil
	}
	return decodeFullTableStream(s.raw[s.header.TableOffset:s.header.IndexOffset])
}

// AllIndexRevisions decodes the segment's whole index stream. Used by
// Database.search's word-enumeration path and by repair.
func (s *Segment) AllIndexRevisions() ([]IndexRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.sealed {
		out := make([]IndexRevision, len(s.indexRevs))
		copy(out, s.indexRevs)
		return out, nil
	}
	return decodeFullIndexStream(s.raw[s.header.IndexOffset:s.header.CorpusOffset])
}

// AllCorpusRevisions decodes the segment's whole corpus stream. Used by
// Database.search to enumerate every distinct word posted under a key.
func (s *Segment) AllCorpusRevisions() ([]CorpusRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.sealed {
		out := make([]CorpusRevision, len(s.corpusRevs))
		copy(out, s.corpusRevs)
		return out, nil
	}
	return decodeFullCorpusStream(s.raw[s.header.CorpusOffset:s.header.TableManifestOffset])
}

// fingerprintSet returns every (locator,key,value) table fingerprint
// this segment holds, as a comparable map key set.
func (s *Segment) fingerprintSet() (map[string]struct{}, error) {
	revs, err := s.AllTableRevisions()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(revs))
	for _, r := range revs {
		set[string(r.Fingerprint(s.alg).Bytes())] = struct{}{}
	}
	return set, nil
}

// Intersects reports whether this segment and other share any
// revision (spec §4.3), compared by exact table fingerprint.
func (s *Segment) Intersects(other *Segment) (bool, error) {
	a, err := s.fingerprintSet()
	if err != nil {
		return false, err
	}
	b, err := other.fingerprintSet()
	if err != nil {
		return false, err
	}
	for fp := range a {
		if _, ok := b[fp]; ok {
			return true, nil
		}
	}
	return false, nil
}

// SimilarityWith scores 0..100: the percentage of the smaller
// segment's fingerprints that also appear in the other, used by
// MergeSortCompactor's "> 50" threshold (spec §4.7).
func (s *Segment) SimilarityWith(other *Segment) (int, error) {
	a, err := s.fingerprintSet()
	if err != nil {
		return 0, err
	}
	b, err := other.fingerprintSet()
	if err != nil {
		return 0, err
	}
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	if len(smaller) == 0 {
		return 0, nil
	}
	shared := 0
	for fp := range smaller {
		if _, ok := larger[fp]; ok {
			shared++
		}
	}
	return shared * 100 / len(smaller), nil
}

// Length is the sealed segment's file size in bytes, used by
// MergeSortCompactor's disk-space check (spec §4.7).
func (s *Segment) Length() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.raw))
}

// Path is the sealed segment's file path, or "" if still mutable.
func (s *Segment) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}
