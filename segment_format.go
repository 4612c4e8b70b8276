package corestore

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// segmentMagic is the segment file magic number, "CNSF" (spec §6).
const segmentMagic uint32 = 0x434E5346

// segmentFormatVersion is this build's on-disk segment format
// version. Readers refuse a segment whose stored version exceeds it
// (spec §6).
const segmentFormatVersion uint16 = 1

// segmentSchema is the current logical schema id, bumped when a
// change to the revision encoding isn't merely additive.
const segmentSchema uint16 = 1

// segmentHeaderSize is the header's fixed on-disk width: magic:4 ||
// version:2 || schema:2 || 7*offset:8 || counts:3*8 || bloom
// sizing:2*8 || bloom_length:4 (spec §4.3's literal layout plus the
// counts the §2 overview promises the header carries — recorded as an
// implementation decision in DESIGN.md — and the Bloom filter's own
// num_bits/k, needed to replay its embedded bit-index log on open
// without re-deriving sizing from scratch).
const segmentHeaderSize = 4 + 2 + 2 + 7*8 + 3*8 + 2*8 + 4

type segmentHeader struct {
	FormatVersion        uint16
	Schema               uint16
	TableOffset          uint64
	IndexOffset          uint64
	CorpusOffset         uint64
	TableManifestOffset  uint64
	IndexManifestOffset  uint64
	CorpusManifestOffset uint64
	BloomOffset          uint64
	TableCount           uint64
	IndexCount           uint64
	CorpusCount          uint64
	BloomNumBits         uint64
	BloomK               uint64
	BloomLength          uint32
}

func (h segmentHeader) encode() []byte {
	out := make([]byte, segmentHeaderSize)
	binary.BigEndian.PutUint32(out[0:4], segmentMagic)
	binary.BigEndian.PutUint16(out[4:6], h.FormatVersion)
	binary.BigEndian.PutUint16(out[6:8], h.Schema)
	binary.BigEndian.PutUint64(out[8:16], h.TableOffset)
	binary.BigEndian.PutUint64(out[16:24], h.IndexOffset)
	binary.BigEndian.PutUint64(out[24:32], h.CorpusOffset)
	binary.BigEndian.PutUint64(out[32:40], h.TableManifestOffset)
	binary.BigEndian.PutUint64(out[40:48], h.IndexManifestOffset)
	binary.BigEndian.PutUint64(out[48:56], h.CorpusManifestOffset)
	binary.BigEndian.PutUint64(out[56:64], h.BloomOffset)
	binary.BigEndian.PutUint64(out[64:72], h.TableCount)
	binary.BigEndian.PutUint64(out[72:80], h.IndexCount)
	binary.BigEndian.PutUint64(out[80:88], h.CorpusCount)
	binary.BigEndian.PutUint64(out[88:96], h.BloomNumBits)
	binary.BigEndian.PutUint64(out[96:104], h.BloomK)
	binary.BigEndian.PutUint32(out[104:108], h.BloomLength)
	return out
}

func decodeSegmentHeader(b []byte) (segmentHeader, error) {
	if len(b) < segmentHeaderSize {
		return segmentHeader{}, ErrCorruptHeader
	}
	if binary.BigEndian.Uint32(b[0:4]) != segmentMagic {
		return segmentHeader{}, ErrCorruptHeader
	}
	h := segmentHeader{
		FormatVersion:        binary.BigEndian.Uint16(b[4:6]),
		Schema:               binary.BigEndian.Uint16(b[6:8]),
		TableOffset:          binary.BigEndian.Uint64(b[8:16]),
		IndexOffset:          binary.BigEndian.Uint64(b[16:24]),
		CorpusOffset:         binary.BigEndian.Uint64(b[24:32]),
		TableManifestOffset:  binary.BigEndian.Uint64(b[32:40]),
		IndexManifestOffset:  binary.BigEndian.Uint64(b[40:48]),
		CorpusManifestOffset: binary.BigEndian.Uint64(b[48:56]),
		BloomOffset:          binary.BigEndian.Uint64(b[56:64]),
		TableCount:           binary.BigEndian.Uint64(b[64:72]),
		IndexCount:           binary.BigEndian.Uint64(b[72:80]),
		CorpusCount:          binary.BigEndian.Uint64(b[80:88]),
		BloomNumBits:         binary.BigEndian.Uint64(b[88:96]),
		BloomK:               binary.BigEndian.Uint64(b[96:104]),
		BloomLength:          binary.BigEndian.Uint32(b[104:108]),
	}
	if h.FormatVersion > segmentFormatVersion {
		return segmentHeader{}, ErrUnsupportedSchema
	}
	return h, nil
}

// sortRevisionRecords orders records by locator bytes, the primary
// sort key of every revision stream (spec §4.3: streams are sorted so
// that a locator's records are contiguous, letting the manifest record
// one [start,end) byte range per locator).
func sortRevisionRecords(revs []revisionRecord) {
	sort.SliceStable(revs, func(i, j int) bool {
		return bytes.Compare(revs[i].LocatorBytes(), revs[j].LocatorBytes()) < 0
	})
}

// manifestEntry is one fixed-width (surrogate || start:8 || end:8)
// record. Variable-width locators (Text, for the Index and Corpus
// streams) are reduced to a fixed 8-byte hash surrogate so that every
// stream's manifest shares one binary-searchable record layout (spec
// §4.3 requires the manifest be "binary-searchable in-place without
// deserialisation overhead", which a variable-width locator would
// defeat).
type manifestEntry struct {
	Surrogate uint64
	Start     uint64
	End       uint64
}

const manifestEntrySize = 8 + 8 + 8

func encodeManifestEntries(entries []manifestEntry) []byte {
	out := make([]byte, len(entries)*manifestEntrySize)
	for i, e := range entries {
		off := i * manifestEntrySize
		binary.BigEndian.PutUint64(out[off:off+8], e.Surrogate)
		binary.BigEndian.PutUint64(out[off+8:off+16], e.Start)
		binary.BigEndian.PutUint64(out[off+16:off+24], e.End)
	}
	return out
}

func decodeManifestEntries(b []byte) ([]manifestEntry, error) {
	if len(b)%manifestEntrySize != 0 {
		return nil, ErrCorruptManifest
	}
	n := len(b) / manifestEntrySize
	entries := make([]manifestEntry, n)
	for i := 0; i < n; i++ {
		off := i * manifestEntrySize
		entries[i] = manifestEntry{
			Surrogate: binary.BigEndian.Uint64(b[off : off+8]),
			Start:     binary.BigEndian.Uint64(b[off+8 : off+16]),
			End:       binary.BigEndian.Uint64(b[off+16 : off+24]),
		}
	}
	return entries, nil
}

// lookupManifest binary-searches entries (sorted by Surrogate) for
// surrogate, returning its byte range.
func lookupManifest(entries []manifestEntry, surrogate uint64) (start, end uint64, found bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].Surrogate < surrogate {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(entries) && entries[lo].Surrogate == surrogate {
		return entries[lo].Start, entries[lo].End, true
	}
	return 0, 0, false
}

// buildStreamAndManifest sorts revs by locator, writes each as
// size:4 || body (body per revisionRecord.Encode — already version ||
// locator || key || value per spec §4.3), and groups contiguous
// equal-locator runs into one manifestEntry each.
func buildStreamAndManifest(alg int, revs []revisionRecord) (stream []byte, manifest []manifestEntry) {
	sortRevisionRecords(revs)

	var buf bytes.Buffer
	var entries []manifestEntry
	var runSurrogate uint64
	var runStart uint64
	haveRun := false

	for _, r := range revs {
		body := r.Encode()
		offset := uint64(buf.Len())

		surrogate := hash64(r.LocatorBytes(), alg)
		if !haveRun {
			runSurrogate = surrogate
			runStart = offset
			haveRun = true
		} else if surrogate != runSurrogate {
			entries = append(entries, manifestEntry{Surrogate: runSurrogate, Start: runStart, End: offset})
			runSurrogate = surrogate
			runStart = offset
		}

		var sz [4]byte
		binary.BigEndian.PutUint32(sz[:], uint32(len(body)))
		buf.Write(sz[:])
		buf.Write(body)
	}
	if haveRun {
		entries = append(entries, manifestEntry{Surrogate: runSurrogate, Start: runStart, End: uint64(buf.Len())})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Surrogate < entries[j].Surrogate })
	return buf.Bytes(), entries
}

// decodeTableStreamRange decodes every TableRevision whose
// size-prefixed record lies within stream[start:end].
func decodeTableStreamRange(stream []byte, start, end uint64) ([]TableRevision, error) {
	var out []TableRevision
	b := stream[start:end]
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrCorruptManifest
		}
		sz := binary.BigEndian.Uint32(b[0:4])
		if uint32(len(b)) < 4+sz {
			return nil, ErrCorruptManifest
		}
		rev, _, err := DecodeTableRevision(b[4 : 4+sz])
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
		b = b[4+sz:]
	}
	return out, nil
}

func decodeIndexStreamRange(stream []byte, start, end uint64) ([]IndexRevision, error) {
	var out []IndexRevision
	b := stream[start:end]
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrCorruptManifest
		}
		sz := binary.BigEndian.Uint32(b[0:4])
		if uint32(len(b)) < 4+sz {
			return nil, ErrCorruptManifest
		}
		rev, _, err := DecodeIndexRevision(b[4 : 4+sz])
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
		b = b[4+sz:]
	}
	return out, nil
}

func decodeCorpusStreamRange(stream []byte, start, end uint64) ([]CorpusRevision, error) {
	var out []CorpusRevision
	b := stream[start:end]
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrCorruptManifest
		}
		sz := binary.BigEndian.Uint32(b[0:4])
		if uint32(len(b)) < 4+sz {
			return nil, ErrCorruptManifest
		}
		rev, _, err := DecodeCorpusRevision(b[4 : 4+sz])
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
		b = b[4+sz:]
	}
	return out, nil
}

// decodeFullTableStream decodes every revision in a table stream,
// ignoring manifest boundaries — used by Segment.intersects/
// similarityWith and by repair, which need the whole stream anyway.
func decodeFullTableStream(stream []byte) ([]TableRevision, error) {
	return decodeTableStreamRange(stream, 0, uint64(len(stream)))
}

func decodeFullIndexStream(stream []byte) ([]IndexRevision, error) {
	return decodeIndexStreamRange(stream, 0, uint64(len(stream)))
}

func decodeFullCorpusStream(stream []byte) ([]CorpusRevision, error) {
	return decodeCorpusStreamRange(stream, 0, uint64(len(stream)))
}
