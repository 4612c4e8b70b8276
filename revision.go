package corestore

import "encoding/binary"

// RevisionKind tags which of the three concrete (L,K,V) typings a
// Revision stream holds (spec §3). Rather than a class hierarchy, each
// kind is its own concrete Go type sharing a common encode/decode shape
// — spec §9 DESIGN NOTES calls for "tagged sum types ... with a shared
// encoding trait, no dynamic dispatch needed for on-disk streams".
type RevisionKind byte

const (
	KindTable  RevisionKind = 1
	KindIndex  RevisionKind = 2
	KindCorpus RevisionKind = 3
)

// Action records whether a Revision was produced by an ADD or a REMOVE
// mutation. It is never serialised (spec §3): presence on disk is
// inferred purely by parity of how many times an equal (locator, key,
// value) triple appears, so Action exists only to drive Write's
// decision to append a cancelling duplicate.
type Action bool

const (
	ActionRemove Action = false
	ActionAdd    Action = true
)

// encodeField writes b's canonical bytes, prefixed with a 4-byte
// length only when b's encoding is variable-size (spec §4.3: the
// per-field size prefix is present only for variable-size components).
func encodeField(b Byteable) []byte {
	cb := b.CanonicalBytes()
	if isFixedSize(b) {
		return cb
	}
	out := make([]byte, 4+len(cb))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(cb)))
	copy(out[4:], cb)
	return out
}

// decodeField reads one field written by encodeField, given the
// number of bytes to consume when the field is fixed-size (0 means
// variable, i.e. length-prefixed).
func decodeField(b []byte, fixedSize int) (raw []byte, consumed int, err error) {
	if fixedSize > 0 {
		if len(b) < fixedSize {
			return nil, 0, ErrCorruptManifest
		}
		return b[:fixedSize], fixedSize, nil
	}
	if len(b) < 4 {
		return nil, 0, ErrCorruptManifest
	}
	n := int(binary.BigEndian.Uint32(b[0:4]))
	if len(b) < 4+n {
		return nil, 0, ErrCorruptManifest
	}
	return b[4 : 4+n], 4 + n, nil
}

func isFixedSize(b Byteable) bool {
	switch b.(type) {
	case Identifier, Position:
		return true
	default:
		return false
	}
}

// revisionRecord is satisfied by all three Revision typings, letting
// segment.go's stream/manifest code stay generic over which kind it is
// serialising without resorting to a shared base class (spec §9
// DESIGN NOTES: "tagged sum types ... with a shared encoding trait").
type revisionRecord interface {
	Encode() []byte
	LocatorBytes() []byte
	Fingerprint(alg int) Composite
}

// TableRevision is a (record, key, value) revision: L=Identifier,
// K=Text, V=Value (spec §3).
type TableRevision struct {
	Locator Identifier
	Key     Text
	Val     Value
	Version uint64
	Action  Action
}

// Fingerprint is the Composite over (locator, key, value): the unit
// over which parity is computed (GLOSSARY: "Fingerprint").
func (r TableRevision) Fingerprint(alg int) Composite {
	return BuildComposite(alg, r.Locator, r.Key, r.Val)
}

// LocatorBytes returns the Locator's canonical bytes, used to sort the
// stream and to build the segment's manifest surrogate key.
func (r TableRevision) LocatorBytes() []byte { return r.Locator.CanonicalBytes() }

// Encode writes the record body (everything after the leading size:4
// the stream writer adds): version:8 || locator || key || value.
func (r TableRevision) Encode() []byte {
	var verBuf [8]byte
	binary.BigEndian.PutUint64(verBuf[:], r.Version)
	out := append([]byte{}, verBuf[:]...)
	out = append(out, encodeField(r.Locator)...)
	out = append(out, encodeField(r.Key)...)
	out = append(out, encodeField(r.Val)...)
	return out
}

// DecodeTableRevision decodes a TableRevision body written by Encode.
func DecodeTableRevision(b []byte) (TableRevision, int, error) {
	if len(b) < 8 {
		return TableRevision{}, 0, ErrCorruptManifest
	}
	version := binary.BigEndian.Uint64(b[0:8])
	off := 8

	locRaw, n, err := decodeField(b[off:], IdentifierSize)
	if err != nil {
		return TableRevision{}, 0, err
	}
	loc, err := IdentifierFromBytes(locRaw)
	if err != nil {
		return TableRevision{}, 0, err
	}
	off += n

	keyRaw, n, err := decodeField(b[off:], 0)
	if err != nil {
		return TableRevision{}, 0, err
	}
	key := TextFromBytes(keyRaw)
	off += n

	valRaw, n, err := decodeField(b[off:], 0)
	if err != nil {
		return TableRevision{}, 0, err
	}
	val, _, err := ValueFromEncoded(valRaw)
	if err != nil {
		return TableRevision{}, 0, err
	}
	off += n

	return TableRevision{Locator: loc, Key: key, Val: val, Version: version}, off, nil
}

// IndexRevision is a (key, value, record) revision: L=Text, K=Value,
// V=Identifier (spec §3).
type IndexRevision struct {
	Locator Text
	Key     Value
	Val     Identifier
	Version uint64
	Action  Action
}

func (r IndexRevision) Fingerprint(alg int) Composite {
	return BuildComposite(alg, r.Locator, r.Key, r.Val)
}

func (r IndexRevision) LocatorBytes() []byte { return r.Locator.CanonicalBytes() }

func (r IndexRevision) Encode() []byte {
	var verBuf [8]byte
	binary.BigEndian.PutUint64(verBuf[:], r.Version)
	out := append([]byte{}, verBuf[:]...)
	out = append(out, encodeField(r.Locator)...)
	out = append(out, encodeField(r.Key)...)
	out = append(out, encodeField(r.Val)...)
	return out
}

func DecodeIndexRevision(b []byte) (IndexRevision, int, error) {
	if len(b) < 8 {
		return IndexRevision{}, 0, ErrCorruptManifest
	}
	version := binary.BigEndian.Uint64(b[0:8])
	off := 8

	locRaw, n, err := decodeField(b[off:], 0)
	if err != nil {
		return IndexRevision{}, 0, err
	}
	loc := TextFromBytes(locRaw)
	off += n

	keyRaw, n, err := decodeField(b[off:], 0)
	if err != nil {
		return IndexRevision{}, 0, err
	}
	key, _, err := ValueFromEncoded(keyRaw)
	if err != nil {
		return IndexRevision{}, 0, err
	}
	off += n

	valRaw, n, err := decodeField(b[off:], IdentifierSize)
	if err != nil {
		return IndexRevision{}, 0, err
	}
	val, err := IdentifierFromBytes(valRaw)
	if err != nil {
		return IndexRevision{}, 0, err
	}
	off += n

	return IndexRevision{Locator: loc, Key: key, Val: val, Version: version}, off, nil
}

// CorpusRevision is a (word, position) revision per tokenised word
// occurrence: L=Text, K=Text, V=Position (spec §3).
type CorpusRevision struct {
	Locator Text
	Key     Text
	Val     Position
	Version uint64
	Action  Action
}

func (r CorpusRevision) Fingerprint(alg int) Composite {
	return BuildComposite(alg, r.Locator, r.Key, r.Val)
}

func (r CorpusRevision) LocatorBytes() []byte { return r.Locator.CanonicalBytes() }

func (r CorpusRevision) Encode() []byte {
	var verBuf [8]byte
	binary.BigEndian.PutUint64(verBuf[:], r.Version)
	out := append([]byte{}, verBuf[:]...)
	out = append(out, encodeField(r.Locator)...)
	out = append(out, encodeField(r.Key)...)
	out = append(out, encodeField(r.Val)...)
	return out
}

func DecodeCorpusRevision(b []byte) (CorpusRevision, int, error) {
	if len(b) < 8 {
		return CorpusRevision{}, 0, ErrCorruptManifest
	}
	version := binary.BigEndian.Uint64(b[0:8])
	off := 8

	locRaw, n, err := decodeField(b[off:], 0)
	if err != nil {
		return CorpusRevision{}, 0, err
	}
	loc := TextFromBytes(locRaw)
	off += n

	keyRaw, n, err := decodeField(b[off:], 0)
	if err != nil {
		return CorpusRevision{}, 0, err
	}
	key := TextFromBytes(keyRaw)
	off += n

	valRaw, n, err := decodeField(b[off:], PositionSize)
	if err != nil {
		return CorpusRevision{}, 0, err
	}
	val, err := PositionFromBytes(valRaw)
	if err != nil {
		return CorpusRevision{}, 0, err
	}
	off += n

	return CorpusRevision{Locator: loc, Key: key, Val: val, Version: version}, off, nil
}
