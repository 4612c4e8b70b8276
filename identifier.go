package corestore

import "encoding/binary"

// IdentifierSize is the fixed on-disk width of an Identifier: an
// unsigned 64-bit record id, big-endian so that byte-wise comparison
// of the encoding agrees with unsigned numeric comparison.
const IdentifierSize = 8

// Identifier is an unsigned 64-bit record id (spec §3). It sorts by
// unsigned numeric order.
type Identifier uint64

// Bytes returns the fixed 8-byte big-endian encoding of id.
func (id Identifier) Bytes() []byte {
	var b [IdentifierSize]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// IdentifierFromBytes decodes an Identifier from its fixed 8-byte
// encoding. b must be at least IdentifierSize bytes.
func IdentifierFromBytes(b []byte) (Identifier, error) {
	if len(b) < IdentifierSize {
		return 0, ErrCorruptManifest
	}
	return Identifier(binary.BigEndian.Uint64(b[:IdentifierSize])), nil
}

// Compare orders two Identifiers by unsigned value.
func (id Identifier) Compare(other Identifier) int {
	switch {
	case id < other:
		return -1
	case id > other:
		return 1
	default:
		return 0
	}
}
