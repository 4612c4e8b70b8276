package corestore

import (
	"bytes"
	"encoding/binary"
)

// Text is a UTF-8 character sequence (spec §3), sortable by codepoint
// order. It carries its own byte slice (rather than wrapping a Go
// string) so that TextFromBytes and TextFromString are guaranteed to
// produce byte-identical values without either path paying for a
// round trip through the other's representation.
type Text struct {
	b []byte
}

// TextFromString constructs a Text from a string view. No copy is made
// of the string's backing bytes beyond what append/string conversion
// requires; the result never aliases the caller's string header.
func TextFromString(s string) Text {
	return Text{b: []byte(s)}
}

// TextFromBytes constructs a Text from raw UTF-8 bytes. The slice is
// copied so the resulting Text is independent of the caller's buffer.
func TextFromBytes(b []byte) Text {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Text{b: cp}
}

// String returns the Text's string view.
func (t Text) String() string {
	return string(t.b)
}

// ByteCount is Text's canonical length (spec §3): the number of UTF-8
// bytes, not the number of runes.
func (t Text) ByteCount() int {
	return len(t.b)
}

// RawBytes returns the Text's canonical byte encoding. Callers must
// not mutate the returned slice.
func (t Text) RawBytes() []byte {
	return t.b
}

// Equal reports whether two Texts have identical byte encodings.
// TextFromBytes(x) and TextFromString(string(x)) are always Equal.
func (t Text) Equal(other Text) bool {
	return bytes.Equal(t.b, other.b)
}

// Compare orders two Texts by codepoint (equivalently, byte) order.
func (t Text) Compare(other Text) int {
	return bytes.Compare(t.b, other.b)
}

// Hash returns a 64-bit hash of the Text's canonical bytes, using the
// algorithm selected by alg (see hash.go). Two Texts with equal byte
// encodings always hash equally.
func (t Text) Hash(alg int) uint64 {
	return hash64(t.b, alg)
}

// Encode writes Text's length-prefixed canonical encoding:
// length:4 || bytes. Used as a component of Composite and of the
// variable-size locator/key/value fields in a Segment's revision
// streams (spec §4.3).
func (t Text) Encode() []byte {
	out := make([]byte, 4+len(t.b))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(t.b)))
	copy(out[4:], t.b)
	return out
}

// TextFromEncoded decodes a length-prefixed Text and returns the
// number of bytes consumed.
func TextFromEncoded(b []byte) (Text, int, error) {
	if len(b) < 4 {
		return Text{}, 0, ErrCorruptManifest
	}
	n := int(binary.BigEndian.Uint32(b[0:4]))
	if len(b) < 4+n {
		return Text{}, 0, ErrCorruptManifest
	}
	return TextFromBytes(b[4 : 4+n]), 4 + n, nil
}
