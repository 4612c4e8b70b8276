package corestore

import "bytes"

// MaxCompositeSize bounds the literal (un-hashed) form of a Composite's
// concatenated byte stream (spec §3). Composites built from inputs
// whose concatenation would exceed this are stored in hashed form
// instead.
const MaxCompositeSize = 256

// Byteable is anything with a canonical, stable byte encoding —
// Identifier, Text, Value, and Position all implement it. Composite is
// built by concatenating the CanonicalBytes() of one or more Byteables.
type Byteable interface {
	CanonicalBytes() []byte
}

func (id Identifier) CanonicalBytes() []byte { return id.Bytes() }
func (t Text) CanonicalBytes() []byte        { return t.RawBytes() }
func (v Value) CanonicalBytes() []byte       { return v.Encode() }
func (p Position) CanonicalBytes() []byte    { return p.Encode() }

// compositeForm tags whether a Composite stores its literal
// concatenated byte stream or a 16-byte hash of it. The tag is part of
// the encoding so a hashed form can never compare equal to a literal
// form that happens to share the same 16 bytes (spec §3:
// "Composite(Text("ab")) must not equal Composite(Text("a"), Text("b"))"
// is a distinct guarantee, upheld by per-part length prefixes below;
// this tag upholds the literal-vs-hashed distinguishability guarantee).
type compositeForm byte

const (
	formLiteral compositeForm = 0
	formHashed  compositeForm = 1
)

// Composite is a fingerprint of one or more Byteables (spec §3), used
// as the Bloom filter key and as cache keys. Two Composites are equal
// iff their canonical byte streams compare equal.
type Composite struct {
	form compositeForm
	b    []byte
}

// BuildComposite concatenates the canonical, length-prefixed bytes of
// each part. If the result exceeds MaxCompositeSize, the Composite
// stores only a 16-byte hash of it (using alg, see hash.go) instead of
// the literal stream.
func BuildComposite(alg int, parts ...Byteable) Composite {
	var buf bytes.Buffer
	for _, p := range parts {
		cb := p.CanonicalBytes()
		var lenPrefix [4]byte
		lenPrefix[0] = byte(len(cb) >> 24)
		lenPrefix[1] = byte(len(cb) >> 16)
		lenPrefix[2] = byte(len(cb) >> 8)
		lenPrefix[3] = byte(len(cb))
		buf.Write(lenPrefix[:])
		buf.Write(cb)
	}

	literal := buf.Bytes()
	if len(literal) <= MaxCompositeSize {
		cp := make([]byte, len(literal))
		copy(cp, literal)
		return Composite{form: formLiteral, b: cp}
	}

	digest := hash128(literal, alg)
	return Composite{form: formHashed, b: digest[:]}
}

// Equal reports whether two Composites have identical canonical byte
// streams: same form (literal vs hashed) and same bytes.
func (c Composite) Equal(other Composite) bool {
	return c.form == other.form && bytes.Equal(c.b, other.b)
}

// Bytes returns the Composite's own encoding: form:1 || payload. This
// is what the Bloom filter hashes and what ToBytes/FromBytes round-trip.
func (c Composite) Bytes() []byte {
	out := make([]byte, 1+len(c.b))
	out[0] = byte(c.form)
	copy(out[1:], c.b)
	return out
}

// CompositeFromBytes decodes a Composite from the encoding Bytes
// produces. Equality of the decoded value (via Equal), not identity of
// the original parts list, is what round-trips (spec §8).
func CompositeFromBytes(b []byte) (Composite, error) {
	if len(b) < 1 {
		return Composite{}, ErrCorruptManifest
	}
	form := compositeForm(b[0])
	if form != formLiteral && form != formHashed {
		return Composite{}, ErrCorruptManifest
	}
	payload := make([]byte, len(b)-1)
	copy(payload, b[1:])
	return Composite{form: form, b: payload}, nil
}

// IsHashed reports whether this Composite stores a hashed form rather
// than a literal concatenation (its parts exceeded MaxCompositeSize).
func (c Composite) IsHashed() bool {
	return c.form == formHashed
}
