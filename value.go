package corestore

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// ValueType tags the scalar kind a Value holds (spec §3).
type ValueType byte

const (
	ValueBool ValueType = iota + 1
	ValueInt32
	ValueInt64
	ValueFloat32
	ValueFloat64
	ValueLink // = Identifier
	ValueString
	// valueNegInfinity and valuePosInfinity are internal sentinel tags;
	// they never appear on disk (a Write never stores a sentinel), only
	// as in-memory bounds for range queries (spec §3, §4.2 BETWEEN).
	valueNegInfinity
	valuePosInfinity
)

// NegInfinity and PosInfinity sort below/above any real Value,
// including each other's absence — used as open range-query bounds.
var (
	NegInfinity = Value{typ: valueNegInfinity}
	PosInfinity = Value{typ: valuePosInfinity}
)

// Value is a tagged scalar (spec §3). The zero Value is invalid; use
// one of the constructors below.
type Value struct {
	typ ValueType
	b   bool
	i32 int32
	i64 int64
	f32 float32
	f64 float64
	lnk Identifier
	str string
}

func NewBool(v bool) Value         { return Value{typ: ValueBool, b: v} }
func NewInt32(v int32) Value       { return Value{typ: ValueInt32, i32: v} }
func NewInt64(v int64) Value       { return Value{typ: ValueInt64, i64: v} }
func NewFloat32(v float32) Value   { return Value{typ: ValueFloat32, f32: v} }
func NewFloat64(v float64) Value   { return Value{typ: ValueFloat64, f64: v} }
func NewLink(v Identifier) Value   { return Value{typ: ValueLink, lnk: v} }
func NewString(v string) Value     { return Value{typ: ValueString, str: v} }

// Type returns the Value's tag.
func (v Value) Type() ValueType { return v.typ }

// AsLink returns v's Identifier payload, for callers that already
// checked Type() == ValueLink (e.g. navigate's Link-follow step).
func (v Value) AsLink() (Identifier, error) {
	if v.typ != ValueLink {
		return 0, ErrNotLink
	}
	return v.lnk, nil
}

// IsNumeric reports whether v's tag participates in numeric ordering.
func (v Value) IsNumeric() bool {
	switch v.typ {
	case ValueInt32, ValueInt64, ValueFloat32, ValueFloat64, ValueLink:
		return true
	default:
		return false
	}
}

// numeric returns v's value as a float64 for numeric comparison. Link
// is numeric (ordered by its unsigned Identifier) even though it isn't
// a plain number — spec §3 treats it as inhabiting the numeric column
// of the weak typing rule.
func (v Value) numeric() float64 {
	switch v.typ {
	case ValueInt32:
		return float64(v.i32)
	case ValueInt64:
		return float64(v.i64)
	case ValueFloat32:
		return float64(v.f32)
	case ValueFloat64:
		return v.f64
	case ValueLink:
		return float64(v.lnk)
	default:
		return 0
	}
}

// stringForm renders v the way weak-typed comparison does when at
// least one side isn't numeric (spec §3: "otherwise lexicographic on
// their string form").
func (v Value) stringForm() string {
	switch v.typ {
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueInt32:
		return strconv.FormatInt(int64(v.i32), 10)
	case ValueInt64:
		return strconv.FormatInt(v.i64, 10)
	case ValueFloat32:
		return strconv.FormatFloat(float64(v.f32), 'g', -1, 32)
	case ValueFloat64:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	case ValueLink:
		return strconv.FormatUint(uint64(v.lnk), 10)
	case ValueString:
		return v.str
	default:
		return ""
	}
}

// Compare implements spec §3's weak comparison: if both sides are
// numeric, numeric order; otherwise lexicographic on their string
// form. NEG_INFINITY sorts below, and POS_INFINITY above, any real
// Value (and below/above one another only as expected at the extremes).
func (v Value) Compare(other Value) int {
	if v.typ == valueNegInfinity {
		if other.typ == valueNegInfinity {
			return 0
		}
		return -1
	}
	if other.typ == valueNegInfinity {
		return 1
	}
	if v.typ == valuePosInfinity {
		if other.typ == valuePosInfinity {
			return 0
		}
		return 1
	}
	if other.typ == valuePosInfinity {
		return -1
	}

	if v.IsNumeric() && other.IsNumeric() {
		a, b := v.numeric(), other.numeric()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}

	as, bs := v.stringForm(), other.stringForm()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// Equal reports value equality under the same weak-typing rule as
// Compare (so a Value comparing equal by Compare is also Equal, and
// vice versa — Revision parity (spec §3) relies on this).
func (v Value) Equal(other Value) bool {
	return v.Compare(other) == 0
}

// Encode writes Value's canonical byte encoding: type_tag:1 || payload
// (spec §3). Sentinels never reach disk; Encode panics if called on
// one, since no Write ever carries a sentinel bound.
func (v Value) Encode() []byte {
	switch v.typ {
	case ValueBool:
		p := byte(0)
		if v.b {
			p = 1
		}
		return []byte{byte(v.typ), p}
	case ValueInt32:
		out := make([]byte, 5)
		out[0] = byte(v.typ)
		binary.BigEndian.PutUint32(out[1:], uint32(v.i32))
		return out
	case ValueInt64:
		out := make([]byte, 9)
		out[0] = byte(v.typ)
		binary.BigEndian.PutUint64(out[1:], uint64(v.i64))
		return out
	case ValueFloat32:
		out := make([]byte, 5)
		out[0] = byte(v.typ)
		binary.BigEndian.PutUint32(out[1:], math.Float32bits(v.f32))
		return out
	case ValueFloat64:
		out := make([]byte, 9)
		out[0] = byte(v.typ)
		binary.BigEndian.PutUint64(out[1:], math.Float64bits(v.f64))
		return out
	case ValueLink:
		out := make([]byte, 1+IdentifierSize)
		out[0] = byte(v.typ)
		copy(out[1:], v.lnk.Bytes())
		return out
	case ValueString:
		sb := []byte(v.str)
		out := make([]byte, 1+4+len(sb))
		out[0] = byte(v.typ)
		binary.BigEndian.PutUint32(out[1:5], uint32(len(sb)))
		copy(out[5:], sb)
		return out
	default:
		panic(fmt.Sprintf("corestore: cannot encode sentinel Value (tag %d)", v.typ))
	}
}

// ValueFromEncoded decodes a Value from its canonical encoding,
// returning the number of bytes consumed.
func ValueFromEncoded(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, ErrCorruptManifest
	}
	typ := ValueType(b[0])
	switch typ {
	case ValueBool:
		if len(b) < 2 {
			return Value{}, 0, ErrCorruptManifest
		}
		return NewBool(b[1] != 0), 2, nil
	case ValueInt32:
		if len(b) < 5 {
			return Value{}, 0, ErrCorruptManifest
		}
		return NewInt32(int32(binary.BigEndian.Uint32(b[1:5]))), 5, nil
	case ValueInt64:
		if len(b) < 9 {
			return Value{}, 0, ErrCorruptManifest
		}
		return NewInt64(int64(binary.BigEndian.Uint64(b[1:9]))), 9, nil
	case ValueFloat32:
		if len(b) < 5 {
			return Value{}, 0, ErrCorruptManifest
		}
		return NewFloat32(math.Float32frombits(binary.BigEndian.Uint32(b[1:5]))), 5, nil
	case ValueFloat64:
		if len(b) < 9 {
			return Value{}, 0, ErrCorruptManifest
		}
		return NewFloat64(math.Float64frombits(binary.BigEndian.Uint64(b[1:9]))), 9, nil
	case ValueLink:
		if len(b) < 1+IdentifierSize {
			return Value{}, 0, ErrCorruptManifest
		}
		id, err := IdentifierFromBytes(b[1 : 1+IdentifierSize])
		if err != nil {
			return Value{}, 0, err
		}
		return NewLink(id), 1 + IdentifierSize, nil
	case ValueString:
		if len(b) < 5 {
			return Value{}, 0, ErrCorruptManifest
		}
		n := int(binary.BigEndian.Uint32(b[1:5]))
		if len(b) < 5+n {
			return Value{}, 0, ErrCorruptManifest
		}
		return NewString(string(b[5 : 5+n])), 5 + n, nil
	default:
		return Value{}, 0, ErrCorruptManifest
	}
}
