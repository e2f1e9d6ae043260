// Package delta implements the in-memory mutation overlay: the set of
// created/deleted/modified nodes, edge patches, and property changes a write
// transaction accumulates before merge, and the committed overlay those
// merges land in (spec §4.6).
package delta

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueKind tags a PropValue's variant. The tag byte is part of the wire
// format wherever a PropValue is framed (WAL payloads, snapshot NodeProps/
// EdgeProps sections), so the numbering is stable once shipped.
type ValueKind byte

const (
	KindNull   ValueKind = 0
	KindBool   ValueKind = 1
	KindI64    ValueKind = 2
	KindF64    ValueKind = 3
	KindString ValueKind = 4
	KindVector ValueKind = 5
)

// PropValue is the closed tagged-sum property value (spec §3): null, bool,
// i64, f64, string, or a dense f32 vector. Vectors normally live in a
// per-prop-key vector store (package vector) rather than as a PropValue;
// this variant lets a vector travel through the same Encode/Decode codec as
// every other prop value. Nothing rejects writing the same prop key through
// both the vector store and the plain prop path.
type PropValue struct {
	Kind   ValueKind
	Bool   bool
	I64    int64
	F64    float64
	Str    string
	Vector []float32
}

func Null() PropValue                { return PropValue{Kind: KindNull} }
func Bool(v bool) PropValue          { return PropValue{Kind: KindBool, Bool: v} }
func Int64(v int64) PropValue        { return PropValue{Kind: KindI64, I64: v} }
func Float64(v float64) PropValue    { return PropValue{Kind: KindF64, F64: v} }
func String(v string) PropValue      { return PropValue{Kind: KindString, Str: v} }
func Vector(v []float32) PropValue   { return PropValue{Kind: KindVector, Vector: v} }

// IsNull reports whether v is the null variant.
func (v PropValue) IsNull() bool { return v.Kind == KindNull }

// Equal compares two PropValues by variant and value. Vector equality is
// exact (bit-for-bit via float equality), matching the idempotent-replay
// rule "SetNodeVector: only if current vector ≠ new vector" (spec §4.10).
func (v PropValue) Equal(o PropValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindI64:
		return v.I64 == o.I64
	case KindF64:
		return v.F64 == o.F64
	case KindString:
		return v.Str == o.Str
	case KindVector:
		if len(v.Vector) != len(o.Vector) {
			return false
		}
		for i := range v.Vector {
			if v.Vector[i] != o.Vector[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Encode renders the value as [kind:1][payload...], exhaustive over the
// variant set (spec §9 "Dynamic property values").
func (v PropValue) Encode() []byte {
	switch v.Kind {
	case KindNull:
		return []byte{byte(KindNull)}
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{byte(KindBool), b}
	case KindI64:
		buf := make([]byte, 9)
		buf[0] = byte(KindI64)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.I64))
		return buf
	case KindF64:
		buf := make([]byte, 9)
		buf[0] = byte(KindF64)
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.F64))
		return buf
	case KindString:
		s := []byte(v.Str)
		buf := make([]byte, 5+len(s))
		buf[0] = byte(KindString)
		binary.LittleEndian.PutUint32(buf[1:], uint32(len(s)))
		copy(buf[5:], s)
		return buf
	case KindVector:
		buf := make([]byte, 5+4*len(v.Vector))
		buf[0] = byte(KindVector)
		binary.LittleEndian.PutUint32(buf[1:], uint32(len(v.Vector)))
		off := 5
		for _, f := range v.Vector {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
		return buf
	default:
		panic(fmt.Sprintf("delta: unknown PropValue kind %d", v.Kind))
	}
}

// Decode parses a PropValue from the front of data, returning the value and
// the number of bytes consumed.
func Decode(data []byte) (PropValue, int, error) {
	if len(data) < 1 {
		return PropValue{}, 0, fmt.Errorf("delta: empty value buffer")
	}
	kind := ValueKind(data[0])
	switch kind {
	case KindNull:
		return Null(), 1, nil
	case KindBool:
		if len(data) < 2 {
			return PropValue{}, 0, fmt.Errorf("delta: truncated bool value")
		}
		return Bool(data[1] != 0), 2, nil
	case KindI64:
		if len(data) < 9 {
			return PropValue{}, 0, fmt.Errorf("delta: truncated i64 value")
		}
		return Int64(int64(binary.LittleEndian.Uint64(data[1:9]))), 9, nil
	case KindF64:
		if len(data) < 9 {
			return PropValue{}, 0, fmt.Errorf("delta: truncated f64 value")
		}
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(data[1:9]))), 9, nil
	case KindString:
		if len(data) < 5 {
			return PropValue{}, 0, fmt.Errorf("delta: truncated string length")
		}
		slen := int(binary.LittleEndian.Uint32(data[1:5]))
		if len(data) < 5+slen {
			return PropValue{}, 0, fmt.Errorf("delta: truncated string value")
		}
		return String(string(data[5 : 5+slen])), 5 + slen, nil
	case KindVector:
		if len(data) < 5 {
			return PropValue{}, 0, fmt.Errorf("delta: truncated vector length")
		}
		n := int(binary.LittleEndian.Uint32(data[1:5]))
		if len(data) < 5+4*n {
			return PropValue{}, 0, fmt.Errorf("delta: truncated vector value")
		}
		vec := make([]float32, n)
		off := 5
		for i := 0; i < n; i++ {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		return Vector(vec), 5 + 4*n, nil
	default:
		return PropValue{}, 0, fmt.Errorf("delta: unknown PropValue kind %d", kind)
	}
}
