package kitedb

// Payload encodings for the WAL record types this engine actually emits
// (spec §4.5/§4.6). Each operation is [fixed fields...][optional PropValue],
// little-endian, mirroring storage.WALRecord.Encode's framing style. The
// three derived/index record types (WALBatchVectors, WALSealFragment,
// WALCompactFragments) carry no user-visible state of their own (spec §9
// Open Question 2) and are never emitted by the write path, so they have no
// encoder here; recovery and replica replay skip them via
// storage.RecordSkippableOnReplica.

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kitedb/kitedb/delta"
)

func putU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putStr(buf []byte, s string) []byte {
	buf = putU32(buf, uint32(len(s)))
	return append(buf, s...)
}

func getU64(data []byte, off int) (uint64, int) {
	return binary.LittleEndian.Uint64(data[off:]), off + 8
}

func getU32(data []byte, off int) (uint32, int) {
	return binary.LittleEndian.Uint32(data[off:]), off + 4
}

func getStr(data []byte, off int) (string, int) {
	n, off := getU32(data, off)
	return string(data[off : off+int(n)]), off + int(n)
}

// encodeNodeID: [nodeID:8], the CreateNode/DeleteNode payload
func encodeNodeID(id uint64) []byte { return putU64(nil, id) }
func decodeNodeID(data []byte) uint64 {
	v, _ := getU64(data, 0)
	return v
}

// encodeEdge: [src:8][etype:4][dst:8]
func encodeEdge(src uint64, etype uint32, dst uint64) []byte {
	buf := putU64(nil, src)
	buf = putU32(buf, etype)
	buf = putU64(buf, dst)
	return buf
}

func decodeEdge(data []byte) (src uint64, etype uint32, dst uint64) {
	src, off := getU64(data, 0)
	etype, off = getU32(data, off)
	dst, _ = getU64(data, off)
	return
}

// encodeNodeProp: [nodeID:8][propKey:4][hasValue:1][value...]
func encodeNodeProp(id uint64, propKey uint32, v *delta.PropValue) []byte {
	buf := putU64(nil, id)
	buf = putU32(buf, propKey)
	if v == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, v.Encode()...)
}

func decodeNodeProp(data []byte) (id uint64, propKey uint32, v *delta.PropValue, err error) {
	if len(data) < 13 {
		return 0, 0, nil, errTruncated
	}
	id, off := getU64(data, 0)
	propKey, off = getU32(data, off)
	has := data[off]
	off++
	if has == 0 {
		return id, propKey, nil, nil
	}
	pv, _, derr := delta.Decode(data[off:])
	if derr != nil {
		return 0, 0, nil, derr
	}
	return id, propKey, &pv, nil
}

// encodeEdgeProp: [src:8][etype:4][dst:8][propKey:4][hasValue:1][value...]
func encodeEdgeProp(e delta.EdgeKey, propKey uint32, v *delta.PropValue) []byte {
	buf := encodeEdge(e.Src, e.Etype, e.Dst)
	buf = putU32(buf, propKey)
	if v == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, v.Encode()...)
}

func decodeEdgeProp(data []byte) (e delta.EdgeKey, propKey uint32, v *delta.PropValue, err error) {
	if len(data) < 25 {
		return delta.EdgeKey{}, 0, nil, errTruncated
	}
	src, etype, dst := decodeEdge(data[0:20])
	e = delta.EdgeKey{Src: src, Etype: etype, Dst: dst}
	propKey, off := getU32(data, 20)
	has := data[off]
	off++
	if has == 0 {
		return e, propKey, nil, nil
	}
	pv, _, derr := delta.Decode(data[off:])
	if derr != nil {
		return e, 0, nil, derr
	}
	return e, propKey, &pv, nil
}

// encodeNodeLabel: [nodeID:8][label:4]
func encodeNodeLabel(id uint64, label uint32) []byte {
	buf := putU64(nil, id)
	return putU32(buf, label)
}

func decodeNodeLabel(data []byte) (id uint64, label uint32) {
	id, off := getU64(data, 0)
	label, _ = getU32(data, off)
	return
}

// encodeNodeVector: [nodeID:8][propKey:4][hasVec:1][dim:4][f32...]
func encodeNodeVector(id uint64, propKey uint32, vec []float32) []byte {
	buf := putU64(nil, id)
	buf = putU32(buf, propKey)
	if vec == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = putU32(buf, uint32(len(vec)))
	for _, f := range vec {
		buf = putU32(buf, math.Float32bits(f))
	}
	return buf
}

func decodeNodeVector(data []byte) (id uint64, propKey uint32, vec []float32) {
	id, off := getU64(data, 0)
	propKey, off = getU32(data, off)
	has := data[off]
	off++
	if has == 0 {
		return id, propKey, nil
	}
	n, off2 := getU32(data, off)
	off = off2
	vec = make([]float32, n)
	for i := range vec {
		bits, o := getU32(data, off)
		vec[i] = math.Float32frombits(bits)
		off = o
	}
	return id, propKey, vec
}

// encodeSchemaDef: [id:4][name]
func encodeSchemaDef(id uint32, name string) []byte {
	buf := putU32(nil, id)
	return putStr(buf, name)
}

func decodeSchemaDef(data []byte) (id uint32, name string) {
	id, off := getU32(data, 0)
	name, _ = getStr(data, off)
	return
}

// errTruncated is returned by decoders that hit a short buffer; recovery
// treats it like any other InvalidWAL condition.
var errTruncated = fmt.Errorf("kitedb: truncated WAL payload")
