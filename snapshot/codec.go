package snapshot

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/kitedb/kitedb/delta"
	"github.com/kitedb/kitedb/storage"
)

// section ids tag each blob in the table of contents. Values 1000+propKeyID
// are reserved for per-prop-key vector sections.
const (
	secOutOffsets uint16 = iota + 1
	secOutDst
	secOutEtype
	secInOffsets
	secInSrc
	secInEtype
	secInOutIndex
	secPhysToNodeId
	secNodeIdToPhys
	secKeyEntries
	secKeyBuckets
	secStringOffsets
	secStringBytes
	secNodeLabels
	secNodeProps
	secEdgeProps
)

const vectorSectionBase = 1000

// tocEntry is one table-of-contents row: (sectionID, offset, length) into
// the blob following the TOC.
type tocEntry struct {
	id     uint16
	offset uint64
	length uint64
}

// Encode serializes the snapshot into the section-table blob format
// described in spec §4.3: a fixed scalar header, a table of contents, then
// the raw section bytes.
func (s *Snapshot) Encode() []byte {
	sections := map[uint16][]byte{
		secOutOffsets:    encodeU32s(s.OutOffsets),
		secOutDst:        encodeU64s(s.OutDst),
		secOutEtype:      encodeU32s(s.OutEtype),
		secInOffsets:     encodeU32s(s.InOffsets),
		secInSrc:         encodeU64s(s.InSrc),
		secInEtype:       encodeU32s(s.InEtype),
		secInOutIndex:    encodeU32s(s.InOutIndex),
		secPhysToNodeId:  encodeU64s(s.PhysToNodeId),
		secNodeIdToPhys:  encodeI64s(s.NodeIdToPhys),
		secKeyEntries:    encodeKeyEntries(s.KeyEntries),
		secKeyBuckets:    encodeU32s(s.KeyBuckets),
		secStringOffsets: encodeU32s(s.StringOffsets),
		secStringBytes:   s.StringBytes,
		secNodeLabels:    encodeNodeLabels(s.NodeLabels),
		secNodeProps:     encodePropMaps(s.NodeProps),
		secEdgeProps:     encodePropMaps(s.EdgeProps),
	}

	propKeys := make([]uint32, 0, len(s.VectorSections))
	for k := range s.VectorSections {
		propKeys = append(propKeys, k)
	}
	sort.Slice(propKeys, func(i, j int) bool { return propKeys[i] < propKeys[j] })
	for _, k := range propKeys {
		sections[vectorSectionBase+uint16(k)] = encodeVectorSection(s.VectorSections[k])
	}

	ids := make([]uint16, 0, len(sections))
	for id := range sections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:], s.NumNodes)
	binary.LittleEndian.PutUint32(header[4:], s.NumEdges)
	binary.LittleEndian.PutUint64(header[8:], s.MaxNodeID)

	tocSize := 4 + len(ids)*18
	var offset uint64 = uint64(len(header) + tocSize)
	toc := make([]byte, 0, tocSize)
	toc = appendU32(toc, uint32(len(ids)))
	var body []byte
	for _, id := range ids {
		data := sections[id]
		toc = appendU16(toc, id)
		toc = appendU64(toc, offset)
		toc = appendU64(toc, uint64(len(data)))
		offset += uint64(len(data))
		body = append(body, data...)
	}

	out := make([]byte, 0, len(header)+len(toc)+len(body))
	out = append(out, header...)
	out = append(out, toc...)
	out = append(out, body...)
	return out
}

// Decode parses a blob produced by Encode back into a Snapshot.
func Decode(buf []byte) (*Snapshot, error) {
	if len(buf) < 20 {
		return nil, &storage.InvalidSnapshotError{Reason: "blob too small"}
	}
	s := &Snapshot{VectorSections: make(map[uint32]*VectorSection)}
	s.NumNodes = binary.LittleEndian.Uint32(buf[0:])
	s.NumEdges = binary.LittleEndian.Uint32(buf[4:])
	s.MaxNodeID = binary.LittleEndian.Uint64(buf[8:])

	count := binary.LittleEndian.Uint32(buf[16:])
	pos := 20
	entries := make([]tocEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+18 > len(buf) {
			return nil, &storage.InvalidSnapshotError{Reason: "truncated table of contents"}
		}
		id := binary.LittleEndian.Uint16(buf[pos:])
		off := binary.LittleEndian.Uint64(buf[pos+2:])
		length := binary.LittleEndian.Uint64(buf[pos+10:])
		entries = append(entries, tocEntry{id: id, offset: off, length: length})
		pos += 18
	}

	sectionOf := func(id uint16) ([]byte, bool) {
		for _, e := range entries {
			if e.id == id {
				if e.offset+e.length > uint64(len(buf)) {
					return nil, false
				}
				return buf[e.offset : e.offset+e.length], true
			}
		}
		return nil, false
	}

	var err error
	if b, ok := sectionOf(secOutOffsets); ok {
		if s.OutOffsets, err = decodeU32s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secOutDst); ok {
		if s.OutDst, err = decodeU64s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secOutEtype); ok {
		if s.OutEtype, err = decodeU32s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secInOffsets); ok {
		if s.InOffsets, err = decodeU32s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secInSrc); ok {
		if s.InSrc, err = decodeU64s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secInEtype); ok {
		if s.InEtype, err = decodeU32s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secInOutIndex); ok {
		if s.InOutIndex, err = decodeU32s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secPhysToNodeId); ok {
		if s.PhysToNodeId, err = decodeU64s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secNodeIdToPhys); ok {
		if s.NodeIdToPhys, err = decodeI64s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secKeyEntries); ok {
		if s.KeyEntries, err = decodeKeyEntries(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secKeyBuckets); ok {
		if s.KeyBuckets, err = decodeU32s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secStringOffsets); ok {
		if s.StringOffsets, err = decodeU32s(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secStringBytes); ok {
		s.StringBytes = append([]byte(nil), b...)
	}
	if b, ok := sectionOf(secNodeLabels); ok {
		if s.NodeLabels, err = decodeNodeLabels(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secNodeProps); ok {
		if s.NodeProps, err = decodePropMaps(b); err != nil {
			return nil, err
		}
	}
	if b, ok := sectionOf(secEdgeProps); ok {
		if s.EdgeProps, err = decodePropMaps(b); err != nil {
			return nil, err
		}
	}
	for _, e := range entries {
		if e.id < vectorSectionBase {
			continue
		}
		propKey := uint32(e.id - vectorSectionBase)
		b, _ := sectionOf(e.id)
		sec, err := decodeVectorSection(b)
		if err != nil {
			return nil, err
		}
		s.VectorSections[propKey] = sec
	}

	if len(s.OutOffsets) == 0 {
		s.OutOffsets = []uint32{0}
	}
	if len(s.InOffsets) == 0 {
		s.InOffsets = []uint32{0}
	}
	if len(s.KeyBuckets) == 0 {
		s.KeyBuckets = []uint32{0}
	}
	if len(s.StringOffsets) == 0 {
		s.StringOffsets = []uint32{0}
	}
	return s, nil
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func encodeU32s(vals []uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func decodeU32s(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, &storage.InvalidSnapshotError{Reason: "misaligned u32 section"}
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out, nil
}

func encodeU64s(vals []uint64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], v)
	}
	return out
}

func decodeU64s(b []byte) ([]uint64, error) {
	if len(b)%8 != 0 {
		return nil, &storage.InvalidSnapshotError{Reason: "misaligned u64 section"}
	}
	out := make([]uint64, len(b)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return out, nil
}

func encodeI64s(vals []int64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func decodeI64s(b []byte) ([]int64, error) {
	if len(b)%8 != 0 {
		return nil, &storage.InvalidSnapshotError{Reason: "misaligned i64 section"}
	}
	out := make([]int64, len(b)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}

func encodeKeyEntries(entries []KeyEntry) []byte {
	out := make([]byte, 0, len(entries)*20)
	for _, e := range entries {
		out = appendU64(out, e.Hash)
		out = appendU32(out, e.StringID)
		out = appendU64(out, e.NodeID)
	}
	return out
}

func decodeKeyEntries(b []byte) ([]KeyEntry, error) {
	if len(b)%20 != 0 {
		return nil, &storage.InvalidSnapshotError{Reason: "misaligned key-entry section"}
	}
	out := make([]KeyEntry, len(b)/20)
	for i := range out {
		off := i * 20
		out[i] = KeyEntry{
			Hash:     binary.LittleEndian.Uint64(b[off:]),
			StringID: binary.LittleEndian.Uint32(b[off+8:]),
			NodeID:   binary.LittleEndian.Uint64(b[off+12:]),
		}
	}
	return out, nil
}

// encodeNodeLabels packs a variable-length-per-node list as
// [count u32][label u32]*count, repeated once per node in phys order.
func encodeNodeLabels(labels [][]uint32) []byte {
	var out []byte
	for _, ls := range labels {
		out = appendU32(out, uint32(len(ls)))
		for _, l := range ls {
			out = appendU32(out, l)
		}
	}
	return out
}

func decodeNodeLabels(b []byte) ([][]uint32, error) {
	var out [][]uint32
	pos := 0
	for pos < len(b) {
		if pos+4 > len(b) {
			return nil, &storage.InvalidSnapshotError{Reason: "truncated node-labels section"}
		}
		n := binary.LittleEndian.Uint32(b[pos:])
		pos += 4
		ls := make([]uint32, n)
		for i := range ls {
			if pos+4 > len(b) {
				return nil, &storage.InvalidSnapshotError{Reason: "truncated node-labels section"}
			}
			ls[i] = binary.LittleEndian.Uint32(b[pos:])
			pos += 4
		}
		out = append(out, ls)
	}
	return out, nil
}

// encodePropMaps packs a slice of (possibly nil) prop maps as
// [count u32]{[propKey u32][PropValue bytes]}*count, repeated per entry.
func encodePropMaps(maps []map[uint32]delta.PropValue) []byte {
	var out []byte
	for _, m := range maps {
		out = appendU32(out, uint32(len(m)))
		keys := make([]uint32, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			out = appendU32(out, k)
			enc := m[k].Encode()
			out = appendU32(out, uint32(len(enc)))
			out = append(out, enc...)
		}
	}
	return out
}

func decodePropMaps(b []byte) ([]map[uint32]delta.PropValue, error) {
	var out []map[uint32]delta.PropValue
	pos := 0
	for pos < len(b) {
		if pos+4 > len(b) {
			return nil, &storage.InvalidSnapshotError{Reason: "truncated prop-map section"}
		}
		n := binary.LittleEndian.Uint32(b[pos:])
		pos += 4
		var m map[uint32]delta.PropValue
		if n > 0 {
			m = make(map[uint32]delta.PropValue, n)
		}
		for i := uint32(0); i < n; i++ {
			if pos+8 > len(b) {
				return nil, &storage.InvalidSnapshotError{Reason: "truncated prop-map entry"}
			}
			key := binary.LittleEndian.Uint32(b[pos:])
			length := binary.LittleEndian.Uint32(b[pos+4:])
			pos += 8
			if pos+int(length) > len(b) {
				return nil, &storage.InvalidSnapshotError{Reason: "truncated prop value"}
			}
			v, _, err := delta.Decode(b[pos : pos+int(length)])
			if err != nil {
				return nil, err
			}
			m[key] = v
			pos += int(length)
		}
		out = append(out, m)
	}
	return out, nil
}

func encodeVectorSection(sec *VectorSection) []byte {
	out := appendU32(nil, sec.Dim)
	out = appendU32(out, uint32(len(sec.NodeIDs)))
	for _, id := range sec.NodeIDs {
		out = appendU64(out, id)
	}
	for _, f := range sec.Data {
		out = appendU32(out, math.Float32bits(f))
	}
	return out
}

func decodeVectorSection(b []byte) (*VectorSection, error) {
	if len(b) < 8 {
		return nil, &storage.InvalidSnapshotError{Reason: "truncated vector section"}
	}
	dim := binary.LittleEndian.Uint32(b[0:])
	count := binary.LittleEndian.Uint32(b[4:])
	pos := 8
	ids := make([]uint64, count)
	for i := range ids {
		if pos+8 > len(b) {
			return nil, &storage.InvalidSnapshotError{Reason: "truncated vector-section node ids"}
		}
		ids[i] = binary.LittleEndian.Uint64(b[pos:])
		pos += 8
	}
	data := make([]float32, uint64(count)*uint64(dim))
	for i := range data {
		if pos+4 > len(b) {
			return nil, &storage.InvalidSnapshotError{Reason: "truncated vector-section data"}
		}
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[pos:]))
		pos += 4
	}
	return &VectorSection{Dim: dim, NodeIDs: ids, Data: data}, nil
}
