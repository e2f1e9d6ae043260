// Package snapshot implements the immutable CSR-packed graph image: its
// in-memory representation, the writer that merges a delta overlay into a
// new image, the binary codec, and the seven-invariant checker (spec §4.3,
// §4.4).
package snapshot

import (
	"sort"

	"github.com/kitedb/kitedb/delta"
)

// KeyEntry is one row of the key index: a node's key string, hashed and
// paired with its physical string id and owning node id (spec §4.3).
type KeyEntry struct {
	Hash     uint64
	StringID uint32
	NodeID   uint64
}

// OutEdge is one (etype, dst) pair in a source node's adjacency list.
type OutEdge struct {
	Etype uint32
	Dst   uint64
}

// Snapshot is the fully materialized CSR graph image. Every array is
// indexed by physical position except where noted; PhysToNodeId/
// NodeIdToPhys translate between physical index and stable node id.
type Snapshot struct {
	NumNodes  uint32
	NumEdges  uint32
	MaxNodeID uint64

	OutOffsets []uint32 // len NumNodes+1
	OutDst     []uint64
	OutEtype   []uint32

	InOffsets  []uint32 // len NumNodes+1
	InSrc      []uint64
	InEtype    []uint32
	InOutIndex []uint32 // index back into Out arrays

	PhysToNodeId []uint64 // len NumNodes
	NodeIdToPhys []int64  // len MaxNodeID+1, -1 = absent

	KeyEntries []KeyEntry
	KeyBuckets []uint32 // len numBuckets+1

	StringOffsets []uint32 // len numStrings+1
	StringBytes   []byte

	NodeLabels [][]uint32                    // per phys index
	NodeProps  []map[uint32]delta.PropValue   // per phys index
	EdgeProps  []map[uint32]delta.PropValue   // parallel to OutDst/OutEtype (out-edge position)

	// VectorSections holds per-prop-key vector data in a form the codec
	// can serialize independent of package vector's live Store type.
	VectorSections map[uint32]*VectorSection
}

// VectorSection is one prop-key's serialized vector table.
type VectorSection struct {
	Dim     uint32
	NodeIDs []uint64 // vectorId -> nodeId, in insertion order
	Data    []float32 // len(NodeIDs)*Dim, row-major
}

// Empty returns a zero-sized, structurally valid snapshot — the
// placeholder created at file init (spec §3 "Created at file init").
func Empty() *Snapshot {
	return &Snapshot{
		OutOffsets:    []uint32{0},
		InOffsets:     []uint32{0},
		KeyBuckets:    []uint32{0},
		StringOffsets: []uint32{0},
		VectorSections: make(map[uint32]*VectorSection),
	}
}

// NumBuckets returns the key index's bucket count (KeyBuckets has one more
// entry than bucket count, the trailing sentinel).
func (s *Snapshot) NumBuckets() int {
	if len(s.KeyBuckets) == 0 {
		return 0
	}
	return len(s.KeyBuckets) - 1
}

// PhysOf returns the physical index for a node id, or (0, false) if absent.
func (s *Snapshot) PhysOf(nodeID uint64) (int, bool) {
	if nodeID >= uint64(len(s.NodeIdToPhys)) {
		return 0, false
	}
	p := s.NodeIdToPhys[nodeID]
	if p < 0 {
		return 0, false
	}
	return int(p), true
}

// OutEdgesOf returns phys index i's out-edges as (etype, dst) pairs, sorted
// and deduped (invariant 4).
func (s *Snapshot) OutEdgesOf(phys int) []OutEdge {
	start, end := s.OutOffsets[phys], s.OutOffsets[phys+1]
	out := make([]OutEdge, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, OutEdge{Etype: s.OutEtype[i], Dst: s.OutDst[i]})
	}
	return out
}

// NodeByKey looks up a node id by its key string through the hash-bucket
// index (spec §4.3 invariant 6 ordering).
func (s *Snapshot) NodeByKey(hashKey uint64, key string) (uint64, bool) {
	nb := s.NumBuckets()
	if nb == 0 {
		return 0, false
	}
	bucket := hashKey % uint64(nb)
	start, end := s.KeyBuckets[bucket], s.KeyBuckets[bucket+1]
	for i := start; i < end; i++ {
		e := s.KeyEntries[i]
		if e.Hash != hashKey {
			continue
		}
		if s.stringAt(e.StringID) == key {
			return e.NodeID, true
		}
	}
	return 0, false
}

func (s *Snapshot) stringAt(id uint32) string {
	if int(id)+1 >= len(s.StringOffsets) {
		return ""
	}
	start, end := s.StringOffsets[id], s.StringOffsets[id+1]
	return string(s.StringBytes[start:end])
}

// sortOutEdges sorts and dedups a node's out-edge list by (etype, dst), the
// order invariant 4 requires and the order out-edge listings must preserve
// (spec §4.7).
func sortOutEdges(edges []OutEdge) []OutEdge {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Etype != edges[j].Etype {
			return edges[i].Etype < edges[j].Etype
		}
		return edges[i].Dst < edges[j].Dst
	})
	out := edges[:0]
	for i, e := range edges {
		if i > 0 && e == out[len(out)-1] {
			continue
		}
		out = append(out, e)
	}
	return out
}
