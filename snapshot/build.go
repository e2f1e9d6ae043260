package snapshot

import (
	"sort"

	"github.com/kitedb/kitedb/delta"
	"github.com/kitedb/kitedb/storage"
	"github.com/kitedb/kitedb/vector"
)

// BuildOptions configures a checkpoint build (spec §4.4).
type BuildOptions struct {
	MaxNodeID uint64
}

// Build merges delta d onto base, producing a new immutable snapshot. This
// is the core of checkpoint/compact: every node, edge, prop, label, key and
// vector alive after the merge is renumbered into a dense physical index
// (spec §4.4's "builds a new snapshot from (committed delta ∪ current
// snapshot)").
func Build(base *Snapshot, d *delta.Delta, vectors *vector.Stores, opts BuildOptions) *Snapshot {
	if base == nil {
		base = Empty()
	}
	if d == nil {
		d = delta.New()
	}

	nodeLabels := base.nodeLabelsByNode()
	nodeProps := base.nodePropsByNode()
	outByNode := base.outEdgesByNode()
	edgeProps := base.edgePropsByNode()
	keysByNode := base.keysByNode()

	live := make(map[uint64]bool, len(base.PhysToNodeId)+len(d.CreatedNodes))
	for _, id := range base.PhysToNodeId {
		live[id] = true
	}
	for id := range d.CreatedNodes {
		live[id] = true
	}
	for id := range d.DeletedNodes {
		delete(live, id)
		delete(nodeLabels, id)
		delete(nodeProps, id)
		delete(outByNode, id)
		delete(keysByNode, id)
	}

	labelTouched := make(map[uint64]bool)
	for id := range d.NodeLabelsAdd {
		labelTouched[id] = true
	}
	for id := range d.NodeLabelsDel {
		labelTouched[id] = true
	}
	for id := range labelTouched {
		if !live[id] {
			continue
		}
		set := map[uint32]bool{}
		for _, l := range nodeLabels[id] {
			set[l] = true
		}
		for l := range d.NodeLabelsAdd[id] {
			set[l] = true
		}
		for l := range d.NodeLabelsDel[id] {
			delete(set, l)
		}
		out := make([]uint32, 0, len(set))
		for l := range set {
			out = append(out, l)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		nodeLabels[id] = out
	}

	for id, props := range d.NodeProps {
		if !live[id] {
			continue
		}
		m := nodeProps[id]
		if m == nil {
			m = make(map[uint32]delta.PropValue)
			nodeProps[id] = m
		}
		for propKey, v := range props {
			if v == nil {
				delete(m, propKey)
			} else {
				m[propKey] = *v
			}
		}
	}

	for src, patches := range d.OutAdd {
		if !live[src] {
			continue
		}
		for _, p := range patches {
			if !live[p.Other] {
				continue
			}
			outByNode[src] = append(outByNode[src], OutEdge{Etype: p.Etype, Dst: p.Other})
		}
	}
	for src, patches := range d.OutDel {
		edges := outByNode[src]
		for _, p := range patches {
			filtered := edges[:0]
			for _, e := range edges {
				if e.Etype == p.Etype && e.Dst == p.Other {
					continue
				}
				filtered = append(filtered, e)
			}
			edges = filtered
		}
		outByNode[src] = edges
	}
	for id, edges := range outByNode {
		if !live[id] {
			delete(outByNode, id)
			continue
		}
		valid := edges[:0]
		for _, e := range edges {
			if live[e.Dst] {
				valid = append(valid, e)
			}
		}
		outByNode[id] = sortOutEdges(valid)
	}

	for ek, props := range d.EdgeProps {
		if !live[ek.Src] || !live[ek.Dst] {
			continue
		}
		m := edgeProps[ek]
		if m == nil {
			m = make(map[uint32]delta.PropValue)
			edgeProps[ek] = m
		}
		for propKey, v := range props {
			if v == nil {
				delete(m, propKey)
			} else {
				m[propKey] = *v
			}
		}
	}

	for str, id := range d.KeyIndex {
		if !live[id] {
			continue
		}
		keysByNode[id] = str
	}
	for str := range d.KeyIndexDeleted {
		for id, s := range keysByNode {
			if s == str {
				delete(keysByNode, id)
			}
		}
	}

	// Assign dense physical indices by ascending node id (deterministic).
	ids := make([]uint64, 0, len(live))
	for id := range live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	maxID := base.MaxNodeID
	if opts.MaxNodeID > maxID {
		maxID = opts.MaxNodeID
	}

	out := &Snapshot{
		NumNodes:       uint32(len(ids)),
		MaxNodeID:      maxID,
		PhysToNodeId:   ids,
		NodeIdToPhys:   make([]int64, maxID+1),
		NodeLabels:     make([][]uint32, len(ids)),
		NodeProps:      make([]map[uint32]delta.PropValue, len(ids)),
		VectorSections: make(map[uint32]*VectorSection),
	}
	for i := range out.NodeIdToPhys {
		out.NodeIdToPhys[i] = -1
	}
	for phys, id := range ids {
		out.NodeIdToPhys[id] = int64(phys)
		out.NodeLabels[phys] = nodeLabels[id]
		out.NodeProps[phys] = nodeProps[id]
	}

	// CSR out-adjacency.
	out.OutOffsets = make([]uint32, len(ids)+1)
	var total uint32
	for phys, id := range ids {
		out.OutOffsets[phys] = total
		total += uint32(len(outByNode[id]))
	}
	out.OutOffsets[len(ids)] = total
	out.OutDst = make([]uint64, 0, total)
	out.OutEtype = make([]uint32, 0, total)
	out.EdgeProps = make([]map[uint32]delta.PropValue, 0, total)
	for _, id := range ids {
		for _, e := range outByNode[id] {
			out.OutDst = append(out.OutDst, e.Dst)
			out.OutEtype = append(out.OutEtype, e.Etype)
			ek := delta.EdgeKey{Src: id, Etype: e.Etype, Dst: e.Dst}
			out.EdgeProps = append(out.EdgeProps, edgeProps[ek])
		}
	}
	out.NumEdges = total

	// In-adjacency mirrors out-adjacency, grouped by dst, sorted by
	// (src, etype), with InOutIndex pointing back to the owning out-edge
	// position.
	type inEdge struct {
		src, dst uint64
		etype    uint32
		outPos   uint32
	}
	inByDst := make(map[uint64][]inEdge)
	var pos uint32
	for _, id := range ids {
		for _, e := range outByNode[id] {
			inByDst[e.Dst] = append(inByDst[e.Dst], inEdge{src: id, dst: e.Dst, etype: e.Etype, outPos: pos})
			pos++
		}
	}
	out.InOffsets = make([]uint32, len(ids)+1)
	out.InSrc = make([]uint64, 0, total)
	out.InEtype = make([]uint32, 0, total)
	out.InOutIndex = make([]uint32, 0, total)
	var inTotal uint32
	for phys, id := range ids {
		out.InOffsets[phys] = inTotal
		edges := inByDst[id]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].src != edges[j].src {
				return edges[i].src < edges[j].src
			}
			return edges[i].etype < edges[j].etype
		})
		for _, e := range edges {
			out.InSrc = append(out.InSrc, e.src)
			out.InEtype = append(out.InEtype, e.etype)
			out.InOutIndex = append(out.InOutIndex, e.outPos)
		}
		inTotal += uint32(len(edges))
	}
	out.InOffsets[len(ids)] = inTotal

	buildKeyIndex(out, keysByNode)
	buildVectorSections(out, vectors)

	return out
}

func buildKeyIndex(out *Snapshot, keysByNode map[uint64]string) {
	type kv struct {
		key string
		id  uint64
	}
	entries := make([]kv, 0, len(keysByNode))
	for id, key := range keysByNode {
		entries = append(entries, kv{key, id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	out.StringOffsets = make([]uint32, 0, len(entries)+1)
	var buf []byte
	for _, e := range entries {
		out.StringOffsets = append(out.StringOffsets, uint32(len(buf)))
		buf = append(buf, e.key...)
	}
	out.StringOffsets = append(out.StringOffsets, uint32(len(buf)))
	out.StringBytes = buf

	numBuckets := len(entries)
	if numBuckets == 0 {
		numBuckets = 1
	}
	buckets := make([][]KeyEntry, numBuckets)
	for i, e := range entries {
		h := storage.HashKey(e.key)
		b := h % uint64(numBuckets)
		buckets[b] = append(buckets[b], KeyEntry{Hash: h, StringID: uint32(i), NodeID: e.id})
	}

	out.KeyBuckets = make([]uint32, numBuckets+1)
	out.KeyEntries = make([]KeyEntry, 0, len(entries))
	for b := 0; b < numBuckets; b++ {
		out.KeyBuckets[b] = uint32(len(out.KeyEntries))
		out.KeyEntries = append(out.KeyEntries, buckets[b]...)
	}
	out.KeyBuckets[numBuckets] = uint32(len(out.KeyEntries))
}

func buildVectorSections(out *Snapshot, vectors *vector.Stores) {
	if vectors == nil {
		return
	}
	for _, propKey := range vectors.PropKeys() {
		st, ok := vectors.Get(propKey)
		if !ok {
			continue
		}
		sec := &VectorSection{Dim: uint32(st.Dim())}
		st.Each(func(nodeID uint64, vec []float32) {
			if _, live := out.PhysOf(nodeID); !live {
				return
			}
			sec.NodeIDs = append(sec.NodeIDs, nodeID)
			sec.Data = append(sec.Data, vec...)
		})
		if len(sec.NodeIDs) > 0 {
			out.VectorSections[propKey] = sec
		}
	}
}

// nodeLabelsByNode decodes the phys-indexed NodeLabels array into a
// node-id-keyed map, the form Build's merge works in.
func (s *Snapshot) nodeLabelsByNode() map[uint64][]uint32 {
	out := make(map[uint64][]uint32, len(s.PhysToNodeId))
	for phys, id := range s.PhysToNodeId {
		if phys < len(s.NodeLabels) && len(s.NodeLabels[phys]) > 0 {
			out[id] = append([]uint32(nil), s.NodeLabels[phys]...)
		}
	}
	return out
}

func (s *Snapshot) nodePropsByNode() map[uint64]map[uint32]delta.PropValue {
	out := make(map[uint64]map[uint32]delta.PropValue, len(s.PhysToNodeId))
	for phys, id := range s.PhysToNodeId {
		if phys < len(s.NodeProps) && len(s.NodeProps[phys]) > 0 {
			m := make(map[uint32]delta.PropValue, len(s.NodeProps[phys]))
			for k, v := range s.NodeProps[phys] {
				m[k] = v
			}
			out[id] = m
		}
	}
	return out
}

func (s *Snapshot) outEdgesByNode() map[uint64][]OutEdge {
	out := make(map[uint64][]OutEdge, len(s.PhysToNodeId))
	for phys, id := range s.PhysToNodeId {
		edges := s.OutEdgesOf(phys)
		if len(edges) > 0 {
			out[id] = edges
		}
	}
	return out
}

func (s *Snapshot) edgePropsByNode() map[delta.EdgeKey]map[uint32]delta.PropValue {
	out := make(map[delta.EdgeKey]map[uint32]delta.PropValue)
	for phys, id := range s.PhysToNodeId {
		start, end := s.OutOffsets[phys], s.OutOffsets[phys+1]
		for i := start; i < end; i++ {
			if int(i) >= len(s.EdgeProps) || s.EdgeProps[i] == nil {
				continue
			}
			ek := delta.EdgeKey{Src: id, Etype: s.OutEtype[i], Dst: s.OutDst[i]}
			m := make(map[uint32]delta.PropValue, len(s.EdgeProps[i]))
			for k, v := range s.EdgeProps[i] {
				m[k] = v
			}
			out[ek] = m
		}
	}
	return out
}

func (s *Snapshot) keysByNode() map[uint64]string {
	out := make(map[uint64]string, len(s.KeyEntries))
	for _, e := range s.KeyEntries {
		out[e.NodeID] = s.stringAt(e.StringID)
	}
	return out
}
