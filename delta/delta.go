package delta

import "fmt"

// EdgeKey identifies a directed edge by (src, etype, dst), unique per spec §3.
type EdgeKey struct {
	Src   uint64
	Etype uint32
	Dst   uint64
}

// EdgePatch is one (etype, other-endpoint) addition/removal recorded against
// an endpoint node, used for both the out_add/out_del and in_add/in_del
// overlays (spec §4.6).
type EdgePatch struct {
	Etype uint32
	Other uint64
}

// SchemaDef is one pending DefineLabel/DefineEtype/DefinePropkey addition.
type SchemaDef struct {
	ID   uint32
	Name string
}

// Delta is the in-memory mutation overlay on top of a CSR snapshot. The same
// shape serves both the per-transaction pending delta and the engine-owned
// committed delta; Merge folds one into the other at commit (spec §4.6).
type Delta struct {
	CreatedNodes map[uint64]bool
	DeletedNodes map[uint64]bool
	ModifiedNodes map[uint64]bool

	OutAdd map[uint64][]EdgePatch
	OutDel map[uint64][]EdgePatch
	InAdd  map[uint64][]EdgePatch
	InDel  map[uint64][]EdgePatch

	// NodeProps/EdgeProps: nil PropValue pointer entries mean explicit
	// delete (None in the spec's Option<PropValue>), distinct from an
	// absent key (no override at all).
	NodeProps map[uint64]map[uint32]*PropValue
	EdgeProps map[EdgeKey]map[uint32]*PropValue

	NodeLabelsAdd map[uint64]map[uint32]bool
	NodeLabelsDel map[uint64]map[uint32]bool

	KeyIndex        map[string]uint64
	KeyIndexDeleted map[string]bool

	// PendingVectors: nil slice value means explicit delete.
	PendingVectors map[VectorKey][]float32

	NewLabels   []SchemaDef
	NewEtypes   []SchemaDef
	NewPropkeys []SchemaDef
}

// VectorKey identifies one (nodeId, propKeyId) vector slot.
type VectorKey struct {
	NodeID    uint64
	PropKeyID uint32
}

// New returns an empty overlay.
func New() *Delta {
	return &Delta{
		CreatedNodes:    make(map[uint64]bool),
		DeletedNodes:    make(map[uint64]bool),
		ModifiedNodes:   make(map[uint64]bool),
		OutAdd:          make(map[uint64][]EdgePatch),
		OutDel:          make(map[uint64][]EdgePatch),
		InAdd:           make(map[uint64][]EdgePatch),
		InDel:           make(map[uint64][]EdgePatch),
		NodeProps:       make(map[uint64]map[uint32]*PropValue),
		EdgeProps:       make(map[EdgeKey]map[uint32]*PropValue),
		NodeLabelsAdd:   make(map[uint64]map[uint32]bool),
		NodeLabelsDel:   make(map[uint64]map[uint32]bool),
		KeyIndex:        make(map[string]uint64),
		KeyIndexDeleted: make(map[string]bool),
		PendingVectors:  make(map[VectorKey][]float32),
	}
}

// CreateNode stages a new node, clearing any stale deletion mark.
func (d *Delta) CreateNode(id uint64) {
	d.CreatedNodes[id] = true
	delete(d.DeletedNodes, id)
}

// DeleteNode stages a node deletion, clearing any stale creation mark.
func (d *Delta) DeleteNode(id uint64) {
	d.DeletedNodes[id] = true
	delete(d.CreatedNodes, id)
	delete(d.ModifiedNodes, id)
	delete(d.NodeProps, id)
}

// AddEdge stages an edge addition, clearing a stale deletion of the same
// (etype, other) pair on both endpoints.
func (d *Delta) AddEdge(src uint64, etype uint32, dst uint64) {
	d.OutAdd[src] = appendPatchDedup(d.OutAdd[src], etype, dst)
	d.OutDel[src] = removePatch(d.OutDel[src], etype, dst)
	d.InAdd[dst] = appendPatchDedup(d.InAdd[dst], etype, src)
	d.InDel[dst] = removePatch(d.InDel[dst], etype, src)
}

// DeleteEdge stages an edge removal, clearing a stale addition.
func (d *Delta) DeleteEdge(src uint64, etype uint32, dst uint64) {
	d.OutAdd[src] = removePatch(d.OutAdd[src], etype, dst)
	d.OutDel[src] = appendPatchDedup(d.OutDel[src], etype, dst)
	d.InAdd[dst] = removePatch(d.InAdd[dst], etype, src)
	d.InDel[dst] = appendPatchDedup(d.InDel[dst], etype, src)
}

func appendPatchDedup(list []EdgePatch, etype uint32, other uint64) []EdgePatch {
	for _, p := range list {
		if p.Etype == etype && p.Other == other {
			return list
		}
	}
	return append(list, EdgePatch{Etype: etype, Other: other})
}

func removePatch(list []EdgePatch, etype uint32, other uint64) []EdgePatch {
	out := list[:0]
	for _, p := range list {
		if p.Etype == etype && p.Other == other {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SetNodeProp stages a property set (or explicit delete, when v is nil).
func (d *Delta) SetNodeProp(id uint64, key uint32, v *PropValue) {
	m, ok := d.NodeProps[id]
	if !ok {
		m = make(map[uint32]*PropValue)
		d.NodeProps[id] = m
	}
	m[key] = v
	d.ModifiedNodes[id] = true
}

// SetEdgeProp stages an edge property set (or explicit delete, when v is nil).
func (d *Delta) SetEdgeProp(e EdgeKey, key uint32, v *PropValue) {
	m, ok := d.EdgeProps[e]
	if !ok {
		m = make(map[uint32]*PropValue)
		d.EdgeProps[e] = m
	}
	m[key] = v
}

// AddNodeLabel/RemoveNodeLabel stage label membership changes.
func (d *Delta) AddNodeLabel(id uint64, label uint32) {
	if d.NodeLabelsDel[id] != nil {
		delete(d.NodeLabelsDel[id], label)
	}
	m, ok := d.NodeLabelsAdd[id]
	if !ok {
		m = make(map[uint32]bool)
		d.NodeLabelsAdd[id] = m
	}
	m[label] = true
}

func (d *Delta) RemoveNodeLabel(id uint64, label uint32) {
	if d.NodeLabelsAdd[id] != nil {
		delete(d.NodeLabelsAdd[id], label)
	}
	m, ok := d.NodeLabelsDel[id]
	if !ok {
		m = make(map[uint32]bool)
		d.NodeLabelsDel[id] = m
	}
	m[label] = true
}

// SetKey stages a key→nodeId binding, clearing a stale deletion.
func (d *Delta) SetKey(key string, id uint64) {
	d.KeyIndex[key] = id
	delete(d.KeyIndexDeleted, key)
}

// DeleteKey stages a key removal, clearing a stale binding.
func (d *Delta) DeleteKey(key string) {
	delete(d.KeyIndex, key)
	d.KeyIndexDeleted[key] = true
}

// SetVector stages a vector set (vec != nil) or delete (vec == nil) for one
// (nodeId, propKey) slot.
func (d *Delta) SetVector(id uint64, propKey uint32, vec []float32) {
	d.PendingVectors[VectorKey{NodeID: id, PropKeyID: propKey}] = vec
}

// Merge folds src (a transaction's pending delta) into d (the engine's
// committed delta). Every field is set-then-clear: src's entries win at the
// key level, matching "last writer in the tx wins" (spec §4.6).
func (d *Delta) Merge(src *Delta) {
	for id := range src.CreatedNodes {
		d.CreatedNodes[id] = true
		delete(d.DeletedNodes, id)
	}
	for id := range src.DeletedNodes {
		d.DeletedNodes[id] = true
		delete(d.CreatedNodes, id)
		delete(d.NodeProps, id)
	}
	for id := range src.ModifiedNodes {
		d.ModifiedNodes[id] = true
	}

	mergeEdgePatches(d.OutAdd, d.OutDel, src.OutAdd, src.OutDel)
	mergeEdgePatches(d.InAdd, d.InDel, src.InAdd, src.InDel)

	for id, props := range src.NodeProps {
		m, ok := d.NodeProps[id]
		if !ok {
			m = make(map[uint32]*PropValue)
			d.NodeProps[id] = m
		}
		for k, v := range props {
			m[k] = v
		}
	}
	for e, props := range src.EdgeProps {
		m, ok := d.EdgeProps[e]
		if !ok {
			m = make(map[uint32]*PropValue)
			d.EdgeProps[e] = m
		}
		for k, v := range props {
			m[k] = v
		}
	}
	for id, labels := range src.NodeLabelsAdd {
		if d.NodeLabelsDel[id] != nil {
			for l := range labels {
				delete(d.NodeLabelsDel[id], l)
			}
		}
		m, ok := d.NodeLabelsAdd[id]
		if !ok {
			m = make(map[uint32]bool)
			d.NodeLabelsAdd[id] = m
		}
		for l := range labels {
			m[l] = true
		}
	}
	for id, labels := range src.NodeLabelsDel {
		if d.NodeLabelsAdd[id] != nil {
			for l := range labels {
				delete(d.NodeLabelsAdd[id], l)
			}
		}
		m, ok := d.NodeLabelsDel[id]
		if !ok {
			m = make(map[uint32]bool)
			d.NodeLabelsDel[id] = m
		}
		for l := range labels {
			m[l] = true
		}
	}
	for k, id := range src.KeyIndex {
		d.KeyIndex[k] = id
		delete(d.KeyIndexDeleted, k)
	}
	for k := range src.KeyIndexDeleted {
		d.KeyIndexDeleted[k] = true
		delete(d.KeyIndex, k)
	}
	for k, vec := range src.PendingVectors {
		d.PendingVectors[k] = vec
	}
	d.NewLabels = append(d.NewLabels, src.NewLabels...)
	d.NewEtypes = append(d.NewEtypes, src.NewEtypes...)
	d.NewPropkeys = append(d.NewPropkeys, src.NewPropkeys...)
}

func mergeEdgePatches(dstAdd, dstDel, srcAdd, srcDel map[uint64][]EdgePatch) {
	for id, patches := range srcDel {
		for _, p := range patches {
			dstAdd[id] = removePatch(dstAdd[id], p.Etype, p.Other)
			dstDel[id] = appendPatchDedup(dstDel[id], p.Etype, p.Other)
		}
	}
	for id, patches := range srcAdd {
		for _, p := range patches {
			dstDel[id] = removePatch(dstDel[id], p.Etype, p.Other)
			dstAdd[id] = appendPatchDedup(dstAdd[id], p.Etype, p.Other)
		}
	}
}

// Reset empties the overlay in place by replacing every map with a fresh
// empty one. Used after
// a checkpoint clears the committed delta (spec §4.4 step 5).
func (d *Delta) Reset() {
	*d = *New()
}

// Empty reports whether this overlay has no staged mutations at all, so a
// transaction with no writes can commit as a no-op without touching the
// WAL, the MVCC chains, or the header's change counter.
func (d *Delta) Empty() bool {
	return len(d.CreatedNodes) == 0 &&
		len(d.DeletedNodes) == 0 &&
		len(d.ModifiedNodes) == 0 &&
		len(d.OutAdd) == 0 &&
		len(d.OutDel) == 0 &&
		len(d.InAdd) == 0 &&
		len(d.InDel) == 0 &&
		len(d.NodeProps) == 0 &&
		len(d.EdgeProps) == 0 &&
		len(d.NodeLabelsAdd) == 0 &&
		len(d.NodeLabelsDel) == 0 &&
		len(d.KeyIndex) == 0 &&
		len(d.KeyIndexDeleted) == 0 &&
		len(d.PendingVectors) == 0 &&
		len(d.NewLabels) == 0 &&
		len(d.NewEtypes) == 0 &&
		len(d.NewPropkeys) == 0
}

// String implements fmt.Stringer for debugging/inspection-CLI output.
func (d *Delta) String() string {
	return fmt.Sprintf("delta{created=%d deleted=%d modified=%d}",
		len(d.CreatedNodes), len(d.DeletedNodes), len(d.ModifiedNodes))
}
