// Package mvcc implements KiteDB's snapshot-isolation layer: per-entity
// version chains, the transaction manager that assigns snapshot/commit
// timestamps, optimistic conflict detection over read/write sets, and
// retention-based garbage collection (spec §4.8).
package mvcc

// TxKeyKind tags which entity a TxKey addresses (spec §4.7's read-set list).
type TxKeyKind byte

const (
	KindNode TxKeyKind = iota
	KindNodeProp
	KindEdge
	KindEdgeProp
	KindNodeLabels
	KindNodeLabel
	KindNeighborsOut
	KindNeighborsIn
	KindKey
)

// TxKey identifies one versioned entity or read-set entry. It is comparable
// so it can be used directly as a map key for version chains and read/write
// sets — every field is a plain scalar, never a slice.
type TxKey struct {
	Kind TxKeyKind

	NodeID uint64
	Src    uint64
	Dst    uint64
	Etype  uint32
	// HasEtype distinguishes NeighborsOut{id} (any etype) from
	// NeighborsOut{id,etype} (spec §4.7).
	HasEtype bool
	PropKey  uint32
	Label    uint32
	StrKey   string
}

func NodeKey(id uint64) TxKey        { return TxKey{Kind: KindNode, NodeID: id} }
func NodePropKey(id uint64, k uint32) TxKey {
	return TxKey{Kind: KindNodeProp, NodeID: id, PropKey: k}
}
func EdgeTxKey(src uint64, etype uint32, dst uint64) TxKey {
	return TxKey{Kind: KindEdge, Src: src, Etype: etype, Dst: dst, HasEtype: true}
}
func EdgePropKey(src uint64, etype uint32, dst uint64, k uint32) TxKey {
	return TxKey{Kind: KindEdgeProp, Src: src, Etype: etype, Dst: dst, HasEtype: true, PropKey: k}
}
func NodeLabelsKey(id uint64) TxKey { return TxKey{Kind: KindNodeLabels, NodeID: id} }
func NodeLabelKey(id uint64, label uint32) TxKey {
	return TxKey{Kind: KindNodeLabel, NodeID: id, Label: label}
}
func NeighborsOutKey(id uint64) TxKey { return TxKey{Kind: KindNeighborsOut, NodeID: id} }
func NeighborsOutEtypeKey(id uint64, etype uint32) TxKey {
	return TxKey{Kind: KindNeighborsOut, NodeID: id, Etype: etype, HasEtype: true}
}
func NeighborsInKey(id uint64) TxKey { return TxKey{Kind: KindNeighborsIn, NodeID: id} }
func NeighborsInEtypeKey(id uint64, etype uint32) TxKey {
	return TxKey{Kind: KindNeighborsIn, NodeID: id, Etype: etype, HasEtype: true}
}
func StringKey(key string) TxKey { return TxKey{Kind: KindKey, StrKey: key} }

// String renders a canonical diagnostic form, used in Conflict error
// payloads (spec §8 scenario S3: "neighbors_out:{src}:*").
func (k TxKey) String() string {
	switch k.Kind {
	case KindNode:
		return fmtUint("node", k.NodeID)
	case KindNodeProp:
		return fmtUint2("node_prop", k.NodeID, uint64(k.PropKey))
	case KindEdge:
		return fmtEdge("edge", k.Src, k.Etype, k.Dst)
	case KindEdgeProp:
		return fmtEdge("edge_prop", k.Src, k.Etype, k.Dst) + ":" + fmtUint("", uint64(k.PropKey))
	case KindNodeLabels:
		return fmtUint("node_labels", k.NodeID)
	case KindNodeLabel:
		return fmtUint2("node_label", k.NodeID, uint64(k.Label))
	case KindNeighborsOut:
		if k.HasEtype {
			return fmtUint2("neighbors_out", k.NodeID, uint64(k.Etype))
		}
		return "neighbors_out:" + itoa(k.NodeID) + ":*"
	case KindNeighborsIn:
		if k.HasEtype {
			return fmtUint2("neighbors_in", k.NodeID, uint64(k.Etype))
		}
		return "neighbors_in:" + itoa(k.NodeID) + ":*"
	case KindKey:
		return "key:" + k.StrKey
	default:
		return "unknown"
	}
}

func fmtUint(prefix string, id uint64) string {
	if prefix == "" {
		return itoa(id)
	}
	return prefix + ":" + itoa(id)
}

func fmtUint2(prefix string, a, b uint64) string {
	return prefix + ":" + itoa(a) + ":" + itoa(b)
}

func fmtEdge(prefix string, src uint64, etype uint32, dst uint64) string {
	return prefix + ":" + itoa(src) + ":" + itoa(uint64(etype)) + ":" + itoa(dst)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
