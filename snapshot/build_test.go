package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitedb/kitedb/delta"
	"github.com/kitedb/kitedb/storage"
	"github.com/kitedb/kitedb/vector"
)

func TestBuildEmptyDelta(t *testing.T) {
	s := Build(nil, nil, nil, BuildOptions{})
	if s.NumNodes != 0 || s.NumEdges != 0 {
		t.Fatalf("expected empty snapshot, got %d nodes %d edges", s.NumNodes, s.NumEdges)
	}
	if err := s.Check(); err != nil {
		t.Fatalf("empty snapshot should pass Check: %v", err)
	}
}

func TestBuildCreatesNodesAndEdges(t *testing.T) {
	d := delta.New()
	d.CreateNode(1)
	d.CreateNode(2)
	d.CreateNode(3)
	d.AddEdge(1, 10, 2)
	d.AddEdge(1, 10, 3)
	d.AddEdge(2, 20, 3)

	s := Build(nil, d, nil, BuildOptions{MaxNodeID: 3})
	if err := s.Check(); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if s.NumNodes != 3 {
		t.Fatalf("expected 3 nodes, got %d", s.NumNodes)
	}
	if s.NumEdges != 3 {
		t.Fatalf("expected 3 edges, got %d", s.NumEdges)
	}

	phys, ok := s.PhysOf(1)
	if !ok {
		t.Fatal("expected node 1 to be live")
	}
	out := s.OutEdgesOf(phys)
	if len(out) != 2 {
		t.Fatalf("expected node 1 to have 2 out-edges, got %d", len(out))
	}
	if out[0].Dst != 2 || out[1].Dst != 3 {
		t.Fatalf("expected out-edges sorted by dst, got %+v", out)
	}
}

func TestBuildDeletedNodeDropsItsEdges(t *testing.T) {
	base := Build(nil, func() *delta.Delta {
		d := delta.New()
		d.CreateNode(1)
		d.CreateNode(2)
		d.AddEdge(1, 10, 2)
		return d
	}(), nil, BuildOptions{MaxNodeID: 2})

	d2 := delta.New()
	d2.DeleteNode(2)
	next := Build(base, d2, nil, BuildOptions{MaxNodeID: 2})

	if err := next.Check(); err != nil {
		t.Fatalf("Check failed after deletion: %v", err)
	}
	if next.NumNodes != 1 {
		t.Fatalf("expected 1 surviving node, got %d", next.NumNodes)
	}
	if next.NumEdges != 0 {
		t.Fatalf("expected dangling edge to be dropped, got %d edges", next.NumEdges)
	}
}

func TestBuildEncodeDecodeRoundTrip(t *testing.T) {
	d := delta.New()
	d.CreateNode(1)
	d.CreateNode(2)
	d.AddEdge(1, 10, 2)
	d.AddNodeLabel(1, 5)
	v := delta.Int64(42)
	d.SetNodeProp(1, 7, &v)
	d.SetKey("alice", 1)

	s := Build(nil, d, nil, BuildOptions{MaxNodeID: 2})
	blob := s.Encode()

	decoded, err := Decode(blob)
	require.NoError(t, err, "Decode failed")
	if err := decoded.Check(); err != nil {
		t.Fatalf("decoded snapshot failed Check: %v", err)
	}
	if decoded.NumNodes != s.NumNodes || decoded.NumEdges != s.NumEdges {
		t.Fatalf("round trip mismatch: got %d/%d want %d/%d", decoded.NumNodes, decoded.NumEdges, s.NumNodes, s.NumEdges)
	}
	phys, ok := decoded.PhysOf(1)
	if !ok {
		t.Fatal("expected node 1 present after round trip")
	}
	if len(decoded.NodeLabels[phys]) != 1 || decoded.NodeLabels[phys][0] != 5 {
		t.Fatalf("expected label 5 to survive round trip, got %v", decoded.NodeLabels[phys])
	}
	if pv, ok := decoded.NodeProps[phys][7]; !ok || pv.I64 != 42 {
		t.Fatalf("expected prop 7=42 to survive round trip, got %+v", decoded.NodeProps[phys])
	}
	nodeID, ok := decoded.NodeByKey(storage.HashKey("alice"), "alice")
	if !ok || nodeID != 1 {
		t.Fatalf("expected key lookup to resolve to node 1, got %d ok=%v", nodeID, ok)
	}
}

func TestBuildVectorSection(t *testing.T) {
	d := delta.New()
	d.CreateNode(1)
	d.CreateNode(2)
	vs := vector.NewStores(false)
	if err := vs.StoreFor(9).Set(1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := vs.StoreFor(9).Set(2, []float32{0, 1, 0}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s := Build(nil, d, vs, BuildOptions{MaxNodeID: 2})
	if err := s.Check(); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	sec, ok := s.VectorSections[9]
	if !ok {
		t.Fatal("expected vector section for prop key 9")
	}
	if sec.Dim != 3 || len(sec.NodeIDs) != 2 {
		t.Fatalf("unexpected vector section shape: dim=%d nodes=%d", sec.Dim, len(sec.NodeIDs))
	}

	blob := s.Encode()
	decoded, err := Decode(blob)
	require.NoError(t, err, "Decode failed")
	if err := decoded.Check(); err != nil {
		t.Fatalf("decoded snapshot failed Check: %v", err)
	}
	if _, ok := decoded.VectorSections[9]; !ok {
		t.Fatal("expected vector section to survive round trip")
	}
}

func TestCheckCatchesMisorderedOutEdges(t *testing.T) {
	s := Empty()
	s.NumNodes = 1
	s.OutOffsets = []uint32{0, 2}
	s.OutDst = []uint64{5, 3}
	s.OutEtype = []uint32{1, 1}
	s.InOffsets = []uint32{0, 0}
	s.PhysToNodeId = []uint64{0}
	s.NodeIdToPhys = []int64{0}

	if err := s.Check(); err == nil {
		t.Fatal("expected Check to reject unsorted out-edges")
	}
}
