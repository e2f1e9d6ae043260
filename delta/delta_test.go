package delta

import "testing"

func TestDeltaCreateDeleteNodeClearsOppositeMark(t *testing.T) {
	d := New()
	d.CreateNode(1)
	d.DeleteNode(1)
	if d.CreatedNodes[1] {
		t.Fatal("DeleteNode should clear a prior CreateNode mark")
	}
	if !d.DeletedNodes[1] {
		t.Fatal("DeleteNode should mark the node deleted")
	}

	d.CreateNode(1)
	if d.DeletedNodes[1] {
		t.Fatal("CreateNode should clear a prior DeleteNode mark")
	}
}

func TestDeltaAddDeleteEdgeSymmetricOnBothEndpoints(t *testing.T) {
	d := New()
	d.AddEdge(1, 10, 2)
	if len(d.OutAdd[1]) != 1 || d.OutAdd[1][0] != (EdgePatch{Etype: 10, Other: 2}) {
		t.Fatalf("expected OutAdd[1] to contain the new edge, got %v", d.OutAdd[1])
	}
	if len(d.InAdd[2]) != 1 || d.InAdd[2][0] != (EdgePatch{Etype: 10, Other: 1}) {
		t.Fatalf("expected InAdd[2] to contain the new edge, got %v", d.InAdd[2])
	}

	d.DeleteEdge(1, 10, 2)
	if len(d.OutAdd[1]) != 0 {
		t.Fatalf("DeleteEdge should clear the matching OutAdd entry, got %v", d.OutAdd[1])
	}
	if len(d.OutDel[1]) != 1 {
		t.Fatalf("expected OutDel[1] to record the deletion, got %v", d.OutDel[1])
	}
}

func TestDeltaEmpty(t *testing.T) {
	d := New()
	if !d.Empty() {
		t.Fatal("a fresh delta should be empty")
	}
	d.CreateNode(1)
	if d.Empty() {
		t.Fatal("a delta with a staged create should not be empty")
	}
}

func TestDeltaMergeLastWriterWins(t *testing.T) {
	dst := New()
	v1 := Int64(1)
	dst.SetNodeProp(1, 5, &v1)

	src := New()
	v2 := Int64(2)
	src.SetNodeProp(1, 5, &v2)
	dst.Merge(src)

	got := dst.NodeProps[1][5]
	if got == nil || !got.Equal(v2) {
		t.Fatalf("merge should let src's value win, got %v", got)
	}
}

func TestDeltaMergeDeleteNodeDropsStaleProps(t *testing.T) {
	dst := New()
	v := Int64(1)
	dst.SetNodeProp(1, 5, &v)

	src := New()
	src.DeleteNode(1)
	dst.Merge(src)

	if _, ok := dst.NodeProps[1]; ok {
		t.Fatal("merging a node deletion should drop its stale prop overlay")
	}
	if !dst.DeletedNodes[1] {
		t.Fatal("merged delta should record the node as deleted")
	}
}

func TestDeltaResetClearsAllState(t *testing.T) {
	d := New()
	d.CreateNode(1)
	d.SetKey("k", 1)
	d.Reset()
	if !d.Empty() {
		t.Fatal("Reset should leave the delta empty")
	}
}
