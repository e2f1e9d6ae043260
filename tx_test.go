package kitedb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitedb/kitedb/delta"
)

func createCommittedNode(t *testing.T, db *DB) uint64 {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err, "Begin")
	id, err := tx.CreateNode()
	require.NoError(t, err, "CreateNode")
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return id
}

func TestSetNodePropVisibleAfterCommit(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	tx, err := db.Begin()
	require.NoError(t, err, "Begin")
	v := delta.Int64(42)
	if err := tx.SetNodeProp(id, 1, &v); err != nil {
		t.Fatalf("SetNodeProp: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := db.BeginReadOnly()
	require.NoError(t, err, "BeginReadOnly")
	got, ok := tx2.GetNodeProp(id, 1)
	if !ok {
		t.Fatal("expected the committed node prop to be readable")
	}
	if !got.Equal(v) {
		t.Fatalf("got %+v, want %+v", got, v)
	}
}

func TestDelNodePropRemovesValue(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	tx, err := db.Begin()
	require.NoError(t, err, "Begin")
	v := delta.Int64(1)
	tx.SetNodeProp(id, 1, &v)
	tx.Commit()

	tx2, _ := db.Begin()
	if err := tx2.DelNodeProp(id, 1); err != nil {
		t.Fatalf("DelNodeProp: %v", err)
	}
	if _, err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx3, _ := db.BeginReadOnly()
	if _, ok := tx3.GetNodeProp(id, 1); ok {
		t.Fatal("expected the deleted prop to no longer be readable")
	}
}

func TestAddEdgeVisibleBothDirections(t *testing.T) {
	db := openMemDB(t)
	src := createCommittedNode(t, db)
	dst := createCommittedNode(t, db)

	tx, _ := db.Begin()
	if err := tx.AddEdge(src, 7, dst); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, _ := db.BeginReadOnly()
	out := tx2.GetOutEdges(src, nil)
	if len(out) != 1 || out[0].Etype != 7 || out[0].Other != dst {
		t.Fatalf("expected one out edge (7,%d), got %v", dst, out)
	}
	in := tx2.GetInEdges(dst, nil)
	if len(in) != 1 || in[0].Etype != 7 || in[0].Other != src {
		t.Fatalf("expected one in edge (7,%d), got %v", src, in)
	}
}

func TestDeleteEdgeRemovesFromBothDirections(t *testing.T) {
	db := openMemDB(t)
	src := createCommittedNode(t, db)
	dst := createCommittedNode(t, db)

	tx, _ := db.Begin()
	tx.AddEdge(src, 7, dst)
	tx.Commit()

	tx2, _ := db.Begin()
	if err := tx2.DeleteEdge(src, 7, dst); err != nil {
		t.Fatalf("DeleteEdge: %v", err)
	}
	tx2.Commit()

	tx3, _ := db.BeginReadOnly()
	if len(tx3.GetOutEdges(src, nil)) != 0 {
		t.Fatal("expected the deleted edge to be absent from out edges")
	}
	if len(tx3.GetInEdges(dst, nil)) != 0 {
		t.Fatal("expected the deleted edge to be absent from in edges")
	}
}

func TestNodeLabelsAddAndRemove(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	tx, _ := db.Begin()
	if err := tx.AddNodeLabel(id, 3); err != nil {
		t.Fatalf("AddNodeLabel: %v", err)
	}
	tx.Commit()

	tx2, _ := db.BeginReadOnly()
	if !tx2.NodeHasLabel(id, 3) {
		t.Fatal("expected the committed label to be visible")
	}

	tx3, _ := db.Begin()
	tx3.RemoveNodeLabel(id, 3)
	tx3.Commit()

	tx4, _ := db.BeginReadOnly()
	if tx4.NodeHasLabel(id, 3) {
		t.Fatal("expected the removed label to no longer be visible")
	}
}

func TestSetKeyAndGetNodeByKey(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	tx, _ := db.Begin()
	if err := tx.SetKey("alice", id); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	tx.Commit()

	tx2, _ := db.BeginReadOnly()
	got, ok := tx2.GetNodeByKey("alice")
	if !ok || got != id {
		t.Fatalf("expected GetNodeByKey to resolve to %d, got %d ok=%v", id, got, ok)
	}

	tx3, _ := db.Begin()
	tx3.DeleteKey("alice")
	tx3.Commit()

	tx4, _ := db.BeginReadOnly()
	if _, ok := tx4.GetNodeByKey("alice"); ok {
		t.Fatal("expected the deleted key to no longer resolve")
	}
}

func TestGetOrCreateLabelStableAcrossCalls(t *testing.T) {
	db := openMemDB(t)
	tx, _ := db.Begin()
	id1 := tx.GetOrCreateLabel("Person")
	id2 := tx.GetOrCreateLabel("Person")
	if id1 != id2 {
		t.Fatalf("expected the same label name to resolve to the same id, got %d and %d", id1, id2)
	}
	tx.Rollback()
}

func TestSetNodeVectorRoundTrip(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	tx, _ := db.Begin()
	if err := tx.SetNodeVector(id, 9, []float32{1, 2, 3}); err != nil {
		t.Fatalf("SetNodeVector: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, _ := db.BeginReadOnly()
	got, ok := tx2.GetNodeVector(id, 9)
	if !ok || len(got) != 3 {
		t.Fatalf("expected the committed vector to round trip, got %v ok=%v", got, ok)
	}
}

func TestSetNodeVectorRejectsDimensionMismatch(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	tx, _ := db.Begin()
	if err := tx.SetNodeVector(id, 9, []float32{1, 2, 3}); err != nil {
		t.Fatalf("SetNodeVector: %v", err)
	}
	tx.Commit()

	tx2, _ := db.Begin()
	if err := tx2.SetNodeVector(id, 9, []float32{1, 2}); err == nil {
		t.Fatal("expected a dimension mismatch against the already-fixed store dimension")
	}
}

func TestConcurrentWritersConflictOnSameNodeProp(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	tx1, err := db.Begin()
	require.NoError(t, err, "Begin tx1")
	tx2, err := db.Begin()
	require.NoError(t, err, "Begin tx2")

	v1 := delta.Int64(1)
	v2 := delta.Int64(2)
	if err := tx1.SetNodeProp(id, 5, &v1); err != nil {
		t.Fatalf("tx1 SetNodeProp: %v", err)
	}
	if err := tx2.SetNodeProp(id, 5, &v2); err != nil {
		t.Fatalf("tx2 SetNodeProp: %v", err)
	}

	if _, err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 commit should succeed: %v", err)
	}
	if _, err := tx2.Commit(); err == nil {
		t.Fatal("expected tx2 to conflict with tx1's overlapping write")
	}
}

func TestRolledBackTransactionDoesNotConflictLaterWriters(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	tx1, _ := db.Begin()
	v1 := delta.Int64(1)
	tx1.SetNodeProp(id, 5, &v1)
	tx1.Rollback()

	tx2, _ := db.Begin()
	v2 := delta.Int64(2)
	if err := tx2.SetNodeProp(id, 5, &v2); err != nil {
		t.Fatalf("tx2 SetNodeProp: %v", err)
	}
	if _, err := tx2.Commit(); err != nil {
		t.Fatalf("expected tx2 to commit cleanly after tx1 rolled back: %v", err)
	}
}
