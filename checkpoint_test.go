package kitedb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpointPreservesCommittedNodes(t *testing.T) {
	db := openMemDB(t)
	id := createCommittedNode(t, db)

	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if db.CountNodes() != 1 {
		t.Fatalf("expected the node to survive a checkpoint, got %d nodes", db.CountNodes())
	}

	tx, err := db.BeginReadOnly()
	require.NoError(t, err, "BeginReadOnly")
	if !tx.NodeExists(id) {
		t.Fatal("expected the checkpointed node to still be visible")
	}
}

func TestCheckpointResetsWALRing(t *testing.T) {
	db := openMemDB(t)
	createCommittedNode(t, db)

	if db.wal.Head() == 0 {
		t.Fatal("expected the WAL ring to have advanced after a commit")
	}
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if db.wal.Head() != 0 || db.wal.Tail() != 0 {
		t.Fatalf("expected checkpoint to reset the WAL ring, got head=%d tail=%d", db.wal.Head(), db.wal.Tail())
	}
}

func TestVacuumRunsCheckpointAndSurvivesEmptyDatabase(t *testing.T) {
	db := openMemDB(t)
	if err := db.Vacuum(); err != nil {
		t.Fatalf("Vacuum on an empty database should not fail: %v", err)
	}
}

func TestCheckpointWithSnappyCompressionRoundTrips(t *testing.T) {
	db, err := Open("", WithInMemory(), WithCheckpointCompression("snappy"))
	require.NoError(t, err, "Open")
	defer db.Close()

	id := createCommittedNode(t, db)
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	tx, err := db.BeginReadOnly()
	require.NoError(t, err, "BeginReadOnly")
	if !tx.NodeExists(id) {
		t.Fatal("expected the node to survive a snappy-compressed checkpoint")
	}
}

func TestResizeWALGrowsRegion(t *testing.T) {
	db := openMemDB(t)
	createCommittedNode(t, db)

	oldPages := db.header.WALPageCount
	if err := db.ResizeWAL(uint64(db.opts.PageSize) * uint64(oldPages+8)); err != nil {
		t.Fatalf("ResizeWAL: %v", err)
	}
	if db.header.WALPageCount <= oldPages {
		t.Fatalf("expected WALPageCount to grow from %d, got %d", oldPages, db.header.WALPageCount)
	}
}
