package kitedb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openPrimaryMemDB(t *testing.T, sidecarPath string) *DB {
	t.Helper()
	db, err := Open("", WithInMemory(), WithPrimaryReplication(sidecarPath, 0, 0))
	require.NoError(t, err, "Open")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExportSnapshotTransportJSONRoundTrips(t *testing.T) {
	sidecar := filepath.Join(t.TempDir(), "sidecar")
	db := openPrimaryMemDB(t, sidecar)
	createCommittedNode(t, db)
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	transport, err := db.ExportSnapshotTransportJSON()
	require.NoError(t, err, "ExportSnapshotTransportJSON")
	if len(transport.Snapshot) == 0 {
		t.Fatal("expected a non-empty encoded snapshot")
	}
	if transport.At.LogIndex != 1 {
		t.Fatalf("expected the export to carry the commit's log index, got %+v", transport.At)
	}
}

func TestExportSnapshotTransportJSONRejectsOversizedSnapshot(t *testing.T) {
	sidecar := filepath.Join(t.TempDir(), "sidecar")
	db := openPrimaryMemDB(t, sidecar)
	createCommittedNode(t, db)

	old := maxInlineSnapshotExportBytes
	maxInlineSnapshotExportBytes = 1
	defer func() { maxInlineSnapshotExportBytes = old }()

	_, err := db.ExportSnapshotTransportJSON()
	if err == nil {
		t.Fatal("expected an oversized snapshot export to fail")
	}
	var kerr *KiteError
	if !errors.As(err, &kerr) || kerr.Kind != ErrKindSerialization {
		t.Fatalf("expected ErrKindSerialization, got %v", err)
	}
}

func TestExportLogTransportJSONChunksAcrossMultipleCalls(t *testing.T) {
	sidecar := filepath.Join(t.TempDir(), "sidecar")
	db := openPrimaryMemDB(t, sidecar)
	for i := 0; i < 3; i++ {
		createCommittedNode(t, db)
	}

	first, err := db.ExportLogTransportJSON(1, 1)
	require.NoError(t, err, "ExportLogTransportJSON")
	if len(first.Frames) == 0 {
		t.Fatal("expected the first chunk to contain at least one frame")
	}
	if first.ToLogIndex >= 3 {
		t.Fatalf("expected a byte-capped chunk to stop short of the full log, got ToLogIndex=%d", first.ToLogIndex)
	}

	second, err := db.ExportLogTransportJSON(first.ToLogIndex+1, 1)
	require.NoError(t, err, "ExportLogTransportJSON (second chunk)")
	if second.FromLogIndex != first.ToLogIndex+1 {
		t.Fatalf("expected the second chunk to resume where the first left off, got %+v", second)
	}

	full, err := db.ExportLogTransportJSON(1, 0)
	require.NoError(t, err, "ExportLogTransportJSON (unbounded)")
	if len(full.Frames) != 3 || full.ToLogIndex != 3 {
		t.Fatalf("expected an unbounded export to return all 3 frames, got %+v", full)
	}
}

func TestExportLogTransportJSONRequiresPrimary(t *testing.T) {
	db := openMemDB(t)
	if _, err := db.ExportLogTransportJSON(1, 0); err == nil {
		t.Fatal("expected ExportLogTransportJSON on a non-primary DB to fail")
	}
}
