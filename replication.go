package kitedb

import (
	"context"
	"fmt"
	"time"

	"github.com/kitedb/kitedb/replication"
	"github.com/kitedb/kitedb/snapshot"
	"github.com/kitedb/kitedb/storage"
)

// ReplicationStatus reports one side's replication state for the
// inspection CLI and any host-side monitoring (spec §4.10 status()).
type ReplicationStatus struct {
	Role          ReplicationRole
	Epoch         uint64
	HeadLogIndex  uint64
	RetainedFloor uint64
	LastToken     *replication.CommitToken
	AppliedToken  *replication.CommitToken
	NeedsReseed   bool
}

// Status reports this DB's replication role and position. A DB opened
// without replication returns ReplicationDisabled and zero values.
func (db *DB) Status() ReplicationStatus {
	switch {
	case db.primary != nil:
		epoch, head, floor, last := db.primary.Status()
		return ReplicationStatus{Role: ReplicationPrimary, Epoch: epoch, HeadLogIndex: head, RetainedFloor: floor, LastToken: last}
	case db.replica != nil:
		tok := db.replica.AppliedPosition()
		return ReplicationStatus{Role: ReplicationReplica, AppliedToken: &tok, NeedsReseed: db.replica.NeedsReseed()}
	default:
		return ReplicationStatus{Role: ReplicationDisabled}
	}
}

// ReportReplicaProgress records a replica's applied position against this
// primary, so RunRetention knows what it's still safe to prune (spec §4.10
// register_replica_progress).
func (db *DB) ReportReplicaProgress(replicaID string, epoch, logIndex uint64) error {
	if db.primary == nil {
		return newErr(ErrKindInvalidReplication, "not a replication primary", nil)
	}
	return db.primary.RegisterReplicaProgress(replicaID, replication.CommitToken{Epoch: epoch, LogIndex: logIndex})
}

// RunRetention prunes primary log segments older than every registered
// replica's progress and the configured retention floor (spec §4.10
// compute_retention, run periodically by the host rather than on every
// commit).
func (db *DB) RunRetention() (replication.RetentionOutcome, error) {
	if db.primary == nil {
		return replication.RetentionOutcome{}, newErr(ErrKindInvalidReplication, "not a replication primary", nil)
	}
	return db.primary.ComputeRetention()
}

// CatchUpOnce pulls and applies any committed frames past this replica's
// cursor, replaying each via applyWALRecord (the same switch crash recovery
// uses, so the two apply paths can never diverge). It returns the number of
// frames applied; a *replication.NeedsReseedError means the caller must
// fetch a fresh snapshot and call ReseedFromSnapshot instead of retrying
// (spec §4.10 catch_up_once).
func (db *DB) CatchUpOnce() (int, error) {
	if db.replica == nil {
		return 0, newErr(ErrKindInvalidReplication, "not a replication replica", nil)
	}
	n, err := db.replica.CatchUpOnce(func(frame replication.Frame) error {
		return db.applyReplicatedFrame(frame.Payload)
	})
	if err != nil {
		if _, ok := err.(*replication.NeedsReseedError); ok {
			return n, err
		}
		return n, newErr(ErrKindInvalidReplication, "catch up", err)
	}
	return n, nil
}

// applyReplicatedFrame decodes one replicated WAL frame's concatenated
// record bytes and replays each onto committed state, exactly like crash
// recovery replays the local WAL ring (spec §4.10's "apply rules mirror
// recovery").
func (db *DB) applyReplicatedFrame(payload []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	off := 0
	var maxTxID uint64
	for off < len(payload) {
		rec, n, err := storage.DecodeWALRecord(payload[off:])
		if err != nil {
			return newErr(ErrKindInvalidWAL, "decode replicated frame record", err)
		}
		off += n
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}
		if err := db.applyWALRecord(rec); err != nil {
			return err
		}
	}
	if maxTxID >= db.header.NextTxID {
		db.header.NextTxID = maxTxID + 1
	}
	return nil
}

// BootstrapFromSnapshot seeds a freshly-opened replica's cursor at the
// position its initial snapshot copy corresponds to (spec §4.10
// bootstrap_from_snapshot). Callers run this once, after copying the
// primary's on-disk file out-of-band, before the first CatchUpOnce.
func (db *DB) BootstrapFromSnapshot(epoch, logIndex uint64) error {
	if db.replica == nil {
		return newErr(ErrKindInvalidReplication, "not a replication replica", nil)
	}
	return db.replica.BootstrapFromSnapshot(replication.CommitToken{Epoch: epoch, LogIndex: logIndex})
}

// maxInlineSnapshotExportBytes bounds ExportSnapshotTransportJSON's encoded
// payload at 32 MiB (spec §8 "oversized inline snapshot export fails with a
// size error"). A database whose checkpointed snapshot exceeds this should
// be reseeded out-of-band (file copy) rather than through the inline JSON
// transport. A var, not a const, so tests can shrink it rather than build
// an actual 32 MiB snapshot.
var maxInlineSnapshotExportBytes uint64 = 32 << 20

// ExportSnapshotTransportJSON encodes this DB's current checkpointed
// snapshot plus its corresponding commit position into the wire payload a
// replica's ReseedFromSnapshot consumes (spec §4.10 reseed transport). It
// fails with ErrKindSerialization if the encoded snapshot exceeds
// maxInlineSnapshotExportBytes.
func (db *DB) ExportSnapshotTransportJSON() (replication.SnapshotTransport, error) {
	var at replication.CommitToken
	if db.primary != nil {
		epoch, head, _, _ := db.primary.Status()
		at = replication.CommitToken{Epoch: epoch, LogIndex: head}
	}
	db.mu.RLock()
	encoded := db.snap.Encode()
	db.mu.RUnlock()

	if uint64(len(encoded)) > maxInlineSnapshotExportBytes {
		return replication.SnapshotTransport{}, newErr(ErrKindSerialization,
			fmt.Sprintf("encoded snapshot (%d bytes) exceeds the %d byte inline export limit", len(encoded), maxInlineSnapshotExportBytes), nil)
	}
	return replication.SnapshotTransport{Snapshot: encoded, At: at}, nil
}

// defaultLogTransportChunkBytes bounds one ExportLogTransportJSON call's
// payload when the caller does not specify its own chunk size.
const defaultLogTransportChunkBytes = 8 << 20

// ExportLogTransportJSON encodes a bounded, contiguous run of this
// primary's committed log frames starting at fromLogIndex, distinct from
// ExportSnapshotTransportJSON's full-state export (spec §6
// export_log_transport_json). maxChunkBytes caps the encoded payload size;
// 0 uses defaultLogTransportChunkBytes. A caller whose ToLogIndex falls
// short of the primary's current head calls again with
// fromLogIndex = result.ToLogIndex+1 to fetch the next chunk.
func (db *DB) ExportLogTransportJSON(fromLogIndex uint64, maxChunkBytes uint64) (replication.LogTransport, error) {
	if db.primary == nil {
		return replication.LogTransport{}, newErr(ErrKindInvalidReplication, "not a replication primary", nil)
	}
	if maxChunkBytes == 0 {
		maxChunkBytes = defaultLogTransportChunkBytes
	}
	return db.primary.ExportLogRange(fromLogIndex, maxChunkBytes)
}

// WaitForToken blocks until this replica's applied position reaches tok or
// ctx is done, polling CatchUpOnce every pollInterval (spec §6
// wait_for_token, used by a caller that needs read-your-writes against a
// replica after a known primary commit).
func (db *DB) WaitForToken(ctx context.Context, tok replication.CommitToken, pollInterval time.Duration) error {
	if db.replica == nil {
		return newErr(ErrKindInvalidReplication, "not a replication replica", nil)
	}
	for {
		if !db.replica.AppliedPosition().Less(tok) {
			return nil
		}
		if _, err := db.CatchUpOnce(); err != nil {
			return err
		}
		if !db.replica.AppliedPosition().Less(tok) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReseedFromSnapshot replaces this replica's entire local graph state from a
// transport payload fetched out-of-band from the primary, clearing the
// needs-reseed flag so CatchUpOnce can resume incremental replay from the
// payload's position (spec §4.10 reseed_from_snapshot).
func (db *DB) ReseedFromSnapshot(payload replication.SnapshotTransport) error {
	if db.replica == nil {
		return newErr(ErrKindInvalidReplication, "not a replication replica", nil)
	}
	return db.replica.ReseedFromSnapshot(payload, func(snap *snapshot.Snapshot) error {
		db.mu.Lock()
		defer db.mu.Unlock()
		db.snap = snap
		db.rebuildVectorsFromSnapshot()
		return nil
	})
}
