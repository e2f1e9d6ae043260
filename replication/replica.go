package replication

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kitedb/kitedb/snapshot"
)

// Replica pulls committed frames from a primary's sidecar directory and
// tracks its own applied position durably (spec §4.10).
type Replica struct {
	mu sync.Mutex

	localSidecarPath  string
	sourceSidecarPath string
	replicaID         string

	cursorStore *CursorStore
	cursor      *Cursor

	transientMissAttempts int
	transientMissAt       CommitToken
	needsReseed           bool
	lastErr               error
}

// OpenReplica opens (or initializes) a replica's local bookkeeping
// directory, pointed at sourceSidecarPath. It does not itself bootstrap
// graph state — callers run BootstrapFromSnapshot once first.
func OpenReplica(replicaID, localSidecarPath, sourceSidecarPath string) (*Replica, error) {
	if err := os.MkdirAll(localSidecarPath, 0o755); err != nil {
		return nil, err
	}
	cs := NewCursorStore(filepath.Join(localSidecarPath, "replica-cursor.json"))
	cursor, err := cs.Load()
	if err != nil {
		return nil, err
	}
	return &Replica{
		localSidecarPath:  localSidecarPath,
		sourceSidecarPath: sourceSidecarPath,
		replicaID:         replicaID,
		cursorStore:       cs,
		cursor:            cursor,
	}, nil
}

// AppliedPosition returns the replica's current durable cursor.
func (r *Replica) AppliedPosition() CommitToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	return CommitToken{Epoch: r.cursor.Epoch, LogIndex: r.cursor.AppliedLogIndex}
}

// NeedsReseed reports whether catch-up has given up on incremental replay.
func (r *Replica) NeedsReseed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.needsReseed
}

// SourceHeadPosition reads the primary's manifest to learn its current head.
func (r *Replica) SourceHeadPosition() (CommitToken, error) {
	m, err := NewManifestStore(filepath.Join(r.sourceSidecarPath, "manifest.json")).Read()
	if err != nil {
		return CommitToken{}, err
	}
	return CommitToken{Epoch: m.Epoch, LogIndex: m.HeadLogIndex}, nil
}

// BootstrapFromSnapshot seeds the replica's local cursor at the position a
// freshly-copied snapshot corresponds to, called once before the first
// catch-up pass or after a reseed (spec §4.10 bootstrap_from_snapshot).
func (r *Replica) BootstrapFromSnapshot(at CommitToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = &Cursor{Epoch: at.Epoch, AppliedLogIndex: at.LogIndex}
	r.needsReseed = false
	r.transientMissAttempts = 0
	return r.cursorStore.Save(r.cursor)
}

// ApplyFunc applies one replicated WAL record's committed effect onto the
// replica's delta/mvcc/vector state, idempotently (safe to call twice with
// the same frame after a restart) (spec §4.10's per-record-type replay
// rules).
type ApplyFunc func(frame Frame) error

// CatchUpOnce reads any new frames past the replica's cursor and applies
// them via apply, advancing and persisting the cursor on success. Returns
// the number of frames applied. If the primary's retained floor has moved
// past the replica's cursor for maxTransientGapAttempts consecutive calls,
// it returns a *NeedsReseedError and the caller must call
// ReseedFromSnapshot instead of retrying (spec §4.10).
func (r *Replica) CatchUpOnce(apply ApplyFunc) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := NewManifestStore(filepath.Join(r.sourceSidecarPath, "manifest.json")).Read()
	if err != nil {
		return 0, err
	}

	if manifest.Epoch < r.cursor.Epoch {
		return 0, fmt.Errorf("replication: source sidecar epoch %d is behind replica cursor epoch %d", manifest.Epoch, r.cursor.Epoch)
	}

	expectedNext := r.cursor.AppliedLogIndex + 1
	if manifest.Epoch > r.cursor.Epoch {
		// New primary epoch: restart log-index counting is not expected —
		// head_log_index is monotonic across epochs in this design, so we
		// simply adopt the new epoch and keep following head_log_index.
		r.cursor.Epoch = manifest.Epoch
	}

	if manifest.RetainedFloor > 0 && expectedNext < manifest.RetainedFloor {
		if r.transientMissAt != (CommitToken{Epoch: manifest.Epoch, LogIndex: expectedNext}) {
			r.transientMissAttempts = 0
			r.transientMissAt = CommitToken{Epoch: manifest.Epoch, LogIndex: expectedNext}
		}
		r.transientMissAttempts++
		if r.transientMissAttempts >= maxTransientGapAttempts {
			r.needsReseed = true
			return 0, &NeedsReseedError{ReplicaID: r.replicaID, Cursor: CommitToken{Epoch: r.cursor.Epoch, LogIndex: r.cursor.AppliedLogIndex}, Floor: manifest.RetainedFloor}
		}
		return 0, nil
	}

	if manifest.HeadLogIndex < expectedNext {
		return 0, nil // caught up
	}

	applied := 0
	for _, seg := range manifest.Segments {
		if seg.EndLogIndex < expectedNext {
			continue
		}
		segPath := filepath.Join(r.sourceSidecarPath, segmentFileName(seg.ID))
		frames, err := ReadAllFrames(segPath)
		if err != nil {
			r.lastErr = err
			return applied, err
		}
		for _, f := range frames {
			if f.LogIndex < expectedNext {
				continue
			}
			if err := apply(f); err != nil {
				r.lastErr = err
				return applied, err
			}
			r.cursor.AppliedLogIndex = f.LogIndex
			expectedNext = f.LogIndex + 1
			applied++
		}
	}

	r.transientMissAttempts = 0
	r.lastErr = nil
	if applied > 0 {
		if err := r.cursorStore.Save(r.cursor); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// SnapshotTransport is the bytes a replica fetches to reseed: the source's
// encoded CSR snapshot as of a checkpoint, and the CommitToken that
// checkpoint corresponds to. Because a checkpoint folds every prior delta
// into the snapshot (snapshot.Build), loading the snapshot alone is
// sufficient; CatchUpOnce resumes incremental replay from At afterward.
type SnapshotTransport struct {
	Snapshot []byte
	At       CommitToken
}

// ReseedFromSnapshot replaces the replica's entire local state from a fresh
// transport payload and resets the cursor, clearing the needs-reseed flag
// (spec §4.10 reseed_from_snapshot).
func (r *Replica) ReseedFromSnapshot(payload SnapshotTransport, loadSnapshot func(*snapshot.Snapshot) error) error {
	snap, err := snapshot.Decode(payload.Snapshot)
	if err != nil {
		return err
	}
	if err := loadSnapshot(snap); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = &Cursor{Epoch: payload.At.Epoch, AppliedLogIndex: payload.At.LogIndex}
	r.needsReseed = false
	r.transientMissAttempts = 0
	return r.cursorStore.Save(r.cursor)
}
