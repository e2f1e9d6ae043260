// Package replication implements KiteDB's primary/replica log-shipping
// sidecar: segment log storage, the JSON manifest/progress/cursor files,
// primary-side epoch fencing and retention, and replica-side catch-up and
// reseed (spec §4.10).
package replication

import "fmt"

// ReplicationRole distinguishes the two sidecar roles.
type ReplicationRole int

const (
	RolePrimary ReplicationRole = iota
	RoleReplica
)

func (r ReplicationRole) String() string {
	if r == RolePrimary {
		return "primary"
	}
	return "replica"
}

// CommitToken identifies exactly where a committed transaction landed in
// the replication log, returned from commit_with_token so a caller can
// later call wait_for_token on a replica (spec §6).
type CommitToken struct {
	Epoch    uint64
	LogIndex uint64
}

func (t CommitToken) String() string {
	return fmt.Sprintf("%d:%d", t.Epoch, t.LogIndex)
}

// Less reports whether t happened before o: a strictly earlier epoch, or
// the same epoch with a strictly earlier log index.
func (t CommitToken) Less(o CommitToken) bool {
	if t.Epoch != o.Epoch {
		return t.Epoch < o.Epoch
	}
	return t.LogIndex < o.LogIndex
}

// FencedError reports an append attempted under a stale epoch — the
// in-process registry (or the OS advisory lock) observed a newer primary
// take over this sidecar directory.
type FencedError struct {
	SidecarPath   string
	CurrentEpoch  uint64
	AttemptEpoch  uint64
}

func (e *FencedError) Error() string {
	return fmt.Sprintf("replication: fenced: sidecar %q is on epoch %d, attempted write at epoch %d",
		e.SidecarPath, e.CurrentEpoch, e.AttemptEpoch)
}

// LogTransport is the JSON-encodable wire payload for
// export_log_transport_json: a bounded, contiguous run of a primary's
// committed log frames, distinct from SnapshotTransport's full-state
// reseed payload. A caller pulls it in chunks, resuming each next call at
// FromLogIndex = previous ToLogIndex+1 (spec §6).
type LogTransport struct {
	Epoch        uint64
	FromLogIndex uint64
	ToLogIndex   uint64
	Frames       []Frame
}

// NeedsReseedError reports a replica whose cursor has fallen behind the
// primary's retained floor — catch_up_once cannot recover incrementally and
// the caller must call ReseedFromSnapshot (spec §4.10 "transient-gap
// escalation").
type NeedsReseedError struct {
	ReplicaID string
	Cursor    CommitToken
	Floor     uint64
}

func (e *NeedsReseedError) Error() string {
	return fmt.Sprintf("replication: replica %q needs reseed: cursor log_index %d is behind retained floor %d",
		e.ReplicaID, e.Cursor.LogIndex, e.Floor)
}

// maxTransientGapAttempts is the number of consecutive catch_up_once calls
// that may observe a gap before NeedsReseedError is raised (spec §4.10).
const maxTransientGapAttempts = 8
