package mvcc

import (
	"fmt"
	"sync"
)

// ConflictError reports a commit whose write set or read set intersected a
// concurrently committed transaction's write set (spec §7 Conflict{txid, keys}).
type ConflictError struct {
	TxID uint64
	Keys []TxKey
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("mvcc: conflict on tx %d: [", e.TxID)
	for i, k := range e.Keys {
		if i > 0 {
			msg += ", "
		}
		msg += k.String()
	}
	return msg + "]"
}

// txRecord is the manager's bookkeeping for one in-flight or recently
// committed transaction.
type txRecord struct {
	txid       uint64
	snapshotTS uint64
	commitTS   uint64
	committed  bool
	readSet    map[TxKey]bool
	writeSet   map[TxKey]bool
}

// Manager assigns (txid, snapshot_ts) at begin and commit_ts at commit, and
// runs the optimistic conflict check against every transaction committed in
// (snapshot_ts, commit_ts] (spec §4.8).
type Manager struct {
	mu sync.Mutex

	nextTxID   uint64
	nextTS     uint64
	active     map[uint64]*txRecord
	// committedByTS keeps enough history to conflict-check new commits;
	// GC prunes entries older than the oldest active snapshot_ts minus
	// retention, mirroring the per-entity chain GC below.
	committedByTS []*txRecord

	chains map[TxKey]*Chain
}

// NewManager returns a transaction manager seeded with the given next
// tx id / next timestamp, as recovered from the header's next_tx_id /
// last_commit_ts fields.
func NewManager(nextTxID, nextTS uint64) *Manager {
	if nextTxID == 0 {
		nextTxID = 1
	}
	return &Manager{
		nextTxID: nextTxID,
		nextTS:   nextTS,
		active:   make(map[uint64]*txRecord),
		chains:   make(map[TxKey]*Chain),
	}
}

// Begin allocates a new (txid, snapshot_ts) pair.
func (m *Manager) Begin() (txid uint64, snapshotTS uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txid = m.nextTxID
	m.nextTxID++
	// snapshot_ts is the last allocated commit_ts, so every later commit
	// (commit_ts >= nextTS) falls in (snapshot_ts, commit_ts].
	snapshotTS = 0
	if m.nextTS > 0 {
		snapshotTS = m.nextTS - 1
	}
	rec := &txRecord{
		txid:       txid,
		snapshotTS: snapshotTS,
		readSet:    make(map[TxKey]bool),
		writeSet:   make(map[TxKey]bool),
	}
	m.active[txid] = rec
	return txid, snapshotTS
}

// RecordRead/RecordWrite add to the transaction's read/write sets, called on
// every read and write per spec §4.7's "every read records a TxKey".
func (m *Manager) RecordRead(txid uint64, key TxKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.active[txid]; ok {
		rec.readSet[key] = true
	}
}

func (m *Manager) RecordWrite(txid uint64, key TxKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.active[txid]; ok {
		rec.writeSet[key] = true
	}
}

// HasReads reports whether an active transaction has recorded any reads,
// used by Tx.Commit to decide whether a write-mode transaction with no
// staged mutations still needs to run the conflict check (spec §4.8
// read-write conflicts, spec §8 scenario S3).
func (m *Manager) HasReads(txid uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[txid]
	return ok && len(rec.readSet) > 0
}

// Commit runs the conflict check and, if it passes, allocates commit_ts,
// marks the transaction committed, and returns commit_ts. On conflict it
// returns a *ConflictError and leaves the transaction active so the caller
// can decide to abort or retry.
func (m *Manager) Commit(txid uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.active[txid]
	if !ok {
		return 0, fmt.Errorf("mvcc: no active transaction %d", txid)
	}

	var conflictKeys []TxKey
	for _, other := range m.committedByTS {
		if other.txid == txid {
			continue
		}
		if other.commitTS <= rec.snapshotTS {
			continue
		}
		for k := range rec.writeSet {
			if other.writeSet[k] {
				conflictKeys = append(conflictKeys, k)
			}
		}
		for k := range rec.readSet {
			if other.writeSet[k] {
				conflictKeys = append(conflictKeys, k)
			}
		}
	}
	if len(conflictKeys) > 0 {
		return 0, &ConflictError{TxID: txid, Keys: conflictKeys}
	}

	rec.commitTS = m.nextTS
	m.nextTS++
	rec.committed = true
	delete(m.active, txid)
	m.committedByTS = append(m.committedByTS, rec)

	for key := range rec.writeSet {
		if chain, ok := m.chains[key]; ok {
			chain.MarkCommitted(txid, rec.commitTS)
		}
	}
	return rec.commitTS, nil
}

// Abort releases the transaction's read/write sets without allocating a
// commit timestamp.
func (m *Manager) Abort(txid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, txid)
}

// ChainFor returns (creating if needed) the version chain for key.
func (m *Manager) ChainFor(key TxKey) *Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[key]
	if !ok {
		c = NewChain()
		m.chains[key] = c
	}
	return c
}

// AppendVersion appends a new version to key's chain, tagged with the
// owning (uncommitted) txid — commit later flips it visible via Commit's
// MarkCommitted pass.
func (m *Manager) AppendVersion(key TxKey, data interface{}, txid uint64) {
	chain := m.ChainFor(key)
	chain.Append(Version{Data: data, BeginTS: 0, TxID: txid})
}

// AppendCommittedVersion appends an already-committed version directly,
// bypassing the Begin/Commit/MarkCommitted dance. The write path uses this
// at commit time (after its own conflict check has already run) to push
// both the pre-commit baseline (beginTS 0, so every reader sees it as a
// floor) and the new post-commit value (beginTS == this commit's
// commit_ts), so concurrent readers whose snapshot predates the commit keep
// seeing the old value (spec §4.8).
func (m *Manager) AppendCommittedVersion(key TxKey, data interface{}, txid, beginTS uint64) {
	chain := m.ChainFor(key)
	chain.Append(Version{Data: data, BeginTS: beginTS, TxID: txid, Committed: true})
}

// HasActiveReaders reports whether any transaction is currently open —
// callers use this to decide whether a commit needs to append MVCC versions
// at all (spec §4.5 step 7: "if any concurrent reader is still active").
func (m *Manager) HasActiveReaders() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) > 0
}

// MinActiveSnapshotTS returns the oldest snapshot_ts among active
// transactions, or the current nextTS if none are active (everything is
// GC-eligible). Used by GC to compute the retention floor.
func (m *Manager) MinActiveSnapshotTS() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	min := m.nextTS
	for _, rec := range m.active {
		if rec.snapshotTS < min {
			min = rec.snapshotTS
		}
	}
	return min
}

// NextTxID/NextTS expose the manager's counters for header persistence.
func (m *Manager) NextTxID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextTxID
}

func (m *Manager) LastCommitTS() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextTS == 0 {
		return 0
	}
	return m.nextTS - 1
}

// Chains exposes the chain map for GC, guarded by the same mutex.
func (m *Manager) Chains() map[TxKey]*Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[TxKey]*Chain, len(m.chains))
	for k, v := range m.chains {
		out[k] = v
	}
	return out
}

// PruneCommittedHistory drops committed-tx bookkeeping older than floor,
// mirroring the per-chain GC floor so the conflict-check history doesn't
// grow without bound.
func (m *Manager) PruneCommittedHistory(floor uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.committedByTS[:0]
	for _, rec := range m.committedByTS {
		if rec.commitTS >= floor {
			kept = append(kept, rec)
		}
	}
	m.committedByTS = kept
}
