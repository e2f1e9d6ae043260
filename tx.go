package kitedb

import (
	"sort"

	"github.com/kitedb/kitedb/delta"
	"github.com/kitedb/kitedb/mvcc"
	"github.com/kitedb/kitedb/storage"
)

// Commit runs the full commit sequence: validate against the MVCC
// manager's optimistic conflict check, serialize the pending delta into the
// WAL under commit_lock, flush per the configured sync mode, replicate if
// this DB is a primary, merge the pending delta into the committed one,
// push MVCC versions for any readers that might still observe the
// pre-commit state, apply pending vector ops, and finally consider an
// auto-checkpoint (spec §4.5).
func (tx *Tx) Commit() (commitTS uint64, err error) {
	if err := tx.requireActive(); err != nil {
		return 0, err
	}
	defer func() {
		tx.db.txMu.Lock()
		delete(tx.db.active, tx.txid)
		tx.db.txMu.Unlock()
		tx.active = false
	}()

	if tx.readOnly {
		tx.db.mvcc.Abort(tx.txid)
		return 0, nil
	}

	if tx.pending.Empty() {
		// Nothing to persist, but the transaction may still have read keys
		// another transaction committed a write to since this one's
		// snapshot_ts — the conflict check must still run so that
		// read-write conflicts (spec §8 scenario S3) aren't silently
		// dropped just because this transaction never staged a write of
		// its own.
		if !tx.db.mvcc.HasReads(tx.txid) {
			tx.db.mvcc.Abort(tx.txid)
			return 0, nil
		}
		commitTS, err = tx.db.mvcc.Commit(tx.txid)
		if err != nil {
			return 0, wrapConflict(err)
		}
		return commitTS, nil
	}

	commitTS, err = tx.db.mvcc.Commit(tx.txid)
	if err != nil {
		return 0, wrapConflict(err)
	}

	tx.db.checkpointGate.Enter()
	tx.db.commitLock.Lock()
	defer tx.db.commitLock.Unlock()

	frame, err := tx.writeWALRecords()
	if err != nil {
		return 0, err
	}

	flush := func() error {
		if tx.db.opts.SyncMode == SyncOff {
			return nil
		}
		return tx.db.pager.Sync()
	}
	if tx.db.groupCommit != nil && tx.db.opts.SyncMode == SyncNormal {
		if err := tx.db.groupCommit.Join(flush); err != nil {
			return 0, newErr(ErrKindIO, "group commit flush", err)
		}
	} else if err := flush(); err != nil {
		return 0, newErr(ErrKindIO, "commit flush", err)
	}

	tx.db.mu.Lock()
	tx.db.header.NextTxID = tx.db.mvcc.NextTxID()
	tx.db.header.LastCommitTS = commitTS
	tx.db.header.ChangeCounter++
	tx.db.mu.Unlock()
	if err := tx.db.writeHeader(); err != nil {
		return 0, err
	}

	if tx.db.primary != nil {
		if err := tx.appendReplicationFrame(frame); err != nil {
			return 0, newErr(ErrKindInvalidReplication, "append replication frame", err)
		}
	}

	needsVersions := tx.db.mvcc.HasActiveReaders()
	var baseline map[mvcc.TxKey]delta.PropValue
	if needsVersions {
		baseline = tx.captureBaselines()
	}

	tx.db.mu.Lock()
	tx.db.committed.Merge(tx.pending)
	tx.db.mu.Unlock()

	if needsVersions {
		tx.pushChainVersions(baseline, commitTS)
	}
	tx.applyPendingVectors()

	tx.db.maybeCheckpoint()
	return commitTS, nil
}

// writeWALRecords serializes every staged operation in tx.pending as one
// framed WAL record, bounded by BEGIN/COMMIT markers (spec §4.5 step 3).
func (tx *Tx) writeWALRecords() ([]byte, error) {
	w := tx.db.wal
	txid := tx.txid
	var frame []byte
	appendRec := func(rec *storage.WALRecord) error {
		if err := w.Append(rec); err != nil {
			return err
		}
		frame = append(frame, rec.Encode()...)
		return nil
	}
	if err := appendRec(&storage.WALRecord{Type: storage.WALBegin, TxID: txid}); err != nil {
		return nil, newErr(ErrKindIO, "append BEGIN", err)
	}

	d := tx.pending
	for id := range d.CreatedNodes {
		if err := appendRec(&storage.WALRecord{Type: storage.WALCreateNode, TxID: txid, Payload: encodeNodeID(id)}); err != nil {
			return nil, newErr(ErrKindIO, "append CreateNode", err)
		}
	}
	for id := range d.DeletedNodes {
		if err := appendRec(&storage.WALRecord{Type: storage.WALDeleteNode, TxID: txid, Payload: encodeNodeID(id)}); err != nil {
			return nil, newErr(ErrKindIO, "append DeleteNode", err)
		}
	}
	for src, patches := range d.OutAdd {
		for _, p := range patches {
			if err := appendRec(&storage.WALRecord{Type: storage.WALAddEdge, TxID: txid, Payload: encodeEdge(src, p.Etype, p.Other)}); err != nil {
				return nil, newErr(ErrKindIO, "append AddEdge", err)
			}
		}
	}
	for src, patches := range d.OutDel {
		for _, p := range patches {
			if err := appendRec(&storage.WALRecord{Type: storage.WALDeleteEdge, TxID: txid, Payload: encodeEdge(src, p.Etype, p.Other)}); err != nil {
				return nil, newErr(ErrKindIO, "append DeleteEdge", err)
			}
		}
	}
	for id, props := range d.NodeProps {
		for k, v := range props {
			rt := storage.WALSetNodeProp
			if v == nil {
				rt = storage.WALDelNodeProp
			}
			if err := appendRec(&storage.WALRecord{Type: rt, TxID: txid, Payload: encodeNodeProp(id, k, v)}); err != nil {
				return nil, newErr(ErrKindIO, "append node prop", err)
			}
		}
	}
	for e, props := range d.EdgeProps {
		for k, v := range props {
			rt := storage.WALSetEdgeProp
			if v == nil {
				rt = storage.WALDelEdgeProp
			}
			if err := appendRec(&storage.WALRecord{Type: rt, TxID: txid, Payload: encodeEdgeProp(e, k, v)}); err != nil {
				return nil, newErr(ErrKindIO, "append edge prop", err)
			}
		}
	}
	for id, labels := range d.NodeLabelsAdd {
		for l := range labels {
			if err := appendRec(&storage.WALRecord{Type: storage.WALAddNodeLabel, TxID: txid, Payload: encodeNodeLabel(id, l)}); err != nil {
				return nil, newErr(ErrKindIO, "append AddNodeLabel", err)
			}
		}
	}
	for id, labels := range d.NodeLabelsDel {
		for l := range labels {
			if err := appendRec(&storage.WALRecord{Type: storage.WALRemoveNodeLabel, TxID: txid, Payload: encodeNodeLabel(id, l)}); err != nil {
				return nil, newErr(ErrKindIO, "append RemoveNodeLabel", err)
			}
		}
	}
	for vk, vec := range d.PendingVectors {
		rt := storage.WALSetNodeVector
		if vec == nil {
			rt = storage.WALDelNodeVector
		}
		if err := appendRec(&storage.WALRecord{Type: rt, TxID: txid, Payload: encodeNodeVector(vk.NodeID, vk.PropKeyID, vec)}); err != nil {
			return nil, newErr(ErrKindIO, "append node vector", err)
		}
	}
	for _, def := range d.NewLabels {
		if err := appendRec(&storage.WALRecord{Type: storage.WALDefineLabel, TxID: txid, Payload: encodeSchemaDef(def.ID, def.Name)}); err != nil {
			return nil, newErr(ErrKindIO, "append DefineLabel", err)
		}
	}
	for _, def := range d.NewEtypes {
		if err := appendRec(&storage.WALRecord{Type: storage.WALDefineEtype, TxID: txid, Payload: encodeSchemaDef(def.ID, def.Name)}); err != nil {
			return nil, newErr(ErrKindIO, "append DefineEtype", err)
		}
	}
	for _, def := range d.NewPropkeys {
		if err := appendRec(&storage.WALRecord{Type: storage.WALDefinePropkey, TxID: txid, Payload: encodeSchemaDef(def.ID, def.Name)}); err != nil {
			return nil, newErr(ErrKindIO, "append DefinePropkey", err)
		}
	}

	if err := appendRec(&storage.WALRecord{Type: storage.WALCommit, TxID: txid}); err != nil {
		return nil, newErr(ErrKindIO, "append COMMIT", err)
	}
	return frame, nil
}

// appendReplicationFrame mirrors the just-written WAL frame into the
// primary's sidecar under the same commit critical section (spec §4.10
// "replication append happens inside the commit lock").
func (tx *Tx) appendReplicationFrame(frame []byte) error {
	_, err := tx.db.primary.AppendCommit(frame)
	return err
}

// captureBaselines reads the pre-merge value of every node/edge prop this
// transaction is about to overwrite, for keys that don't already have a
// chain (an older concurrent writer has already seeded it). Node props fall
// back to the base snapshot; edge props are read from the committed delta
// only, so an edge prop whose value lives only in the base snapshot gets no
// baseline. It must run
// before committed.Merge — pushChainVersions replays these as a BeginTS-0
// floor version so a reader whose snapshot predates this commit keeps
// seeing the old value even after the merge lands (spec §4.8).
func (tx *Tx) captureBaselines() map[mvcc.TxKey]delta.PropValue {
	out := make(map[mvcc.TxKey]delta.PropValue)
	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()

	for id, props := range tx.pending.NodeProps {
		for k := range props {
			key := mvcc.NodePropKey(id, k)
			if tx.db.mvcc.ChainFor(key).Len() > 0 {
				continue
			}
			if m, ok := tx.db.committed.NodeProps[id]; ok {
				if v, ok := m[k]; ok {
					if v != nil {
						out[key] = *v
					}
					continue
				}
			}
			if phys, ok := tx.db.snap.PhysOf(id); ok {
				if v, ok := tx.db.snap.NodeProps[phys][k]; ok {
					out[key] = v
				}
			}
		}
	}
	for e, props := range tx.pending.EdgeProps {
		for k := range props {
			key := mvcc.EdgePropKey(e.Src, e.Etype, e.Dst, k)
			if tx.db.mvcc.ChainFor(key).Len() > 0 {
				continue
			}
			if m, ok := tx.db.committed.EdgeProps[e]; ok {
				if v, ok := m[k]; ok && v != nil {
					out[key] = *v
				}
			}
		}
	}
	return out
}

// pushChainVersions replays the captured pre-commit baseline (BeginTS 0, so
// every snapshot sees it as a floor) and then the new post-commit value
// (BeginTS commitTS) for every touched node/edge prop key, so concurrent
// readers split correctly across the commit boundary (spec §4.8).
func (tx *Tx) pushChainVersions(baseline map[mvcc.TxKey]delta.PropValue, commitTS uint64) {
	m := tx.db.mvcc
	for key, v := range baseline {
		m.AppendCommittedVersion(key, v, 0, 0)
	}
	d := tx.pending
	for id, props := range d.NodeProps {
		for k, v := range props {
			var data interface{}
			if v != nil {
				data = *v
			}
			m.AppendCommittedVersion(mvcc.NodePropKey(id, k), data, tx.txid, commitTS)
		}
	}
	for e, props := range d.EdgeProps {
		for k, v := range props {
			var data interface{}
			if v != nil {
				data = *v
			}
			m.AppendCommittedVersion(mvcc.EdgePropKey(e.Src, e.Etype, e.Dst, k), data, tx.txid, commitTS)
		}
	}
}

// applyPendingVectors pushes every vector set/delete in the just-merged
// delta into the live vector.Stores (spec §4.6 "vector ops apply after
// delta merge").
func (tx *Tx) applyPendingVectors() {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for vk, vec := range tx.pending.PendingVectors {
		store := tx.db.vectors.StoreFor(vk.PropKeyID)
		if vec == nil {
			store.Delete(vk.NodeID)
		} else {
			_ = store.Set(vk.NodeID, vec)
		}
	}
}

// Tx is one in-flight transaction: a private pending delta plus the
// snapshot-isolation bookkeeping the engine's Manager needs to detect
// conflicts at commit (spec §4.7/§4.8). A Tx is not safe for concurrent use
// from multiple goroutines; open one Tx per logical unit of work.
type Tx struct {
	db         *DB
	txid       uint64
	snapshotTS uint64
	readOnly   bool
	pending    *delta.Delta
	active     bool
}

// Begin opens a read-write transaction. The caller must Commit or Rollback
// it before discarding it.
func (db *DB) Begin() (*Tx, error) {
	return db.begin(false)
}

// BeginReadOnly opens a transaction that may only read; Commit on it is a
// no-op that just releases the snapshot.
func (db *DB) BeginReadOnly() (*Tx, error) {
	return db.begin(true)
}

func (db *DB) begin(readOnly bool) (*Tx, error) {
	if !readOnly && db.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	txid, snapshotTS := db.mvcc.Begin()
	tx := &Tx{db: db, txid: txid, snapshotTS: snapshotTS, readOnly: readOnly, pending: delta.New(), active: true}
	db.txMu.Lock()
	db.active[txid] = tx
	db.txMu.Unlock()
	return tx, nil
}

func (tx *Tx) requireActive() error {
	if !tx.active {
		return ErrNoTransaction
	}
	return nil
}

// Rollback discards the transaction's pending delta without ever touching
// committed state.
func (tx *Tx) Rollback() error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.db.mvcc.Abort(tx.txid)
	tx.db.txMu.Lock()
	delete(tx.db.active, tx.txid)
	tx.db.txMu.Unlock()
	tx.active = false
	return nil
}

// allocNodeID hands out the next node id, durable via header.MaxNodeID.
func (db *DB) allocNodeID() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.header.MaxNodeID++
	return db.header.MaxNodeID
}

// --- writes -----------------------------------------------------------

// CreateNode allocates a new node id and stages its creation.
func (tx *Tx) CreateNode() (uint64, error) {
	if err := tx.requireActive(); err != nil {
		return 0, err
	}
	id := tx.db.allocNodeID()
	tx.pending.CreateNode(id)
	tx.db.mvcc.RecordWrite(tx.txid, mvcc.NodeKey(id))
	return id, nil
}

// DeleteNode stages a node's deletion (and, per spec §4.6, every edge
// touching it is expected to have been removed by the caller first —
// KiteDB does not cascade).
func (tx *Tx) DeleteNode(id uint64) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.DeleteNode(id)
	tx.db.mvcc.RecordWrite(tx.txid, mvcc.NodeKey(id))
	return nil
}

// AddEdge stages a directed (src, etype, dst) edge addition, recording
// writes against both endpoints' neighbor-list TxKeys so a concurrent
// full-scan reader conflicts correctly (spec §8 scenario S3).
func (tx *Tx) AddEdge(src uint64, etype uint32, dst uint64) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.AddEdge(src, etype, dst)
	m := tx.db.mvcc
	m.RecordWrite(tx.txid, mvcc.EdgeTxKey(src, etype, dst))
	m.RecordWrite(tx.txid, mvcc.NeighborsOutKey(src))
	m.RecordWrite(tx.txid, mvcc.NeighborsOutEtypeKey(src, etype))
	m.RecordWrite(tx.txid, mvcc.NeighborsInKey(dst))
	m.RecordWrite(tx.txid, mvcc.NeighborsInEtypeKey(dst, etype))
	return nil
}

// DeleteEdge stages a directed edge removal.
func (tx *Tx) DeleteEdge(src uint64, etype uint32, dst uint64) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.DeleteEdge(src, etype, dst)
	m := tx.db.mvcc
	m.RecordWrite(tx.txid, mvcc.EdgeTxKey(src, etype, dst))
	m.RecordWrite(tx.txid, mvcc.NeighborsOutKey(src))
	m.RecordWrite(tx.txid, mvcc.NeighborsOutEtypeKey(src, etype))
	m.RecordWrite(tx.txid, mvcc.NeighborsInKey(dst))
	m.RecordWrite(tx.txid, mvcc.NeighborsInEtypeKey(dst, etype))
	return nil
}

// SetNodeProp stages a property set; a nil v stages an explicit delete.
func (tx *Tx) SetNodeProp(id uint64, propKey uint32, v *delta.PropValue) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.SetNodeProp(id, propKey, v)
	tx.db.mvcc.RecordWrite(tx.txid, mvcc.NodePropKey(id, propKey))
	return nil
}

func (tx *Tx) DelNodeProp(id uint64, propKey uint32) error {
	return tx.SetNodeProp(id, propKey, nil)
}

func (tx *Tx) SetEdgeProp(src uint64, etype uint32, dst uint64, propKey uint32, v *delta.PropValue) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	e := delta.EdgeKey{Src: src, Etype: etype, Dst: dst}
	tx.pending.SetEdgeProp(e, propKey, v)
	tx.db.mvcc.RecordWrite(tx.txid, mvcc.EdgePropKey(src, etype, dst, propKey))
	return nil
}

func (tx *Tx) DelEdgeProp(src uint64, etype uint32, dst uint64, propKey uint32) error {
	return tx.SetEdgeProp(src, etype, dst, propKey, nil)
}

func (tx *Tx) AddNodeLabel(id uint64, label uint32) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.AddNodeLabel(id, label)
	m := tx.db.mvcc
	m.RecordWrite(tx.txid, mvcc.NodeLabelKey(id, label))
	m.RecordWrite(tx.txid, mvcc.NodeLabelsKey(id))
	return nil
}

func (tx *Tx) RemoveNodeLabel(id uint64, label uint32) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.RemoveNodeLabel(id, label)
	m := tx.db.mvcc
	m.RecordWrite(tx.txid, mvcc.NodeLabelKey(id, label))
	m.RecordWrite(tx.txid, mvcc.NodeLabelsKey(id))
	return nil
}

// SetNodeVector stages a vector set for (id, propKey), validating the
// dimension against the store's first-seen dimension (spec §4.9 "a prop key
// fixes its dimension on first write").
func (tx *Tx) SetNodeVector(id uint64, propKey uint32, vec []float32) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if err := tx.db.vectors.StoreFor(propKey).Validate(vec); err != nil {
		return newErr(ErrKindVectorDimensionMismatch, err.Error(), err)
	}
	tx.pending.SetVector(id, propKey, vec)
	tx.db.mvcc.RecordWrite(tx.txid, mvcc.NodePropKey(id, propKey))
	return nil
}

func (tx *Tx) DelNodeVector(id uint64, propKey uint32) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.SetVector(id, propKey, nil)
	tx.db.mvcc.RecordWrite(tx.txid, mvcc.NodePropKey(id, propKey))
	return nil
}

// GetOrCreateLabel/Etype/Propkey resolve a name to a schema id, staging a
// schema-def WAL record if it is newly created (spec §4.6).
func (tx *Tx) GetOrCreateLabel(name string) uint32 {
	id, created := tx.db.schema.Labels.IDFor(name)
	if created {
		tx.pending.NewLabels = append(tx.pending.NewLabels, delta.SchemaDef{ID: id, Name: name})
	}
	return id
}

func (tx *Tx) GetOrCreateEtype(name string) uint32 {
	id, created := tx.db.schema.Etypes.IDFor(name)
	if created {
		tx.pending.NewEtypes = append(tx.pending.NewEtypes, delta.SchemaDef{ID: id, Name: name})
	}
	return id
}

func (tx *Tx) GetOrCreatePropkey(name string) uint32 {
	id, created := tx.db.schema.Propkeys.IDFor(name)
	if created {
		tx.pending.NewPropkeys = append(tx.pending.NewPropkeys, delta.SchemaDef{ID: id, Name: name})
	}
	return id
}

// SetKey binds key to nodeID in the key index (upserting any prior binding).
func (tx *Tx) SetKey(key string, nodeID uint64) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.SetKey(key, nodeID)
	tx.db.mvcc.RecordWrite(tx.txid, mvcc.StringKey(key))
	return nil
}

func (tx *Tx) DeleteKey(key string) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.pending.DeleteKey(key)
	tx.db.mvcc.RecordWrite(tx.txid, mvcc.StringKey(key))
	return nil
}

// --- reads --------------------------------------------------------------

// NodeExists reports whether id is a live node visible to this transaction,
// merging pending -> committed -> snapshot (spec §4.7's read-path order).
func (tx *Tx) NodeExists(id uint64) bool {
	tx.db.mvcc.RecordRead(tx.txid, mvcc.NodeKey(id))
	if tx.pending.DeletedNodes[id] {
		return false
	}
	if tx.pending.CreatedNodes[id] {
		return true
	}
	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()
	if tx.db.committed.DeletedNodes[id] {
		return false
	}
	if tx.db.committed.CreatedNodes[id] {
		return true
	}
	_, ok := tx.db.snap.PhysOf(id)
	return ok
}

// GetNodeProp reads one node property, merging pending delta, the MVCC
// version chain at this transaction's snapshot_ts, the committed delta, and
// finally the base snapshot (spec §4.7).
func (tx *Tx) GetNodeProp(id uint64, propKey uint32) (delta.PropValue, bool) {
	key := mvcc.NodePropKey(id, propKey)
	tx.db.mvcc.RecordRead(tx.txid, key)

	if !tx.NodeExists(id) {
		return delta.PropValue{}, false
	}
	if m, ok := tx.pending.NodeProps[id]; ok {
		if v, ok := m[propKey]; ok {
			if v == nil {
				return delta.PropValue{}, false
			}
			return *v, true
		}
	}

	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()

	if chain, ok := tx.db.mvcc.Chains()[key]; ok {
		if v, ok := chain.Visible(tx.snapshotTS, tx.txid); ok {
			if v.Data == nil {
				return delta.PropValue{}, false
			}
			return v.Data.(delta.PropValue), true
		}
	}
	if m, ok := tx.db.committed.NodeProps[id]; ok {
		if v, ok := m[propKey]; ok {
			if v == nil {
				return delta.PropValue{}, false
			}
			return *v, true
		}
	}
	if phys, ok := tx.db.snap.PhysOf(id); ok {
		if v, ok := tx.db.snap.NodeProps[phys][propKey]; ok {
			return v, true
		}
	}
	return delta.PropValue{}, false
}

// GetNodeVector reads a node's vector for propKey, following the same
// pending -> committed -> snapshot order as GetNodeProp (vectors live in
// package vector's live Store rather than a chain, spec §9 dual-path note).
func (tx *Tx) GetNodeVector(id uint64, propKey uint32) ([]float32, bool) {
	tx.db.mvcc.RecordRead(tx.txid, mvcc.NodePropKey(id, propKey))
	vkey := delta.VectorKey{NodeID: id, PropKeyID: propKey}
	if vec, ok := tx.pending.PendingVectors[vkey]; ok {
		return vec, vec != nil
	}
	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()
	if vec, ok := tx.db.committed.PendingVectors[vkey]; ok {
		return vec, vec != nil
	}
	if store, ok := tx.db.vectors.Get(propKey); ok {
		return store.Get(id)
	}
	return nil, false
}

// GetNodeByKey resolves a key-index lookup, merging pending over committed
// over the base snapshot's hash-bucket index.
func (tx *Tx) GetNodeByKey(key string) (uint64, bool) {
	tx.db.mvcc.RecordRead(tx.txid, mvcc.StringKey(key))
	if tx.pending.KeyIndexDeleted[key] {
		return 0, false
	}
	if id, ok := tx.pending.KeyIndex[key]; ok {
		return id, true
	}
	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()
	if tx.db.committed.KeyIndexDeleted[key] {
		return 0, false
	}
	if id, ok := tx.db.committed.KeyIndex[key]; ok {
		return id, true
	}
	return tx.db.snap.NodeByKey(storage.HashKey(key), key)
}

// NodeHasLabel reports whether id carries label, merging pending over
// committed over the base snapshot.
func (tx *Tx) NodeHasLabel(id uint64, label uint32) bool {
	tx.db.mvcc.RecordRead(tx.txid, mvcc.NodeLabelKey(id, label))
	if tx.pending.NodeLabelsDel[id] != nil && tx.pending.NodeLabelsDel[id][label] {
		return false
	}
	if tx.pending.NodeLabelsAdd[id] != nil && tx.pending.NodeLabelsAdd[id][label] {
		return true
	}
	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()
	if tx.db.committed.NodeLabelsDel[id] != nil && tx.db.committed.NodeLabelsDel[id][label] {
		return false
	}
	if tx.db.committed.NodeLabelsAdd[id] != nil && tx.db.committed.NodeLabelsAdd[id][label] {
		return true
	}
	if phys, ok := tx.db.snap.PhysOf(id); ok {
		for _, l := range tx.db.snap.NodeLabels[phys] {
			if l == label {
				return true
			}
		}
	}
	return false
}

// GetOutEdges returns the (etype, dst) pairs currently visible out of src,
// optionally filtered to one etype (etype==nil means all), merging pending
// adds/removes over the committed delta over the base snapshot's CSR
// adjacency (spec §4.7).
func (tx *Tx) GetOutEdges(src uint64, etype *uint32) []delta.EdgePatch {
	if etype != nil {
		tx.db.mvcc.RecordRead(tx.txid, mvcc.NeighborsOutEtypeKey(src, *etype))
	} else {
		tx.db.mvcc.RecordRead(tx.txid, mvcc.NeighborsOutKey(src))
	}

	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()

	live := make(map[delta.EdgePatch]bool)
	if phys, ok := tx.db.snap.PhysOf(src); ok {
		for _, e := range tx.db.snap.OutEdgesOf(phys) {
			live[delta.EdgePatch{Etype: e.Etype, Other: e.Dst}] = true
		}
	}
	for _, p := range tx.db.committed.OutDel[src] {
		delete(live, p)
	}
	for _, p := range tx.db.committed.OutAdd[src] {
		live[p] = true
	}
	for _, p := range tx.pending.OutDel[src] {
		delete(live, p)
	}
	for _, p := range tx.pending.OutAdd[src] {
		live[p] = true
	}

	out := make([]delta.EdgePatch, 0, len(live))
	for p := range live {
		if etype == nil || p.Etype == *etype {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Etype != out[j].Etype {
			return out[i].Etype < out[j].Etype
		}
		return out[i].Other < out[j].Other
	})
	return out
}

// GetInEdges mirrors GetOutEdges over the in-adjacency side. The base
// snapshot does not expose an InEdgesOf helper the way it does OutEdgesOf,
// so the base contribution is derived from InSrc/InEtype directly.
func (tx *Tx) GetInEdges(dst uint64, etype *uint32) []delta.EdgePatch {
	if etype != nil {
		tx.db.mvcc.RecordRead(tx.txid, mvcc.NeighborsInEtypeKey(dst, *etype))
	} else {
		tx.db.mvcc.RecordRead(tx.txid, mvcc.NeighborsInKey(dst))
	}

	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()

	live := make(map[delta.EdgePatch]bool)
	snap := tx.db.snap
	if phys, ok := snap.PhysOf(dst); ok && phys+1 < len(snap.InOffsets) {
		start, end := snap.InOffsets[phys], snap.InOffsets[phys+1]
		for i := start; i < end; i++ {
			live[delta.EdgePatch{Etype: snap.InEtype[i], Other: snap.InSrc[i]}] = true
		}
	}
	for _, p := range tx.db.committed.InDel[dst] {
		delete(live, p)
	}
	for _, p := range tx.db.committed.InAdd[dst] {
		live[p] = true
	}
	for _, p := range tx.pending.InDel[dst] {
		delete(live, p)
	}
	for _, p := range tx.pending.InAdd[dst] {
		live[p] = true
	}

	out := make([]delta.EdgePatch, 0, len(live))
	for p := range live {
		if etype == nil || p.Etype == *etype {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Etype != out[j].Etype {
			return out[i].Etype < out[j].Etype
		}
		return out[i].Other < out[j].Other
	})
	return out
}
