package kitedb

import (
	"github.com/kitedb/kitedb/storage"
)

// recoverFromWAL replays every committed record left in the WAL ring into
// db.committed and db.schema (spec §4.11 step 3-4). It is idempotent with
// respect to db.snap: the snapshot already reflects everything checkpointed
// before the crash, and ScanCommitted only returns records for transactions
// whose COMMIT record made it into the ring, so nothing here double-applies
// a checkpointed mutation.
func (db *DB) recoverFromWAL() error {
	records, err := db.wal.ScanCommitted()
	if err != nil {
		return newErr(ErrKindInvalidWAL, "scan committed WAL records", err)
	}
	var maxTxID uint64
	for _, rec := range records {
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}
		if err := db.applyWALRecord(rec); err != nil {
			return newErr(ErrKindInvalidWAL, "replay WAL record", err)
		}
	}
	if maxTxID >= db.header.NextTxID {
		db.header.NextTxID = maxTxID + 1
	}
	return nil
}

// applyWALRecord applies one record's payload to db.committed/db.schema. It
// is shared by crash recovery and (indirectly, via the same record types) a
// replica's incoming-frame application, so both paths agree on what each
// record type means.
func (db *DB) applyWALRecord(rec *storage.WALRecord) error {
	d := db.committed
	switch rec.Type {
	case storage.WALCreateNode:
		d.CreateNode(decodeNodeID(rec.Payload))
	case storage.WALDeleteNode:
		d.DeleteNode(decodeNodeID(rec.Payload))
	case storage.WALAddEdge:
		src, etype, dst := decodeEdge(rec.Payload)
		d.AddEdge(src, etype, dst)
	case storage.WALDeleteEdge:
		src, etype, dst := decodeEdge(rec.Payload)
		d.DeleteEdge(src, etype, dst)
	case storage.WALSetNodeProp, storage.WALDelNodeProp:
		id, key, v, err := decodeNodeProp(rec.Payload)
		if err != nil {
			return err
		}
		d.SetNodeProp(id, key, v)
	case storage.WALSetEdgeProp, storage.WALDelEdgeProp:
		e, key, v, err := decodeEdgeProp(rec.Payload)
		if err != nil {
			return err
		}
		d.SetEdgeProp(e, key, v)
	case storage.WALAddNodeLabel:
		id, label := decodeNodeLabel(rec.Payload)
		d.AddNodeLabel(id, label)
	case storage.WALRemoveNodeLabel:
		id, label := decodeNodeLabel(rec.Payload)
		d.RemoveNodeLabel(id, label)
	case storage.WALSetNodeVector, storage.WALDelNodeVector:
		id, propKey, vec := decodeNodeVector(rec.Payload)
		d.SetVector(id, propKey, vec)
		if vec != nil {
			db.vectors.StoreFor(propKey).Set(id, vec)
		} else {
			db.vectors.StoreFor(propKey).Delete(id)
		}
	case storage.WALDefineLabel:
		id, name := decodeSchemaDef(rec.Payload)
		db.schema.Labels.Define(id, name)
	case storage.WALDefineEtype:
		id, name := decodeSchemaDef(rec.Payload)
		db.schema.Etypes.Define(id, name)
	case storage.WALDefinePropkey:
		id, name := decodeSchemaDef(rec.Payload)
		db.schema.Propkeys.Define(id, name)
	default:
		if storage.RecordSkippableOnReplica(rec.Type) {
			return nil
		}
	}
	return nil
}
