// Package kitedb is the SingleFileDB facade (spec §3/§4.10, C10): it owns
// the file handle, pager, WAL ring, header, delta, snapshot reader, vector
// stores, MVCC manager, and replication runtime, and exposes the host API
// the external fluent graph/query layer consumes (spec §6).
package kitedb

import (
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/snappy"
	"github.com/rs/zerolog"

	"github.com/kitedb/kitedb/concurrency"
	"github.com/kitedb/kitedb/delta"
	"github.com/kitedb/kitedb/mvcc"
	"github.com/kitedb/kitedb/replication"
	"github.com/kitedb/kitedb/snapshot"
	"github.com/kitedb/kitedb/storage"
	"github.com/kitedb/kitedb/vector"
)

// DB is one open KiteDB file (or in-memory instance). It is safe for
// concurrent use by multiple goroutines, each running at most one active
// transaction at a time (spec §3 "per-thread transaction state").
type DB struct {
	opts   OpenOptions
	logger zerolog.Logger

	pager   *storage.Pager
	lock    *storage.FileLock
	header  *storage.Header
	wal     *storage.WALRing
	schema  *schema
	mvcc    *mvcc.Manager
	vectors *vector.Stores

	commitLock    concurrency.CommitLock
	checkpointGate *concurrency.CheckpointGate
	groupCommit   *concurrency.GroupCommitCoordinator

	mu        sync.RWMutex
	snap      *snapshot.Snapshot
	committed *delta.Delta

	txMu   sync.Mutex
	active map[uint64]*Tx

	primary *replication.Primary
	replica *replication.Replica

	changeCounter uint64
	closed        bool
}

// Open opens or creates path under opts, running crash recovery (spec
// §4.11) and reconstructing the snapshot/vector/schema state before
// returning. A zero-value path with opts.InMemory opens a pager with no
// backing file.
func Open(path string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if !storage.ValidPageSize(o.PageSize) {
		return nil, newErr(ErrKindIO, fmt.Sprintf("invalid page size %d", o.PageSize), nil)
	}

	var lock *storage.FileLock
	if !o.InMemory && !o.ReadOnly {
		l, err := storage.LockFile(path)
		if err != nil {
			return nil, newErr(ErrKindLockFailed, "acquire database file lock", err)
		}
		lock = l
	}

	var pager *storage.Pager
	var err error
	if o.InMemory {
		pager, err = storage.OpenPagerMemory(o.PageSize, o.CacheCapacityPages)
	} else {
		pager, err = storage.OpenPagerFile(path, o.PageSize, o.ReadOnly, o.CacheCapacityPages)
	}
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, newErr(ErrKindIO, "open pager", err)
	}

	db := &DB{
		opts:           o,
		logger:         o.Logger,
		pager:          pager,
		lock:           lock,
		schema:         newSchema(),
		vectors:        vector.NewStores(false),
		checkpointGate: concurrency.NewCheckpointGate(),
		active:         make(map[uint64]*Tx),
		committed:      delta.New(),
		snap:           snapshot.Empty(),
	}
	if o.GroupCommitEnabled {
		window := o.GroupCommitWindow
		db.groupCommit = concurrency.NewGroupCommitCoordinator(window)
	}

	if err := db.initOrLoad(); err != nil {
		pager.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}

	db.mvcc = mvcc.NewManager(db.header.NextTxID, db.header.LastCommitTS+1)

	if err := db.setupReplication(); err != nil {
		pager.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}

	db.logger.Debug().Str("path", path).Msg("kitedb opened")
	return db, nil
}

// initOrLoad reads the existing header/WAL/snapshot, or initializes a fresh
// file layout when the pager has no pages yet (spec §4.11 step 1).
func (db *DB) initOrLoad() error {
	if db.pager.SizePages() == 0 {
		if db.pager.IsReadOnly() {
			return newErr(ErrKindIO, "database does not exist and is read-only", nil)
		}
		return db.initLayout()
	}

	page, err := db.pager.ReadPage(0)
	if err != nil {
		return newErr(ErrKindIO, "read header page", err)
	}
	h, err := storage.ParseHeaderPage(page)
	if err != nil {
		return newErr(ErrKindInvalidWAL, "parse header", err)
	}
	db.header = h
	db.wal = storage.OpenWALRing(db.pager, h.WALStartPage, h.WALPageCount,
		h.WALHead, h.WALTail, h.WALPrimaryHead, h.WALSecondaryHead, h.ActiveWALRegion)

	if err := db.loadSnapshot(); err != nil {
		if db.opts.SnapshotParseMode != SnapshotParseSalvage {
			return err
		}
		db.logger.Warn().Err(err).Msg("snapshot salvage: discarding on-disk snapshot, recovering from WAL only")
		db.snap = snapshot.Empty()
	}

	return db.recoverFromWAL()
}

// initLayout writes the very first header/WAL/snapshot-placeholder image
// for a brand-new file (spec §4.11 step 1, §4.1).
func (db *DB) initLayout() error {
	walPages := (db.opts.WALSizeBytes + uint64(db.opts.PageSize) - 1) / uint64(db.opts.PageSize)
	if walPages == 0 {
		walPages = 1
	}

	h := &storage.Header{
		Magic:            storage.Magic,
		Version:          storage.FormatVersion,
		PageSize:         uint32(db.opts.PageSize),
		DBSizePages:      storage.HeaderPages + walPages,
		WALStartPage:     storage.HeaderPages,
		WALPageCount:     walPages,
		SnapshotStartPage: storage.HeaderPages + walPages,
		SnapshotPageCount: 0,
		ActiveSnapshotGen: 1,
		NextTxID:          1,
	}
	db.header = h

	zero := make([]byte, db.opts.PageSize)
	for i := uint64(0); i < storage.HeaderPages+walPages; i++ {
		if err := db.pager.WritePage(i, zero); err != nil {
			return newErr(ErrKindIO, "init layout", err)
		}
	}
	db.wal = storage.OpenWALRing(db.pager, h.WALStartPage, h.WALPageCount, 0, 0, 0, 0, storage.RegionPrimary)
	db.snap = snapshot.Empty()

	if err := db.writeHeader(); err != nil {
		return err
	}
	return nil
}

// loadSnapshot decodes the on-disk snapshot section into db.snap and
// rebuilds the vector stores from it (spec §4.11 step 5).
func (db *DB) loadSnapshot() error {
	if db.header.SnapshotPageCount == 0 {
		db.snap = snapshot.Empty()
		return nil
	}
	buf, err := db.pager.MmapRange(db.header.SnapshotStartPage, db.header.SnapshotPageCount)
	if err != nil {
		return newErr(ErrKindIO, "read snapshot region", err)
	}
	if db.header.SnapshotCodec == storage.SnapshotCodecSnappy {
		compressed := buf[:db.header.SnapshotEncodedSize]
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			return newErr(ErrKindInvalidSnapshot, "snappy decode snapshot", err)
		}
		buf = raw
	}
	snap, err := snapshot.Decode(buf)
	if err != nil {
		return newErr(ErrKindInvalidSnapshot, "decode snapshot", err)
	}
	if err := snap.QuickCheck(); err != nil {
		return newErr(ErrKindInvalidSnapshot, "quick_check failed", err)
	}
	db.snap = snap
	db.rebuildVectorsFromSnapshot()
	return nil
}

func (db *DB) rebuildVectorsFromSnapshot() {
	db.vectors = vector.NewStores(false)
	for propKey, sec := range db.snap.VectorSections {
		store := db.vectors.StoreFor(propKey)
		dim := int(sec.Dim)
		for i, nodeID := range sec.NodeIDs {
			vec := append([]float32(nil), sec.Data[i*dim:(i+1)*dim]...)
			_ = store.Set(nodeID, vec)
		}
	}
}

// writeHeader serializes and writes the header page (the commit/checkpoint
// durability point, spec §4.1), fsyncing unless sync mode is Off.
func (db *DB) writeHeader() error {
	page := db.header.SerializeToPage(db.opts.PageSize)
	if err := db.pager.WritePage(0, page); err != nil {
		return newErr(ErrKindIO, "write header", err)
	}
	if db.opts.SyncMode != SyncOff {
		if err := db.pager.Sync(); err != nil {
			return newErr(ErrKindIO, "fsync header", err)
		}
	}
	return nil
}

// setupReplication constructs the primary or replica runtime per
// OpenOptions, if a role other than Disabled was configured.
func (db *DB) setupReplication() error {
	switch db.opts.ReplicationRole {
	case ReplicationDisabled:
		return nil
	case ReplicationPrimary:
		segMax := db.opts.ReplicationSegmentMaxBytes
		retain := db.opts.ReplicationRetentionMinEntries
		p, err := replication.OpenPrimary(db.opts.ReplicationSidecarPath, replication.PrimaryOptions{
			SegmentMaxBytes:     segMax,
			RetentionMinEntries: retain,
			ChecksumPayload:     true,
			SyncEveryAppend:     db.opts.SyncMode == SyncFull,
		})
		if err != nil {
			return newErr(ErrKindInvalidReplication, "open primary sidecar", err)
		}
		db.primary = p
		return nil
	case ReplicationReplica:
		r, err := replication.OpenReplica("replica", db.opts.ReplicationSidecarPath, db.opts.ReplicationSourceSidecarPath)
		if err != nil {
			return newErr(ErrKindInvalidReplication, "open replica sidecar", err)
		}
		db.replica = r
		return nil
	default:
		return nil
	}
}

// Close releases the pager and any replication runtime's resources. It does
// not checkpoint or fsync first; callers that need a durable close should
// Checkpoint beforehand.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	var firstErr error
	if db.primary != nil {
		if err := db.primary.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.pager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if db.lock != nil {
		if err := db.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CountNodes reports the number of live nodes visible in the base snapshot
// plus the committed delta's net creates/deletes, for tests and the
// inspection CLI (spec §8 scenario assertions reference count_nodes()).
func (db *DB) CountNodes() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	live := make(map[uint64]bool, int(db.snap.NumNodes))
	for _, id := range db.snap.PhysToNodeId {
		live[uint64(id)] = true
	}
	for id := range db.committed.DeletedNodes {
		delete(live, id)
	}
	for id := range db.committed.CreatedNodes {
		live[id] = true
	}
	return len(live)
}

// now returns the wall-clock time. KiteDB's clocks are logical counters
// (commit_ts, log_index); no code in the package calls this helper.
func now() time.Time { return time.Now() }
