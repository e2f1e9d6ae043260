package kitedb

import (
	"github.com/klauspost/compress/snappy"

	"github.com/kitedb/kitedb/snapshot"
	"github.com/kitedb/kitedb/storage"
)

// maybeCheckpoint runs an automatic checkpoint once the WAL ring's fill
// ratio crosses the configured threshold (spec §4.4 "auto-checkpoint
// trigger"). It never blocks the caller on error: a failed auto-checkpoint is
// logged and left for the next commit or an explicit Checkpoint call to
// retry, since the database is still consistent without one.
func (db *DB) maybeCheckpoint() {
	if !db.opts.AutoCheckpoint {
		return
	}
	db.mu.RLock()
	capacity := db.wal.Capacity()
	used := db.wal.Head() - db.wal.Tail()
	due := capacity > 0 && float64(used)/float64(capacity) >= db.opts.CheckpointThreshold
	db.mu.RUnlock()
	if !due {
		return
	}
	if err := db.Checkpoint(); err != nil {
		db.logger.Warn().Err(err).Msg("auto-checkpoint failed")
	}
}

// Checkpoint folds the committed delta and live vector state into a fresh
// snapshot, writes it to a new snapshot region, resets the WAL ring, and
// swaps the header over to the new generation (spec §4.4). New commits wait
// at the checkpoint gate, and a commit already past the gate finishes before
// the commit lock is taken. db.mu is then held exclusively for the whole
// build and write, so readers and commits wait until Checkpoint returns.
func (db *DB) Checkpoint() error {
	db.checkpointGate.Begin()
	defer db.checkpointGate.End()
	db.commitLock.Lock()
	defer db.commitLock.Unlock()

	db.mu.Lock()
	defer db.mu.Unlock()

	next := snapshot.Build(db.snap, db.committed, db.vectors, snapshot.BuildOptions{MaxNodeID: db.header.MaxNodeID})
	raw := next.Encode()

	codec := storage.SnapshotCodecNone
	encoded := raw
	if db.opts.CheckpointCompression == "snappy" {
		codec = storage.SnapshotCodecSnappy
		encoded = snappy.Encode(nil, raw)
	}

	pageSize := uint64(db.opts.PageSize)
	pagesNeeded := (uint64(len(encoded)) + pageSize - 1) / pageSize
	if pagesNeeded == 0 {
		pagesNeeded = 1
	}

	oldStart, oldCount := db.header.SnapshotStartPage, db.header.SnapshotPageCount
	newStart, err := db.pager.AllocatePages(pagesNeeded)
	if err != nil {
		return newErr(ErrKindIO, "allocate snapshot pages", err)
	}

	for i := uint64(0); i < pagesNeeded; i++ {
		page := make([]byte, pageSize)
		start := i * pageSize
		end := start + pageSize
		if end > uint64(len(encoded)) {
			end = uint64(len(encoded))
		}
		copy(page, encoded[start:end])
		if err := db.pager.WritePage(newStart+i, page); err != nil {
			return newErr(ErrKindIO, "write snapshot page", err)
		}
	}
	if db.opts.SyncMode != SyncOff {
		if err := db.pager.Sync(); err != nil {
			return newErr(ErrKindIO, "fsync snapshot", err)
		}
	}

	db.header.SnapshotStartPage = newStart
	db.header.SnapshotPageCount = pagesNeeded
	db.header.SnapshotCodec = codec
	db.header.SnapshotEncodedSize = uint64(len(encoded))
	db.header.ActiveSnapshotGen++
	db.header.CheckpointInProgress = 0
	db.wal.Reset()
	db.header.WALHead = 0
	db.header.WALTail = 0
	db.header.WALPrimaryHead = 0
	db.header.WALSecondaryHead = 0
	db.header.ActiveWALRegion = 0
	db.header.ChangeCounter = 0

	if err := db.writeHeader(); err != nil {
		return err
	}

	if oldCount > 0 {
		db.pager.FreePages(oldStart, oldCount)
	}

	db.snap = next
	db.committed.Reset()
	db.logger.Debug().Uint64("gen", db.header.ActiveSnapshotGen).Msg("checkpoint complete")
	return nil
}

// Optimize is Checkpoint plus a pass that drops any MVCC version-chain
// history older than the oldest active reader's snapshot_ts, keeping the
// chains from growing without bound under a long-running write workload
// (spec §4.4 "optimize = checkpoint + chain GC").
func (db *DB) Optimize() error {
	if err := db.Checkpoint(); err != nil {
		return err
	}
	floor := db.mvcc.MinActiveSnapshotTS()
	for _, chain := range db.mvcc.Chains() {
		chain.TruncateOlderThan(floor, db.opts.MaxChainDepth)
	}
	db.mvcc.PruneCommittedHistory(floor)
	return nil
}

// Vacuum is an alias for Optimize kept for parity with the host API's naming
// (spec §4.4 lists both vacuum() and optimize() as the same operation).
func (db *DB) Vacuum() error {
	return db.Optimize()
}

// ResizeWAL grows or shrinks the WAL region to newSizeBytes, checkpointing
// first so the region can be safely relaid out empty (spec §4.4 "resizing
// requires a checkpoint boundary").
func (db *DB) ResizeWAL(newSizeBytes uint64) error {
	if err := db.Checkpoint(); err != nil {
		return err
	}

	db.checkpointGate.Begin()
	defer db.checkpointGate.End()
	db.commitLock.Lock()
	defer db.commitLock.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()

	pageSize := uint64(db.opts.PageSize)
	newPages := (newSizeBytes + pageSize - 1) / pageSize
	if newPages == 0 {
		newPages = 1
	}

	oldStart, oldCount := db.header.WALStartPage, db.header.WALPageCount
	newStart, err := db.pager.AllocatePages(newPages)
	if err != nil {
		return newErr(ErrKindIO, "allocate resized wal region", err)
	}

	db.header.WALStartPage = newStart
	db.header.WALPageCount = newPages
	db.header.WALHead = 0
	db.header.WALTail = 0
	db.header.WALPrimaryHead = 0
	db.header.WALSecondaryHead = 0
	db.header.ActiveWALRegion = 0

	if err := db.writeHeader(); err != nil {
		return err
	}

	db.wal = storage.OpenWALRing(db.pager, newStart, newPages, 0, 0, 0, 0, storage.RegionPrimary)
	db.pager.FreePages(oldStart, oldCount)
	return nil
}
