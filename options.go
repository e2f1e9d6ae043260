package kitedb

import (
	"time"

	"github.com/rs/zerolog"
)

// SyncMode controls how aggressively commits are flushed to stable storage
// (spec §4.5/§6).
type SyncMode int

const (
	SyncFull SyncMode = iota
	SyncNormal
	SyncOff
)

// SnapshotParseMode controls recovery behavior when the on-disk snapshot
// section fails check_snapshot (spec §4.11).
type SnapshotParseMode int

const (
	SnapshotParseStrict SnapshotParseMode = iota
	SnapshotParseSalvage
)

// ReplicationRole selects which side of the sidecar, if any, this DB plays
// (spec §6 OpenOptions.replication_role).
type ReplicationRole int

const (
	ReplicationDisabled ReplicationRole = iota
	ReplicationPrimary
	ReplicationReplica
)

func (r ReplicationRole) String() string {
	switch r {
	case ReplicationPrimary:
		return "primary"
	case ReplicationReplica:
		return "replica"
	default:
		return "disabled"
	}
}

const (
	defaultPageSize                  = 4096
	defaultWALSize                   = 1 << 20 // 1 MiB
	defaultCheckpointThreshold       = 0.75
	defaultCacheCapacity             = 256
	defaultGCIntervalMS              = 30_000
	defaultGCRetentionMS             = 60_000
	defaultMaxChainDepth             = 64
	defaultGroupCommitWindowMS       = 4
	defaultReplicationSegmentMaxMB   = 64
	defaultReplicationRetentionCount = 1024
)

// OpenOptions configures Open. Open starts from defaultOptions() and applies
// the caller's With* Option functions to it, mirroring novusdb's Open/OpenReadOnly/OpenMemory constructor
// family but parameterized instead of one function per mode (spec §6).
type OpenOptions struct {
	ReadOnly        bool
	CreateIfMissing bool
	InMemory        bool

	MVCC               bool
	GCIntervalMS       uint64
	GCRetentionMS      uint64
	MaxChainDepth      int

	PageSize              int
	WALSizeBytes          uint64
	AutoCheckpoint        bool
	CheckpointThreshold   float64
	BackgroundCheckpoint  bool
	CheckpointCompression string // "", "snappy"
	CacheSnapshot         bool
	CacheCapacityPages    int

	SyncMode           SyncMode
	GroupCommitEnabled bool
	GroupCommitWindow  time.Duration

	SnapshotParseMode SnapshotParseMode

	ReplicationRole                ReplicationRole
	ReplicationSidecarPath         string
	ReplicationSourceDBPath        string
	ReplicationSourceSidecarPath   string
	ReplicationSegmentMaxBytes     uint64
	ReplicationRetentionMinEntries uint64
	ReplicationRetentionMinMS      uint64
	ReplicationFailAfterAppendFor  int // testing-only fault injection

	Logger zerolog.Logger
}

// Option mutates an OpenOptions being built.
type Option func(*OpenOptions)

// defaultOptions returns the baseline every Open call starts from, before
// applying the caller's Option list.
func defaultOptions() OpenOptions {
	return OpenOptions{
		CreateIfMissing:     true,
		PageSize:            defaultPageSize,
		WALSizeBytes:        defaultWALSize,
		CheckpointThreshold: defaultCheckpointThreshold,
		CacheCapacityPages:  defaultCacheCapacity,
		GCIntervalMS:        defaultGCIntervalMS,
		GCRetentionMS:       defaultGCRetentionMS,
		MaxChainDepth:       defaultMaxChainDepth,
		GroupCommitWindow:   defaultGroupCommitWindowMS * time.Millisecond,
		SyncMode:            SyncFull,
		Logger:              zerolog.Nop(),
	}
}

func WithReadOnly() Option { return func(o *OpenOptions) { o.ReadOnly = true } }

func WithCreateIfMissing(v bool) Option {
	return func(o *OpenOptions) { o.CreateIfMissing = v }
}

func WithInMemory() Option { return func(o *OpenOptions) { o.InMemory = true } }

func WithMVCC(retentionMS, gcIntervalMS uint64, maxChainDepth int) Option {
	return func(o *OpenOptions) {
		o.MVCC = true
		o.GCRetentionMS = retentionMS
		o.GCIntervalMS = gcIntervalMS
		o.MaxChainDepth = maxChainDepth
	}
}

func WithPageSize(n int) Option { return func(o *OpenOptions) { o.PageSize = n } }

func WithWALSize(bytes uint64) Option { return func(o *OpenOptions) { o.WALSizeBytes = bytes } }

func WithAutoCheckpoint(threshold float64) Option {
	return func(o *OpenOptions) {
		o.AutoCheckpoint = true
		o.CheckpointThreshold = threshold
	}
}

func WithBackgroundCheckpoint() Option {
	return func(o *OpenOptions) { o.BackgroundCheckpoint = true }
}

func WithCheckpointCompression(codec string) Option {
	return func(o *OpenOptions) { o.CheckpointCompression = codec }
}

func WithCacheSnapshot(capacityPages int) Option {
	return func(o *OpenOptions) {
		o.CacheSnapshot = true
		o.CacheCapacityPages = capacityPages
	}
}

func WithSyncMode(mode SyncMode) Option { return func(o *OpenOptions) { o.SyncMode = mode } }

func WithGroupCommit(window time.Duration) Option {
	return func(o *OpenOptions) {
		o.GroupCommitEnabled = true
		o.GroupCommitWindow = window
	}
}

func WithSnapshotParseMode(mode SnapshotParseMode) Option {
	return func(o *OpenOptions) { o.SnapshotParseMode = mode }
}

func WithPrimaryReplication(sidecarPath string, segmentMaxBytes, retentionMinEntries uint64) Option {
	return func(o *OpenOptions) {
		o.ReplicationRole = ReplicationPrimary
		o.ReplicationSidecarPath = sidecarPath
		o.ReplicationSegmentMaxBytes = segmentMaxBytes
		o.ReplicationRetentionMinEntries = retentionMinEntries
	}
}

func WithReplicaReplication(localSidecarPath, sourceDBPath, sourceSidecarPath string) Option {
	return func(o *OpenOptions) {
		o.ReplicationRole = ReplicationReplica
		o.ReplicationSidecarPath = localSidecarPath
		o.ReplicationSourceDBPath = sourceDBPath
		o.ReplicationSourceSidecarPath = sourceSidecarPath
	}
}

func WithLogger(l zerolog.Logger) Option { return func(o *OpenOptions) { o.Logger = l } }

// WithFailAfterAppendForTesting injects a forced replication append failure
// after n successful appends, for exercising the commit-path's "replication
// append fails the commit" rule (spec §4.5 step 6) in tests.
func WithFailAfterAppendForTesting(n int) Option {
	return func(o *OpenOptions) { o.ReplicationFailAfterAppendFor = n }
}
