package replication

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/kitedb/kitedb/storage"
)

const (
	defaultSegmentMaxBytes     = 64 * 1024 * 1024
	defaultRetentionMinEntries = 1024
)

// epochFences fences stale primaries that share the same sidecar directory
// within this process (spec §4.10's "in-process registry + OS advisory
// lock" — the registry half; Primary.processLock holds the OS half).
// Keyed by the sidecar path as passed to OpenPrimary, so two primaries
// opening the same directory by the same path in one process observe each
// other immediately; the OS lock never fails the second Open.
var (
	epochFencesMu sync.Mutex
	epochFences   = make(map[string]uint64)
)

func bumpEpochFence(sidecarPath string, epoch uint64) {
	epochFencesMu.Lock()
	defer epochFencesMu.Unlock()
	if epoch > epochFences[sidecarPath] {
		epochFences[sidecarPath] = epoch
	}
}

func currentEpochFence(sidecarPath string) uint64 {
	epochFencesMu.Lock()
	defer epochFencesMu.Unlock()
	return epochFences[sidecarPath]
}

// PrimaryOptions configures a primary-side sidecar.
type PrimaryOptions struct {
	SegmentMaxBytes     uint64
	RetentionMinEntries uint64
	ChecksumPayload     bool
	SyncEveryAppend     bool

	// SkipAutoPromote opens the sidecar without bumping the manifest epoch,
	// even if a manifest already exists. A handle opened this way does not
	// fence out whichever handle is currently live; it only becomes the
	// authoritative epoch once PromoteToNextEpoch is called explicitly. This
	// is what lets a standby handle warm up against the same sidecar a live
	// primary still holds open (spec §8 scenario S6).
	SkipAutoPromote bool
}

// Primary orchestrates one primary's replication sidecar: append, rotate,
// retain (spec §4.10).
type Primary struct {
	mu sync.Mutex

	sidecarPath   string
	manifestStore *ManifestStore
	progressStore *ProgressStore
	processLock   *storage.FileLock

	manifest *Manifest
	logStore *SegmentLogStore

	segmentMaxBytes     uint64
	retentionMinEntries uint64
	checksumPayload     bool
	syncEveryAppend     bool

	appendAttempts  uint64
	appendSuccesses uint64
	appendFailures  uint64
	lastToken       *CommitToken
	fenced          bool
}

// OpenPrimary opens (or initializes) a primary sidecar directory, registering
// (and, unless SkipAutoPromote is set, bumping) the in-process epoch fence.
//
// It still attempts the OS-level primary.lock so a single-writer process
// crash leaves an advisory trace, but does not fail the open when the lock
// is already held: the real single-writer guarantee is the epoch fence
// checked on every AppendCommit, not the OS lock, and a planned failover
// needs a second handle to be openable against a sidecar the outgoing
// primary hasn't closed yet (spec §8 scenario S6).
func OpenPrimary(sidecarPath string, opts PrimaryOptions) (*Primary, error) {
	if err := ensureDir(sidecarPath); err != nil {
		return nil, err
	}
	lock, err := storage.LockFile(filepath.Join(sidecarPath, "primary"))
	if err != nil {
		lock = nil
	}

	manifestStore := NewManifestStore(filepath.Join(sidecarPath, "manifest.json"))
	var manifest *Manifest
	if manifestStore.Exists() {
		manifest, err = manifestStore.Read()
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		if !opts.SkipAutoPromote {
			manifest.Epoch++
		}
	} else {
		manifest = NewManifest()
	}
	if err := manifestStore.Write(manifest); err != nil {
		lock.Unlock()
		return nil, err
	}
	if !opts.SkipAutoPromote {
		bumpEpochFence(sidecarPath, manifest.Epoch)
	}

	segPath := filepath.Join(sidecarPath, segmentFileName(manifest.ActiveSegmentID))
	logStore, err := OpenSegmentLogStoreAppend(segPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	segMaxBytes := opts.SegmentMaxBytes
	if segMaxBytes == 0 {
		segMaxBytes = defaultSegmentMaxBytes
	}
	retentionMin := opts.RetentionMinEntries
	if retentionMin == 0 {
		retentionMin = defaultRetentionMinEntries
	}

	return &Primary{
		sidecarPath:         sidecarPath,
		manifestStore:       manifestStore,
		progressStore:       NewProgressStore(filepath.Join(sidecarPath, "replica-progress.json")),
		processLock:         lock,
		manifest:            manifest,
		logStore:            logStore,
		segmentMaxBytes:     segMaxBytes,
		retentionMinEntries: retentionMin,
		checksumPayload:     opts.ChecksumPayload,
		syncEveryAppend:     opts.SyncEveryAppend,
	}, nil
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// AppendCommit appends one committed transaction's payload as the next log
// frame, rotating the active segment past SegmentMaxBytes and persisting
// the manifest. Returns the CommitToken identifying this frame (spec §4.5
// step 6, spec §6 commit_with_token).
func (p *Primary) AppendCommit(payload []byte) (CommitToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.appendAttempts++

	if observed := currentEpochFence(p.sidecarPath); observed > p.manifest.Epoch {
		p.fenced = true
	}
	if p.fenced {
		p.appendFailures++
		return CommitToken{}, &FencedError{SidecarPath: p.sidecarPath, CurrentEpoch: fenced(p), AttemptEpoch: p.manifest.Epoch}
	}

	epoch := p.manifest.Epoch
	nextIndex := p.manifest.HeadLogIndex + 1

	var size uint64
	var err error
	if p.checksumPayload {
		size, err = p.logStore.Append(epoch, nextIndex, payload)
	} else {
		size, err = p.logStore.AppendNoCRC(epoch, nextIndex, payload)
	}
	if err != nil {
		p.appendFailures++
		return CommitToken{}, err
	}
	if p.syncEveryAppend {
		if err := p.logStore.Sync(); err != nil {
			p.appendFailures++
			return CommitToken{}, err
		}
	}

	p.manifest.HeadLogIndex = nextIndex
	seg := p.manifest.ActiveSegment()
	if seg.EndLogIndex < seg.StartLogIndex {
		seg.StartLogIndex = nextIndex
	}
	seg.EndLogIndex = nextIndex
	seg.SizeBytes += size

	rotated := seg.SizeBytes >= p.segmentMaxBytes
	if rotated {
		p.manifest.ActiveSegmentID++
		start := nextIndex + 1
		p.manifest.Segments = append(p.manifest.Segments, SegmentMeta{
			ID: p.manifest.ActiveSegmentID, StartLogIndex: start, EndLogIndex: start - 1,
		})
	}

	if err := p.manifestStore.Write(p.manifest); err != nil {
		p.appendFailures++
		return CommitToken{}, err
	}

	if rotated {
		if err := p.logStore.Close(); err != nil {
			p.appendFailures++
			return CommitToken{}, err
		}
		next := filepath.Join(p.sidecarPath, segmentFileName(p.manifest.ActiveSegmentID))
		p.logStore, err = OpenSegmentLogStoreAppend(next)
		if err != nil {
			return CommitToken{}, err
		}
	}

	tok := CommitToken{Epoch: epoch, LogIndex: nextIndex}
	p.lastToken = &tok
	p.appendSuccesses++
	return tok, nil
}

func fenced(p *Primary) uint64 { return currentEpochFence(p.sidecarPath) }

// PromoteToNextEpoch makes this handle the sidecar's authoritative primary,
// bumping the manifest epoch, persisting it, and updating the in-process
// fence so any other open handle (including one opened with SkipAutoPromote,
// or one that was already live before this call) gets fenced on its next
// AppendCommit. Unlike reopening via OpenPrimary, this never requires
// closing the handle first (spec §8 scenario S6).
func (p *Primary) PromoteToNextEpoch() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.manifest.Epoch++
	if err := p.manifestStore.Write(p.manifest); err != nil {
		return 0, err
	}
	bumpEpochFence(p.sidecarPath, p.manifest.Epoch)
	return p.manifest.Epoch, nil
}

// ExportLogRange returns every committed frame with LogIndex >=
// fromLogIndex, stopping once the accumulated payload would exceed
// maxPayloadBytes (0 means unlimited) so the caller gets a bounded chunk
// rather than the whole retained log in one call (spec §6
// export_log_transport_json). A caller short of the primary's head log
// index calls again with fromLogIndex = result.ToLogIndex+1.
func (p *Primary) ExportLogRange(fromLogIndex uint64, maxPayloadBytes uint64) (LogTransport, error) {
	p.mu.Lock()
	segments := append([]SegmentMeta(nil), p.manifest.Segments...)
	sidecarPath := p.sidecarPath
	epoch := p.manifest.Epoch
	p.mu.Unlock()

	var frames []Frame
	var size uint64
	to := fromLogIndex
	if to > 0 {
		to--
	}
	for _, seg := range segments {
		if seg.EndLogIndex < fromLogIndex {
			continue
		}
		segPath := filepath.Join(sidecarPath, segmentFileName(seg.ID))
		segFrames, err := ReadAllFrames(segPath)
		if err != nil {
			return LogTransport{}, err
		}
		for _, f := range segFrames {
			if f.LogIndex < fromLogIndex {
				continue
			}
			if maxPayloadBytes > 0 && len(frames) > 0 && size+uint64(len(f.Payload)) > maxPayloadBytes {
				return LogTransport{Epoch: epoch, FromLogIndex: fromLogIndex, ToLogIndex: to, Frames: frames}, nil
			}
			frames = append(frames, f)
			size += uint64(len(f.Payload))
			to = f.LogIndex
		}
	}
	return LogTransport{Epoch: epoch, FromLogIndex: fromLogIndex, ToLogIndex: to, Frames: frames}, nil
}

// RegisterReplicaProgress records a replica's applied position, used by
// ComputeRetention to decide what's safe to prune.
func (p *Primary) RegisterReplicaProgress(replicaID string, tok CommitToken) error {
	return p.progressStore.Upsert(replicaID, tok)
}

// RetentionOutcome summarizes a retention pass.
type RetentionOutcome struct {
	PrunedSegments int
	RetainedFloor  uint64
}

// ComputeRetention prunes whole segments older than both
// retentionMinEntries and every registered replica's progress, returning
// what it pruned. It never deletes the active segment (spec §4.10).
func (p *Primary) ComputeRetention() (RetentionOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress, err := p.progressStore.Load()
	if err != nil {
		return RetentionOutcome{}, err
	}
	floor := p.manifest.HeadLogIndex
	if floor > p.retentionMinEntries {
		floor -= p.retentionMinEntries
	} else {
		floor = 0
	}
	for _, prog := range progress {
		if prog.AppliedLogIndex < floor {
			floor = prog.AppliedLogIndex
		}
	}

	var pruned int
	kept := p.manifest.Segments[:0]
	for _, seg := range p.manifest.Segments {
		if seg.ID != p.manifest.ActiveSegmentID && seg.EndLogIndex < floor && seg.EndLogIndex > 0 {
			segPath := filepath.Join(p.sidecarPath, segmentFileName(seg.ID))
			if err := os.Remove(segPath); err == nil {
				pruned++
				continue
			}
		}
		kept = append(kept, seg)
	}
	p.manifest.Segments = kept
	p.manifest.RetainedFloor = floor
	if err := p.manifestStore.Write(p.manifest); err != nil {
		return RetentionOutcome{}, err
	}
	return RetentionOutcome{PrunedSegments: pruned, RetainedFloor: floor}, nil
}

// Status reports the primary's current replication state for the
// inspection CLI and host API's status() (spec's SUPPLEMENTED FEATURES).
func (p *Primary) Status() (epoch, headLogIndex, retainedFloor uint64, lastToken *CommitToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifest.Epoch, p.manifest.HeadLogIndex, p.manifest.RetainedFloor, p.lastToken
}

// Close releases the OS lock and underlying segment file.
func (p *Primary) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.logStore.Close()
	p.processLock.Unlock()
	return err
}
