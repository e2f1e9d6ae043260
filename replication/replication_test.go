package replication

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewManifestStore(filepath.Join(dir, "manifest.json"))
	if store.Exists() {
		t.Fatalf("manifest should not exist yet")
	}
	m := NewManifest()
	m.HeadLogIndex = 42
	if err := store.Write(m); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := store.Read()
	require.NoError(t, err, "read")
	if got.HeadLogIndex != 42 || got.Epoch != 1 || got.ActiveSegmentID != 1 {
		t.Fatalf("unexpected manifest after round trip: %+v", got)
	}
}

func TestSegmentLogStoreAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, segmentFileName(1))

	ls, err := CreateSegmentLogStore(path)
	require.NoError(t, err, "create")
	if _, err := ls.Append(1, 1, []byte("hello")); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := ls.Append(1, 2, []byte("world")); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := ls.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	frames, err := ReadAllFrames(path)
	require.NoError(t, err, "read all")
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0].Payload) != "hello" || frames[0].LogIndex != 1 {
		t.Errorf("frame 0 mismatch: %+v", frames[0])
	}
	if string(frames[1].Payload) != "world" || frames[1].LogIndex != 2 {
		t.Errorf("frame 1 mismatch: %+v", frames[1])
	}
}

func TestSegmentLogStoreDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, segmentFileName(1))

	ls, err := CreateSegmentLogStore(path)
	require.NoError(t, err, "create")
	if _, err := ls.Append(1, 1, []byte("hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	ls.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err, "read raw")
	data[frameHeaderSize] ^= 0xFF // flip a payload byte
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	if _, err := ReadAllFrames(path); err == nil {
		t.Fatalf("expected a crc mismatch error, got nil")
	}
}

func TestPrimaryAppendCommitAdvancesManifest(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPrimary(dir, PrimaryOptions{ChecksumPayload: true})
	require.NoError(t, err, "open primary")
	defer p.Close()

	tok1, err := p.AppendCommit([]byte("tx-1"))
	require.NoError(t, err, "append 1")
	tok2, err := p.AppendCommit([]byte("tx-2"))
	require.NoError(t, err, "append 2")
	if tok1.LogIndex != 1 || tok2.LogIndex != 2 {
		t.Fatalf("unexpected tokens: %+v %+v", tok1, tok2)
	}

	epoch, head, _, last := p.Status()
	if epoch != 1 || head != 2 {
		t.Fatalf("unexpected status: epoch=%d head=%d", epoch, head)
	}
	if last == nil || *last != tok2 {
		t.Fatalf("unexpected last token: %+v", last)
	}
}

func TestPrimaryReopenBumpsEpochAndFencesOldHandle(t *testing.T) {
	dir := t.TempDir()
	p1, err := OpenPrimary(dir, PrimaryOptions{})
	require.NoError(t, err, "open 1")
	if _, err := p1.AppendCommit([]byte("a")); err != nil {
		t.Fatalf("append via p1: %v", err)
	}
	p1.Close()

	p2, err := OpenPrimary(dir, PrimaryOptions{})
	require.NoError(t, err, "open 2")
	defer p2.Close()

	if _, err := p1.AppendCommit([]byte("b")); err == nil {
		t.Fatalf("expected stale primary handle to be fenced")
	} else if _, ok := err.(*FencedError); !ok {
		t.Fatalf("expected *FencedError, got %T: %v", err, err)
	}

	if _, err := p2.AppendCommit([]byte("c")); err != nil {
		t.Fatalf("append via fresh handle: %v", err)
	}
}

func TestPromoteToNextEpochFencesOtherLiveHandle(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenPrimary(dir, PrimaryOptions{})
	require.NoError(t, err, "open a")
	defer a.Close()
	if _, err := a.AppendCommit([]byte("a-1")); err != nil {
		t.Fatalf("append via a: %v", err)
	}

	// b opens against the same sidecar while a is still live, without
	// bumping the epoch yet, then promotes itself explicitly — modeling a
	// planned failover where the old primary is never closed first.
	b, err := OpenPrimary(dir, PrimaryOptions{SkipAutoPromote: true})
	require.NoError(t, err, "open b")
	defer b.Close()

	if _, err := b.PromoteToNextEpoch(); err != nil {
		t.Fatalf("promote b: %v", err)
	}

	if _, err := a.AppendCommit([]byte("a-2")); err == nil {
		t.Fatalf("expected a to be fenced after b's promotion")
	} else if _, ok := err.(*FencedError); !ok {
		t.Fatalf("expected *FencedError, got %T: %v", err, err)
	}

	if _, err := b.AppendCommit([]byte("b-1")); err != nil {
		t.Fatalf("append via newly promoted b: %v", err)
	}
}

func TestReplicaCatchUpOnceAppliesNewFrames(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPrimary(dir, PrimaryOptions{})
	require.NoError(t, err, "open primary")
	defer p.Close()

	if _, err := p.AppendCommit([]byte("first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := p.AppendCommit([]byte("second")); err != nil {
		t.Fatalf("append: %v", err)
	}

	replicaDir := t.TempDir()
	r, err := OpenReplica("replica-a", replicaDir, dir)
	require.NoError(t, err, "open replica")

	var applied [][]byte
	n, err := r.CatchUpOnce(func(f Frame) error {
		applied = append(applied, f.Payload)
		return nil
	})
	require.NoError(t, err, "catch up")
	if n != 2 {
		t.Fatalf("expected 2 frames applied, got %d", n)
	}
	if string(applied[0]) != "first" || string(applied[1]) != "second" {
		t.Fatalf("unexpected payloads applied: %q", applied)
	}

	pos := r.AppliedPosition()
	if pos.LogIndex != 2 || pos.Epoch != 1 {
		t.Fatalf("unexpected cursor after catch up: %+v", pos)
	}

	// A second pass with nothing new applies nothing.
	n, err = r.CatchUpOnce(func(Frame) error {
		t.Fatalf("apply should not be called when already caught up")
		return nil
	})
	if err != nil || n != 0 {
		t.Fatalf("expected no-op catch up, got n=%d err=%v", n, err)
	}
}

func TestReplicaCatchUpOnceEscalatesToReseedAfterGapPersists(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPrimary(dir, PrimaryOptions{RetentionMinEntries: 1})
	require.NoError(t, err, "open primary")
	defer p.Close()

	for i := 0; i < 5; i++ {
		if _, err := p.AppendCommit([]byte("x")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := p.ComputeRetention(); err != nil {
		t.Fatalf("compute retention: %v", err)
	}

	replicaDir := t.TempDir()
	r, err := OpenReplica("replica-a", replicaDir, dir)
	require.NoError(t, err, "open replica")
	// Replica starts at log index 0 but the floor has already advanced past it.
	var lastErr error
	for i := 0; i < maxTransientGapAttempts; i++ {
		_, lastErr = r.CatchUpOnce(func(Frame) error { return nil })
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatalf("expected a NeedsReseedError after repeated gaps")
	}
	if _, ok := lastErr.(*NeedsReseedError); !ok {
		t.Fatalf("expected *NeedsReseedError, got %T: %v", lastErr, lastErr)
	}
	if !r.NeedsReseed() {
		t.Fatalf("replica should report NeedsReseed() true")
	}
}
