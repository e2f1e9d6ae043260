package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestWALRing(t *testing.T, pageCount uint64) *WALRing {
	t.Helper()
	p, err := OpenPagerMemory(4096, 16)
	require.NoError(t, err, "OpenPagerMemory")
	if _, err := p.AllocatePages(pageCount); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	return OpenWALRing(p, 0, pageCount, 0, 0, 0, 0, RegionPrimary)
}

func TestWALRecordEncodeDecodeRoundTrip(t *testing.T) {
	rec := &WALRecord{Type: WALCreateNode, Flags: 0, TxID: 7, Payload: []byte("hello")}
	enc := rec.Encode()
	got, n, err := DecodeWALRecord(enc)
	require.NoError(t, err, "DecodeWALRecord")
	if n != len(enc) {
		t.Fatalf("consumed %d bytes, want %d", n, len(enc))
	}
	if got.Type != rec.Type || got.TxID != rec.TxID || string(got.Payload) != string(rec.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestWALRecordDecodeDetectsCrcMismatch(t *testing.T) {
	rec := &WALRecord{Type: WALCreateNode, TxID: 1, Payload: []byte("x")}
	enc := rec.Encode()
	enc[len(enc)-1] ^= 0xFF
	if _, _, err := DecodeWALRecord(enc); err == nil {
		t.Fatal("expected a crc mismatch error")
	} else if _, ok := err.(*CrcMismatchError); !ok {
		t.Fatalf("expected *CrcMismatchError, got %T", err)
	}
}

func TestWALRecordDecodeTruncated(t *testing.T) {
	rec := &WALRecord{Type: WALCreateNode, TxID: 1, Payload: []byte("hello")}
	enc := rec.Encode()
	for n := 0; n < WALRecordHeaderSize; n++ {
		if _, _, err := DecodeWALRecord(enc[:n]); err == nil {
			t.Fatalf("expected an error decoding a %d-byte truncated header", n)
		}
	}
}

func TestWALRingAppendAndScanCommitted(t *testing.T) {
	ring := newTestWALRing(t, 4)

	begin := &WALRecord{Type: WALBegin, TxID: 1}
	create := &WALRecord{Type: WALCreateNode, TxID: 1, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	commit := &WALRecord{Type: WALCommit, TxID: 1}

	for _, r := range []*WALRecord{begin, create, commit} {
		if err := ring.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := ring.ScanCommitted()
	require.NoError(t, err, "ScanCommitted")
	if len(records) != 1 || records[0].Type != WALCreateNode {
		t.Fatalf("expected one committed CreateNode record, got %+v", records)
	}
}

func TestWALRingScanCommittedExcludesUncommittedTx(t *testing.T) {
	ring := newTestWALRing(t, 4)

	if err := ring.Append(&WALRecord{Type: WALBegin, TxID: 1}); err != nil {
		t.Fatalf("Append begin: %v", err)
	}
	if err := ring.Append(&WALRecord{Type: WALCreateNode, TxID: 1, Payload: []byte{1}}); err != nil {
		t.Fatalf("Append create: %v", err)
	}
	// No commit record: this transaction never closed out.

	records, err := ring.ScanCommitted()
	require.NoError(t, err, "ScanCommitted")
	if len(records) != 0 {
		t.Fatalf("expected no committed records for an uncommitted tx, got %+v", records)
	}
}

func TestWALRingAppendRejectsOversizedRecord(t *testing.T) {
	ring := newTestWALRing(t, 1)
	big := &WALRecord{Type: WALCreateNode, TxID: 1, Payload: make([]byte, ring.Capacity()*2)}
	if err := ring.Append(big); err == nil {
		t.Fatal("expected an error appending a record larger than the ring's capacity")
	}
}

func TestWALRingReset(t *testing.T) {
	ring := newTestWALRing(t, 4)
	if err := ring.Append(&WALRecord{Type: WALBegin, TxID: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ring.Reset()
	if ring.Head() != 0 || ring.Tail() != 0 {
		t.Fatalf("expected head/tail reset to 0, got head=%d tail=%d", ring.Head(), ring.Tail())
	}
	if ring.ActiveRegion() != RegionPrimary {
		t.Fatalf("expected active region reset to primary, got %d", ring.ActiveRegion())
	}
}

func TestRecordSkippableOnReplica(t *testing.T) {
	if !RecordSkippableOnReplica(WALBatchVectors) {
		t.Fatal("expected WALBatchVectors to be skippable on a replica")
	}
	if RecordSkippableOnReplica(WALCreateNode) {
		t.Fatal("expected WALCreateNode to not be skippable on a replica")
	}
}
