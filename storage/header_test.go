package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderSerializeParseRoundTrip(t *testing.T) {
	h := &Header{
		Magic:             Magic,
		Version:           FormatVersion,
		PageSize:          4096,
		DBSizePages:       10,
		WALStartPage:      1,
		WALPageCount:      4,
		SnapshotStartPage: 5,
		SnapshotPageCount: 5,
		ActiveSnapshotGen: 3,
		SnapshotCodec:     SnapshotCodecSnappy,
		SnapshotEncodedSize: 1234,
		MaxNodeID:         42,
		NextTxID:          7,
		LastCommitTS:      6,
		ChangeCounter:      2,
	}
	page := h.SerializeToPage(4096)
	got, err := ParseHeaderPage(page)
	require.NoError(t, err, "ParseHeaderPage")
	if *got != *h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderParseRejectsCorruptedPage(t *testing.T) {
	h := &Header{
		Magic: Magic, Version: FormatVersion, PageSize: 4096,
		DBSizePages: 2, WALStartPage: 1, WALPageCount: 1,
		SnapshotStartPage: 2, SnapshotPageCount: 0,
	}
	page := h.SerializeToPage(4096)
	page[10] ^= 0xFF
	if _, err := ParseHeaderPage(page); err == nil {
		t.Fatal("expected a CRC mismatch error for a corrupted header page")
	}
}

func TestHeaderParseRejectsBadMagic(t *testing.T) {
	h := &Header{
		Magic: 0xDEADBEEF, Version: FormatVersion, PageSize: 4096,
		DBSizePages: 2, WALStartPage: 1, WALPageCount: 1,
		SnapshotStartPage: 2, SnapshotPageCount: 0,
	}
	page := h.SerializeToPage(4096)
	if _, err := ParseHeaderPage(page); err == nil {
		t.Fatal("expected a bad-magic error")
	}
}

func TestValidPageSize(t *testing.T) {
	cases := map[int]bool{
		512:   true,
		4096:  true,
		65536: true,
		511:   false,
		4097:  false,
		131072: false,
	}
	for n, want := range cases {
		if got := ValidPageSize(n); got != want {
			t.Fatalf("ValidPageSize(%d) = %v, want %v", n, got, want)
		}
	}
}
