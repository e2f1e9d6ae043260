package storage

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a KiteDB single-file database. FormatVersion is bumped on
// any backwards-incompatible change to the header or WAL/snapshot framing.
const (
	Magic         uint64 = 0x4b497465_44420001 // ASCII "KIteDB" (4b 49 74 65 44 42) + format marker 0x0001
	FormatVersion uint32 = 1

	MinPageSize = 512
	MaxPageSize = 65536

	// HeaderPages is the number of pages reserved for the header region.
	// One page is always enough (the layout is a fixed-width record plus
	// CRC), but the region is expressed as a page count for symmetry with
	// the WAL and snapshot regions.
	HeaderPages = 1
)

// Region active-WAL markers.
const (
	RegionPrimary   uint8 = 0
	RegionSecondary uint8 = 1
)

// Flag bits stored in Header.Flags.
const (
	FlagReadOnlyCreated uint32 = 1 << 0 // file was created by a read-write opener
)

// Snapshot compression codecs stored in Header.SnapshotCodec.
const (
	SnapshotCodecNone   uint8 = 0
	SnapshotCodecSnappy uint8 = 1
)

// Header is KiteDB's page-0 record (spec §4.1). Every write that changes
// WAL head/tail or swaps the active snapshot generation goes through a full
// rewrite of this page; a header write is the commit/checkpoint durability
// point (§4.1 "Header durability contract").
type Header struct {
	Magic         uint64
	Version       uint32
	Flags         uint32
	PageSize      uint32
	DBSizePages   uint64

	WALStartPage     uint64
	WALPageCount     uint64
	WALHead          uint64
	WALTail          uint64
	WALPrimaryHead   uint64
	WALSecondaryHead uint64
	ActiveWALRegion  uint8

	CheckpointInProgress uint8

	SnapshotStartPage  uint64
	SnapshotPageCount  uint64
	ActiveSnapshotGen  uint64
	SnapshotCodec      uint8
	// SnapshotEncodedSize is the exact byte length of the (possibly
	// compressed) snapshot payload within the page-aligned region; the
	// region itself is zero-padded out to a whole number of pages.
	SnapshotEncodedSize uint64

	MaxNodeID     uint64
	NextTxID      uint64
	LastCommitTS  uint64
	ChangeCounter uint64
}

// headerBodySize is the number of bytes the fixed fields above occupy,
// before the trailing CRC32C. It must fit in MinPageSize.
const headerBodySize = 8 + 4 + 4 + 4 + 8 + /* magic..dbsize */
	8 + 8 + 8 + 8 + 8 + 8 + 1 + /* wal fields */
	1 + /* checkpoint_in_progress */
	8 + 8 + 8 + 1 + 8 + /* snapshot fields */
	8 + 8 + 8 + 8 /* ids/ts/counter */

// SerializeToPage renders the header into a full page-sized buffer (the
// rest zero-padded) with a trailing CRC32C over everything before it.
func (h *Header) SerializeToPage(pageSize int) []byte {
	buf := make([]byte, pageSize)
	off := 0
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	putU8 := func(v uint8) {
		buf[off] = v
		off++
	}

	putU64(h.Magic)
	putU32(h.Version)
	putU32(h.Flags)
	putU32(h.PageSize)
	putU64(h.DBSizePages)

	putU64(h.WALStartPage)
	putU64(h.WALPageCount)
	putU64(h.WALHead)
	putU64(h.WALTail)
	putU64(h.WALPrimaryHead)
	putU64(h.WALSecondaryHead)
	putU8(h.ActiveWALRegion)

	putU8(h.CheckpointInProgress)

	putU64(h.SnapshotStartPage)
	putU64(h.SnapshotPageCount)
	putU64(h.ActiveSnapshotGen)
	putU8(h.SnapshotCodec)
	putU64(h.SnapshotEncodedSize)

	putU64(h.MaxNodeID)
	putU64(h.NextTxID)
	putU64(h.LastCommitTS)
	putU64(h.ChangeCounter)

	crc := CRC32C(buf[:off])
	binary.LittleEndian.PutUint32(buf[pageSize-4:], crc)
	return buf
}

// ParseHeaderPage validates and decodes a header page previously produced by
// SerializeToPage.
func ParseHeaderPage(page []byte) (*Header, error) {
	if len(page) < MinPageSize {
		return nil, fmt.Errorf("storage: header page too short (%d bytes)", len(page))
	}
	if len(page) < headerBodySize+4 {
		return nil, fmt.Errorf("storage: page size %d too small for header", len(page))
	}

	storedCRC := binary.LittleEndian.Uint32(page[len(page)-4:])
	computedCRC := CRC32C(page[:headerBodySize])
	if storedCRC != computedCRC {
		return nil, &CrcMismatchError{Stored: storedCRC, Computed: computedCRC}
	}

	off := 0
	getU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(page[off:])
		off += 8
		return v
	}
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(page[off:])
		off += 4
		return v
	}
	getU8 := func() uint8 {
		v := page[off]
		off++
		return v
	}

	h := &Header{}
	h.Magic = getU64()
	h.Version = getU32()
	h.Flags = getU32()
	h.PageSize = getU32()
	h.DBSizePages = getU64()

	h.WALStartPage = getU64()
	h.WALPageCount = getU64()
	h.WALHead = getU64()
	h.WALTail = getU64()
	h.WALPrimaryHead = getU64()
	h.WALSecondaryHead = getU64()
	h.ActiveWALRegion = getU8()

	h.CheckpointInProgress = getU8()

	h.SnapshotStartPage = getU64()
	h.SnapshotPageCount = getU64()
	h.ActiveSnapshotGen = getU64()
	h.SnapshotCodec = getU8()
	h.SnapshotEncodedSize = getU64()

	h.MaxNodeID = getU64()
	h.NextTxID = getU64()
	h.LastCommitTS = getU64()
	h.ChangeCounter = getU64()

	if h.Magic != Magic {
		return nil, fmt.Errorf("storage: bad magic %#x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("storage: unsupported format version %d", h.Version)
	}
	if !ValidPageSize(int(h.PageSize)) {
		return nil, fmt.Errorf("storage: invalid page size %d", h.PageSize)
	}
	if h.WALStartPage+h.WALPageCount > h.SnapshotStartPage {
		return nil, fmt.Errorf("storage: wal region overlaps snapshot region")
	}
	if h.SnapshotStartPage+h.SnapshotPageCount > h.DBSizePages {
		return nil, fmt.Errorf("storage: snapshot region exceeds file size")
	}
	return h, nil
}

// ValidPageSize reports whether n is a power of two in [MinPageSize,MaxPageSize].
func ValidPageSize(n int) bool {
	if n < MinPageSize || n > MaxPageSize {
		return false
	}
	return n&(n-1) == 0
}
