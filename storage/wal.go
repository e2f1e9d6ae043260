package storage

import (
	"encoding/binary"
	"fmt"
)

// WALRecordType identifies the payload variant of a WAL record (spec §4.5).
type WALRecordType uint16

const (
	WALBegin    WALRecordType = 1
	WALCommit   WALRecordType = 2
	WALRollback WALRecordType = 3

	WALCreateNode      WALRecordType = 10
	WALCreateNodesBatch WALRecordType = 11
	WALDeleteNode      WALRecordType = 12

	WALAddEdge           WALRecordType = 20
	WALAddEdgesBatch     WALRecordType = 21
	WALAddEdgeProps      WALRecordType = 22
	WALAddEdgesPropsBatch WALRecordType = 23
	WALDeleteEdge        WALRecordType = 24

	WALSetNodeProp WALRecordType = 30
	WALDelNodeProp WALRecordType = 31
	WALSetEdgeProp WALRecordType = 32
	WALSetEdgeProps WALRecordType = 33
	WALDelEdgeProp WALRecordType = 34

	WALAddNodeLabel    WALRecordType = 40
	WALRemoveNodeLabel WALRecordType = 41

	WALSetNodeVector WALRecordType = 50
	WALDelNodeVector WALRecordType = 51

	WALDefineLabel   WALRecordType = 60
	WALDefineEtype   WALRecordType = 61
	WALDefinePropkey WALRecordType = 62

	// Derived/index records. Replicas are permitted to skip these — they
	// never carry user-visible state on their own (spec §9 Open Question 2).
	WALBatchVectors     WALRecordType = 70
	WALSealFragment     WALRecordType = 71
	WALCompactFragments WALRecordType = 72
)

// RecordSkippableOnReplica reports whether t is one of the derived/index
// record types a replica may replay as a no-op.
func RecordSkippableOnReplica(t WALRecordType) bool {
	switch t {
	case WALBatchVectors, WALSealFragment, WALCompactFragments:
		return true
	default:
		return false
	}
}

// Flag bits on a WAL record.
const (
	WALFlagReplicaSkippable uint16 = 1 << 0
)

// WALRecordHeaderSize is the fixed framing size before the payload:
// type(2) + flags(2) + txid(8) + payload_len(4) + crc32c(4).
const WALRecordHeaderSize = 2 + 2 + 8 + 4 + 4

// WALRecord is one typed, length-delimited entry in the WAL ring.
type WALRecord struct {
	Type    WALRecordType
	Flags   uint16
	TxID    uint64
	Payload []byte
}

// Encode renders the record's wire framing (header + payload), crc32c'd over
// the header-minus-crc-field plus the payload.
func (r *WALRecord) Encode() []byte {
	buf := make([]byte, WALRecordHeaderSize+len(r.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.Type))
	binary.LittleEndian.PutUint16(buf[2:4], r.Flags)
	binary.LittleEndian.PutUint64(buf[4:12], r.TxID)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(r.Payload)))
	copy(buf[WALRecordHeaderSize:], r.Payload)

	crc := CRC32C(buf[0:12])
	crc = CRC32CUpdate(crc, buf[WALRecordHeaderSize:])
	binary.LittleEndian.PutUint32(buf[16:20], crc)
	return buf
}

// DecodeWALRecord parses one record from the front of buf, returning the
// record and the number of bytes consumed. It does not copy the payload.
func DecodeWALRecord(buf []byte) (*WALRecord, int, error) {
	if len(buf) < WALRecordHeaderSize {
		return nil, 0, &InvalidWALError{Reason: "truncated record header"}
	}
	rtype := WALRecordType(binary.LittleEndian.Uint16(buf[0:2]))
	flags := binary.LittleEndian.Uint16(buf[2:4])
	txid := binary.LittleEndian.Uint64(buf[4:12])
	payloadLen := binary.LittleEndian.Uint32(buf[12:16])
	storedCRC := binary.LittleEndian.Uint32(buf[16:20])

	total := WALRecordHeaderSize + int(payloadLen)
	if len(buf) < total {
		return nil, 0, &InvalidWALError{Reason: "truncated record payload"}
	}

	computedCRC := CRC32C(buf[0:12])
	computedCRC = CRC32CUpdate(computedCRC, buf[WALRecordHeaderSize:total])
	if storedCRC != computedCRC {
		return nil, 0, &CrcMismatchError{Stored: storedCRC, Computed: computedCRC}
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[WALRecordHeaderSize:total])

	return &WALRecord{Type: rtype, Flags: flags, TxID: txid, Payload: payload}, total, nil
}

// WALRing is the logical ring buffer over the file's WAL region. It keeps
// head bookkeeping for primary/secondary sub-regions and an active-region
// marker mirrored into the header; appends advance the active region's head.
// No method switches the active region (Reset returns it to primary), and a
// checkpoint resets the whole ring rather than swapping halves (spec §4.5).
type WALRing struct {
	pager     *Pager
	startPage uint64
	pageCount uint64

	head         uint64 // byte offset of next write, relative to region start
	tail         uint64 // byte offset of oldest unconsumed record
	activeRegion uint8  // RegionPrimary or RegionSecondary
	primaryHead  uint64
	secondaryHead uint64
}

// OpenWALRing wraps the pager's WAL region starting at startPage for
// pageCount pages, with head/tail state restored from the header.
func OpenWALRing(p *Pager, startPage, pageCount, head, tail, primaryHead, secondaryHead uint64, activeRegion uint8) *WALRing {
	return &WALRing{
		pager:         p,
		startPage:     startPage,
		pageCount:     pageCount,
		head:          head,
		tail:          tail,
		primaryHead:   primaryHead,
		secondaryHead: secondaryHead,
		activeRegion:  activeRegion,
	}
}

// Capacity returns the region's byte capacity.
func (w *WALRing) Capacity() uint64 {
	return w.pageCount * uint64(w.pager.PageSize())
}

// Head, Tail, ActiveRegion expose the ring's current bookkeeping, mirrored
// into the header on every commit/checkpoint.
func (w *WALRing) Head() uint64         { return w.head }
func (w *WALRing) Tail() uint64         { return w.tail }
func (w *WALRing) ActiveRegion() uint8  { return w.activeRegion }
func (w *WALRing) PrimaryHead() uint64  { return w.primaryHead }
func (w *WALRing) SecondaryHead() uint64 { return w.secondaryHead }

// Append writes rec's encoded bytes at the current head, wrapping within the
// region's byte capacity, and advances head. It does not flush; callers
// flush per sync mode.
func (w *WALRing) Append(rec *WALRecord) error {
	enc := rec.Encode()
	return w.appendBytes(enc)
}

func (w *WALRing) appendBytes(data []byte) error {
	cap := w.Capacity()
	if uint64(len(data)) > cap {
		return &InvalidWALError{Reason: "record larger than wal region capacity"}
	}
	// Overflow check: a full ring (head wraps onto tail) is reported as
	// "WAL full"; the caller (commit path) should trigger a checkpoint.
	used := w.used()
	if used+uint64(len(data)) > cap {
		return &InvalidWALError{Reason: "wal region full, checkpoint required"}
	}

	offset := w.head % cap
	if offset+uint64(len(data)) <= cap {
		if err := w.writeAt(offset, data); err != nil {
			return err
		}
	} else {
		firstLen := cap - offset
		if err := w.writeAt(offset, data[:firstLen]); err != nil {
			return err
		}
		if err := w.writeAt(0, data[firstLen:]); err != nil {
			return err
		}
	}
	w.head += uint64(len(data))
	if w.activeRegion == RegionPrimary {
		w.primaryHead = w.head
	} else {
		w.secondaryHead = w.head
	}
	return nil
}

func (w *WALRing) used() uint64 {
	if w.head >= w.tail {
		return w.head - w.tail
	}
	return 0
}

// writeAt writes data at the given byte offset within the WAL region,
// translating to absolute pages via the pager.
func (w *WALRing) writeAt(regionOffset uint64, data []byte) error {
	absOffset := w.startPage*uint64(w.pager.PageSize()) + regionOffset
	return w.pager.WriteBytes(absOffset, data)
}

func (w *WALRing) readAt(regionOffset uint64, n int) ([]byte, error) {
	absOffset := w.startPage*uint64(w.pager.PageSize()) + regionOffset
	return w.pager.ReadBytes(absOffset, n)
}

// Reset clears head/tail/region bookkeeping after a checkpoint, per spec
// §4.4 step 2 ("reset wal_head=wal_tail=0").
func (w *WALRing) Reset() {
	w.head = 0
	w.tail = 0
	w.primaryHead = 0
	w.secondaryHead = 0
	w.activeRegion = RegionPrimary
}

// ScanCommitted reads every record between tail and head (wrapping), keeps
// only records whose txid belongs to a transaction that ends in a COMMIT,
// and returns them in file order. This is the shared helper behind crash
// recovery (§4.11) and replica idempotent apply (§4.10).
func (w *WALRing) ScanCommitted() ([]*WALRecord, error) {
	all, err := w.scanAll()
	if err != nil {
		return nil, err
	}

	committed := make(map[uint64]bool)
	for _, r := range all {
		if r.Type == WALCommit {
			committed[r.TxID] = true
		}
	}

	out := make([]*WALRecord, 0, len(all))
	for _, r := range all {
		if r.Type == WALBegin || r.Type == WALCommit || r.Type == WALRollback {
			continue
		}
		if committed[r.TxID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// scanAll decodes every framed record between tail and head, wrapping
// around the ring as needed. A truncated trailing record (torn write from a
// crash mid-append) ends the scan without error.
func (w *WALRing) scanAll() ([]*WALRecord, error) {
	cap := w.Capacity()
	used := w.used()
	if used == 0 {
		return nil, nil
	}

	buf, err := w.readLinear(w.tail%cap, used, cap)
	if err != nil {
		return nil, err
	}

	var records []*WALRecord
	off := 0
	for off < len(buf) {
		rec, n, err := DecodeWALRecord(buf[off:])
		if err != nil {
			break
		}
		records = append(records, rec)
		off += n
	}
	return records, nil
}

// readLinear reads n bytes starting at a ring-relative offset, concatenating
// the wrap-around segment if the read crosses the end of the region.
func (w *WALRing) readLinear(offset, n, cap uint64) ([]byte, error) {
	if offset+n <= cap {
		return w.readAt(offset, int(n))
	}
	firstLen := cap - offset
	first, err := w.readAt(offset, int(firstLen))
	if err != nil {
		return nil, err
	}
	second, err := w.readAt(0, int(n-firstLen))
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}

// AdvanceTail moves the tail forward by n bytes, for callers that prune the
// ring incrementally rather than resetting it wholesale at checkpoint.
func (w *WALRing) AdvanceTail(n uint64) error {
	if n > w.used() {
		return fmt.Errorf("storage: advance tail past head")
	}
	w.tail += n
	return nil
}
