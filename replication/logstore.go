package replication

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/kitedb/kitedb/storage"
)

const (
	frameMagic         uint32 = 0x474F4C52 // "RLOG" little-endian
	frameVersion       uint16 = 1
	frameFlagCRCOff    uint16 = 0x0001
	frameHeaderSize           = 32
	maxFramePayloadLen        = 64 * 1024 * 1024
)

// Frame is one record in a segment's .rlog file: a replication-log-indexed,
// epoch-stamped, checksummed payload (a WAL commit's record bytes, in
// practice) (spec §4.10).
type Frame struct {
	Epoch    uint64
	LogIndex uint64
	Payload  []byte
}

// segmentFileName renders a segment id as the fixed 20-digit name spec
// §4.10 specifies: segment-<20-digit-id>.rlog.
func segmentFileName(id uint64) string {
	return fmt.Sprintf("segment-%020d.rlog", id)
}

// SegmentLogStore appends and reads Frames from one .rlog segment file.
type SegmentLogStore struct {
	path     string
	file     *os.File
	writable bool
}

// CreateSegmentLogStore creates (truncating any existing file) a new
// writable segment.
func CreateSegmentLogStore(path string) (*SegmentLogStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &SegmentLogStore{path: path, file: f, writable: true}, nil
}

// OpenSegmentLogStoreAppend opens an existing segment for further appends,
// creating it if absent.
func OpenSegmentLogStoreAppend(path string) (*SegmentLogStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &SegmentLogStore{path: path, file: f, writable: true}, nil
}

// OpenSegmentLogStoreReadOnly opens an existing segment for reads only.
func OpenSegmentLogStoreReadOnly(path string) (*SegmentLogStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &SegmentLogStore{path: path, file: f, writable: false}, nil
}

// Append writes frame with CRC32C enabled, returning the number of bytes
// written (header + payload).
func (s *SegmentLogStore) Append(epoch, logIndex uint64, payload []byte) (uint64, error) {
	return s.appendWithCRC(epoch, logIndex, payload, true)
}

// AppendNoCRC writes frame with the crc-disabled flag set, for the optional
// "CRC-optional log frames" mode (spec's SUPPLEMENTED FEATURES).
func (s *SegmentLogStore) AppendNoCRC(epoch, logIndex uint64, payload []byte) (uint64, error) {
	return s.appendWithCRC(epoch, logIndex, payload, false)
}

func (s *SegmentLogStore) appendWithCRC(epoch, logIndex uint64, payload []byte, withCRC bool) (uint64, error) {
	if !s.writable {
		return 0, fmt.Errorf("replication: cannot append to read-only segment log store")
	}
	if len(payload) > maxFramePayloadLen {
		return 0, fmt.Errorf("replication: frame payload too large: %d bytes", len(payload))
	}

	var flags uint16
	var crc uint32
	if withCRC {
		crc = storage.CRC32C(payload)
	} else {
		flags = frameFlagCRCOff
	}

	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header[0:], frameMagic)
	binary.LittleEndian.PutUint16(header[4:], frameVersion)
	binary.LittleEndian.PutUint16(header[6:], flags)
	binary.LittleEndian.PutUint64(header[8:], epoch)
	binary.LittleEndian.PutUint64(header[16:], logIndex)
	binary.LittleEndian.PutUint32(header[24:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[28:], crc)

	if _, err := s.file.Write(header); err != nil {
		return 0, err
	}
	if _, err := s.file.Write(payload); err != nil {
		return 0, err
	}
	return uint64(frameHeaderSize + len(payload)), nil
}

// Sync flushes the segment to stable storage.
func (s *SegmentLogStore) Sync() error {
	if !s.writable {
		return nil
	}
	return s.file.Sync()
}

// Close closes the underlying file.
func (s *SegmentLogStore) Close() error {
	return s.file.Close()
}

// FileLen returns the segment's current on-disk size.
func (s *SegmentLogStore) FileLen() (uint64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// ReadAllFrames reads every frame in the segment at path from the start.
func ReadAllFrames(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readFrames(f, 0, nil, 0)
}

// ReadFromOffset reads frames starting at byte offset startOffset, filtered
// by include (nil means "take everything"), stopping after maxFrames (0
// means unlimited). It returns the frames read, the byte offset just past
// the last complete frame consumed, and the (epoch, logIndex) of the last
// frame seen (even if filtered out), mirroring read_filtered_from_offset's
// three-part return.
func ReadFromOffset(path string, startOffset uint64, include func(Frame) bool, maxFrames int) ([]Frame, uint64, *CommitToken, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, nil, err
	}
	clamped := startOffset
	if clamped > uint64(info.Size()) {
		clamped = uint64(info.Size())
	}
	if _, err := f.Seek(int64(clamped), io.SeekStart); err != nil {
		return nil, 0, nil, err
	}

	var lastSeen *CommitToken
	frames, consumed, err := readFramesTracking(f, include, maxFrames, &lastSeen)
	if err != nil {
		return nil, 0, nil, err
	}
	return frames, clamped + consumed, lastSeen, nil
}

func readFrames(f *os.File, startOffset uint64, include func(Frame) bool, maxFrames int) ([]Frame, error) {
	if startOffset > 0 {
		if _, err := f.Seek(int64(startOffset), io.SeekStart); err != nil {
			return nil, err
		}
	}
	frames, _, err := readFramesTracking(f, include, maxFrames, nil)
	return frames, err
}

func readFramesTracking(f *os.File, include func(Frame) bool, maxFrames int, lastSeen **CommitToken) ([]Frame, uint64, error) {
	var frames []Frame
	var consumed uint64
	for {
		frame, n, err := readOneFrame(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		consumed += n
		if lastSeen != nil {
			*lastSeen = &CommitToken{Epoch: frame.Epoch, LogIndex: frame.LogIndex}
		}
		if include == nil || include(frame) {
			frames = append(frames, frame)
			if maxFrames > 0 && len(frames) >= maxFrames {
				break
			}
		}
	}
	return frames, consumed, nil
}

func readOneFrame(f *os.File) (Frame, uint64, error) {
	header := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(f, header)
	if err == io.ErrUnexpectedEOF || (err == nil && n < frameHeaderSize) {
		return Frame{}, 0, io.EOF
	}
	if err == io.EOF {
		return Frame{}, 0, io.EOF
	}
	if err != nil {
		return Frame{}, 0, err
	}

	magic := binary.LittleEndian.Uint32(header[0:])
	if magic != frameMagic {
		return Frame{}, 0, &storage.InvalidWALError{Reason: fmt.Sprintf("invalid replication frame magic: %#x", magic)}
	}
	version := binary.LittleEndian.Uint16(header[4:])
	if version != frameVersion {
		return Frame{}, 0, &storage.InvalidWALError{Reason: fmt.Sprintf("unsupported replication frame version %d", version)}
	}
	flags := binary.LittleEndian.Uint16(header[6:])
	if flags & ^frameFlagCRCOff != 0 {
		return Frame{}, 0, &storage.InvalidWALError{Reason: fmt.Sprintf("unsupported replication frame flags %#x", flags)}
	}
	epoch := binary.LittleEndian.Uint64(header[8:])
	logIndex := binary.LittleEndian.Uint64(header[16:])
	payloadLen := binary.LittleEndian.Uint32(header[24:])
	storedCRC := binary.LittleEndian.Uint32(header[28:])

	if payloadLen > maxFramePayloadLen {
		return Frame{}, 0, &storage.InvalidWALError{Reason: fmt.Sprintf("frame payload exceeds limit: %d", payloadLen)}
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(f, payload); err != nil {
		return Frame{}, 0, &storage.InvalidWALError{Reason: "truncated replication frame payload"}
	}

	if flags&frameFlagCRCOff == 0 {
		computed := storage.CRC32C(payload)
		if computed != storedCRC {
			return Frame{}, 0, &storage.CrcMismatchError{Stored: storedCRC, Computed: computed}
		}
	}

	return Frame{Epoch: epoch, LogIndex: logIndex, Payload: payload}, uint64(frameHeaderSize) + uint64(payloadLen), nil
}
