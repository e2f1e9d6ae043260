package replication

import (
	"os"

	json "github.com/goccy/go-json"
)

const manifestEnvelopeVersion = 1

// SegmentMeta describes one .rlog segment's logical index range and size.
type SegmentMeta struct {
	ID            uint64 `json:"id"`
	StartLogIndex uint64 `json:"start_log_index"`
	EndLogIndex   uint64 `json:"end_log_index"`
	SizeBytes     uint64 `json:"size_bytes"`
}

// Manifest is the sidecar's manifest.json: the primary's authoritative view
// of its own replication state (spec §4.10).
type Manifest struct {
	Version          int           `json:"version"`
	Epoch            uint64        `json:"epoch"`
	HeadLogIndex     uint64        `json:"head_log_index"`
	RetainedFloor    uint64        `json:"retained_floor"`
	ActiveSegmentID  uint64        `json:"active_segment_id"`
	Segments         []SegmentMeta `json:"segments"`
}

// NewManifest returns the manifest written the first time a sidecar
// directory is initialized: epoch 1, one empty active segment.
func NewManifest() *Manifest {
	return &Manifest{
		Version:         manifestEnvelopeVersion,
		Epoch:           1,
		ActiveSegmentID: 1,
		Segments: []SegmentMeta{
			{ID: 1, StartLogIndex: 1, EndLogIndex: 0, SizeBytes: 0},
		},
	}
}

// ActiveSegment returns the segment entry matching ActiveSegmentID,
// creating and appending one if somehow missing (defensive against a
// manifest hand-edited by an operator).
func (m *Manifest) ActiveSegment() *SegmentMeta {
	for i := range m.Segments {
		if m.Segments[i].ID == m.ActiveSegmentID {
			return &m.Segments[i]
		}
	}
	seg := SegmentMeta{ID: m.ActiveSegmentID, StartLogIndex: m.HeadLogIndex + 1}
	m.Segments = append(m.Segments, seg)
	return &m.Segments[len(m.Segments)-1]
}

// ManifestStore reads/writes manifest.json at a fixed path.
type ManifestStore struct {
	path string
}

// NewManifestStore returns a store bound to path.
func NewManifestStore(path string) *ManifestStore {
	return &ManifestStore{path: path}
}

func (s *ManifestStore) Path() string { return s.path }

// Exists reports whether manifest.json has ever been written.
func (s *ManifestStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read loads and parses manifest.json.
func (s *ManifestStore) Read() (*Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Write serializes m to manifest.json, replacing any prior contents via a
// write-to-temp-then-rename to avoid torn reads from a concurrently
// starting replica.
func (s *ManifestStore) Write(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
