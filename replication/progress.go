package replication

import (
	"os"

	json "github.com/goccy/go-json"
)

// ReplicaProgress is one replica's last-known position, as the primary
// tracks it in replica-progress.json for retention-floor computation (spec
// §4.10: retention must not prune past any registered replica's progress).
type ReplicaProgress struct {
	ReplicaID       string `json:"replica_id"`
	Epoch           uint64 `json:"epoch"`
	AppliedLogIndex uint64 `json:"applied_log_index"`
}

// ProgressStore reads/writes replica-progress.json, a map keyed by replica id.
type ProgressStore struct {
	path string
}

func NewProgressStore(path string) *ProgressStore {
	return &ProgressStore{path: path}
}

func (s *ProgressStore) Load() (map[string]ReplicaProgress, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]ReplicaProgress), nil
	}
	if err != nil {
		return nil, err
	}
	var entries []ReplicaProgress
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	out := make(map[string]ReplicaProgress, len(entries))
	for _, e := range entries {
		out[e.ReplicaID] = e
	}
	return out, nil
}

func (s *ProgressStore) Save(progress map[string]ReplicaProgress) error {
	entries := make([]ReplicaProgress, 0, len(progress))
	for _, p := range progress {
		entries = append(entries, p)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Upsert records replicaID's latest applied position, overwriting any prior
// entry.
func (s *ProgressStore) Upsert(replicaID string, tok CommitToken) error {
	progress, err := s.Load()
	if err != nil {
		return err
	}
	progress[replicaID] = ReplicaProgress{ReplicaID: replicaID, Epoch: tok.Epoch, AppliedLogIndex: tok.LogIndex}
	return s.Save(progress)
}

// Clear removes replicaID's entry entirely (an operator decommissioning a
// replica, so its progress no longer pins the retention floor).
func (s *ProgressStore) Clear(replicaID string) error {
	progress, err := s.Load()
	if err != nil {
		return err
	}
	delete(progress, replicaID)
	return s.Save(progress)
}

// Cursor is a replica's own durable bookmark of what it has applied,
// persisted to replica-cursor.json so a restarted replica resumes from
// where it left off instead of re-bootstrapping.
type Cursor struct {
	Epoch           uint64 `json:"epoch"`
	AppliedLogIndex uint64 `json:"applied_log_index"`
	SegmentOffset   uint64 `json:"segment_offset"`
}

// CursorStore reads/writes replica-cursor.json.
type CursorStore struct {
	path string
}

func NewCursorStore(path string) *CursorStore {
	return &CursorStore{path: path}
}

func (s *CursorStore) Load() (*Cursor, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Cursor{}, nil
	}
	if err != nil {
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CursorStore) Save(c *Cursor) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
