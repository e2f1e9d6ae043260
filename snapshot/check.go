package snapshot

import "fmt"

// CheckError reports one invariant violation found by Check or QuickCheck.
type CheckError struct {
	Invariant string
	Detail    string
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("snapshot: invariant %s violated: %s", e.Invariant, e.Detail)
}

// QuickCheck runs the cheap structural checks only: array-length agreement
// and offset monotonicity. It's meant to run on every snapshot load; Check
// additionally walks every edge and key-bucket entry and is meant for
// maintenance tooling (spec §4.4's quick_check/check_snapshot split).
func (s *Snapshot) QuickCheck() error {
	if len(s.OutOffsets) != int(s.NumNodes)+1 {
		return &CheckError{"I1-offsets-len", fmt.Sprintf("OutOffsets has %d entries, want %d", len(s.OutOffsets), s.NumNodes+1)}
	}
	if len(s.InOffsets) != int(s.NumNodes)+1 {
		return &CheckError{"I1-offsets-len", fmt.Sprintf("InOffsets has %d entries, want %d", len(s.InOffsets), s.NumNodes+1)}
	}
	if len(s.PhysToNodeId) != int(s.NumNodes) {
		return &CheckError{"I2-phys-len", fmt.Sprintf("PhysToNodeId has %d entries, want %d", len(s.PhysToNodeId), s.NumNodes)}
	}
	for i := 1; i < len(s.OutOffsets); i++ {
		if s.OutOffsets[i] < s.OutOffsets[i-1] {
			return &CheckError{"I3-offsets-monotonic", fmt.Sprintf("OutOffsets[%d]=%d < OutOffsets[%d]=%d", i, s.OutOffsets[i], i-1, s.OutOffsets[i-1])}
		}
	}
	for i := 1; i < len(s.InOffsets); i++ {
		if s.InOffsets[i] < s.InOffsets[i-1] {
			return &CheckError{"I3-offsets-monotonic", fmt.Sprintf("InOffsets[%d]=%d < InOffsets[%d]=%d", i, s.InOffsets[i], i-1, s.InOffsets[i-1])}
		}
	}
	if len(s.OutOffsets) > 0 && s.OutOffsets[len(s.OutOffsets)-1] != uint32(len(s.OutDst)) {
		return &CheckError{"I1-offsets-len", "OutOffsets tail does not match len(OutDst)"}
	}
	if len(s.InOffsets) > 0 && s.InOffsets[len(s.InOffsets)-1] != uint32(len(s.InSrc)) {
		return &CheckError{"I1-offsets-len", "InOffsets tail does not match len(InSrc)"}
	}
	return nil
}

// Check runs the full invariant suite (spec §4.3's seven checkable
// invariants): structural agreement, the PhysToNodeId/NodeIdToPhys
// bijection, per-node out-edge sort/dedup order, in/out edge mirroring via
// InOutIndex, key-index bucket placement, string-table bounds, and
// vector-section dimension consistency.
func (s *Snapshot) Check() error {
	if err := s.QuickCheck(); err != nil {
		return err
	}

	// I2: PhysToNodeId / NodeIdToPhys form a bijection over live nodes.
	seen := make(map[uint64]bool, len(s.PhysToNodeId))
	for phys, id := range s.PhysToNodeId {
		if seen[id] {
			return &CheckError{"I2-bijection", fmt.Sprintf("node id %d appears twice in PhysToNodeId", id)}
		}
		seen[id] = true
		if int(id) >= len(s.NodeIdToPhys) {
			return &CheckError{"I2-bijection", fmt.Sprintf("node id %d exceeds NodeIdToPhys bounds", id)}
		}
		if s.NodeIdToPhys[id] != int64(phys) {
			return &CheckError{"I2-bijection", fmt.Sprintf("NodeIdToPhys[%d]=%d, want %d", id, s.NodeIdToPhys[id], phys)}
		}
	}
	for id, phys := range s.NodeIdToPhys {
		if phys < 0 {
			continue
		}
		if int(phys) >= len(s.PhysToNodeId) || s.PhysToNodeId[phys] != uint64(id) {
			return &CheckError{"I2-bijection", fmt.Sprintf("NodeIdToPhys[%d]=%d does not round-trip", id, phys)}
		}
	}

	// I4: each node's out-edges are sorted by (etype, dst) with no dups.
	for phys := 0; phys < int(s.NumNodes); phys++ {
		start, end := s.OutOffsets[phys], s.OutOffsets[phys+1]
		for i := start + 1; i < end; i++ {
			prevKey := [2]uint64{uint64(s.OutEtype[i-1]), s.OutDst[i-1]}
			curKey := [2]uint64{uint64(s.OutEtype[i]), s.OutDst[i]}
			if curKey[0] < prevKey[0] || (curKey[0] == prevKey[0] && curKey[1] <= prevKey[1]) {
				return &CheckError{"I4-out-sorted", fmt.Sprintf("out-edges for phys %d unsorted or duplicated at position %d", phys, i)}
			}
		}
		for i := start; i < end; i++ {
			if s.OutDst[i] >= uint64(len(s.NodeIdToPhys)) || s.NodeIdToPhys[s.OutDst[i]] < 0 {
				return &CheckError{"I4-out-dst-live", fmt.Sprintf("out-edge at position %d targets dead node %d", i, s.OutDst[i])}
			}
		}
	}

	// I5: InOutIndex correctly mirrors the owning out-edge.
	for phys := 0; phys < int(s.NumNodes); phys++ {
		dstID := s.PhysToNodeId[phys]
		start, end := s.InOffsets[phys], s.InOffsets[phys+1]
		for i := start; i < end; i++ {
			outPos := s.InOutIndex[i]
			if int(outPos) >= len(s.OutDst) {
				return &CheckError{"I5-in-out-index", fmt.Sprintf("InOutIndex[%d]=%d out of range", i, outPos)}
			}
			if s.OutDst[outPos] != dstID || s.OutEtype[outPos] != s.InEtype[i] {
				return &CheckError{"I5-in-out-index", fmt.Sprintf("InOutIndex[%d] does not point back to a matching out-edge", i)}
			}
		}
	}

	// I6: key-index entries live in the bucket their hash maps to.
	nb := s.NumBuckets()
	if nb > 0 {
		for b := 0; b < nb; b++ {
			start, end := s.KeyBuckets[b], s.KeyBuckets[b+1]
			for i := start; i < end; i++ {
				if s.KeyEntries[i].Hash%uint64(nb) != uint64(b) {
					return &CheckError{"I6-key-bucket", fmt.Sprintf("key entry %d misplaced in bucket %d", i, b)}
				}
			}
		}
	}

	// I7: string offsets are monotonic and stay within StringBytes.
	for i := 1; i < len(s.StringOffsets); i++ {
		if s.StringOffsets[i] < s.StringOffsets[i-1] {
			return &CheckError{"I7-string-offsets", fmt.Sprintf("StringOffsets[%d]=%d < StringOffsets[%d]=%d", i, s.StringOffsets[i], i-1, s.StringOffsets[i-1])}
		}
		if s.StringOffsets[i] > uint32(len(s.StringBytes)) {
			return &CheckError{"I7-string-offsets", fmt.Sprintf("StringOffsets[%d]=%d exceeds StringBytes length %d", i, s.StringOffsets[i], len(s.StringBytes))}
		}
	}

	// I8: every vector section's Data length matches Dim*len(NodeIDs).
	for propKey, sec := range s.VectorSections {
		if uint64(len(sec.Data)) != uint64(sec.Dim)*uint64(len(sec.NodeIDs)) {
			return &CheckError{"I8-vector-shape", fmt.Sprintf("prop key %d: Data length %d does not match Dim(%d)*NodeIDs(%d)", propKey, len(sec.Data), sec.Dim, len(sec.NodeIDs))}
		}
	}

	return nil
}
