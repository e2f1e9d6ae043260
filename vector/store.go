// Package vector implements KiteDB's per-property-key vector stores: a
// dense f32 arena with bidirectional nodeId<->vectorId maps, dimension
// enforcement, and optional insert-time normalization (spec §4.9).
package vector

import (
	"fmt"
	"math"
)

// Store holds every vector for one property key.
type Store struct {
	dim        int
	normalize  bool
	data       [][]float32
	nodeToVec  map[uint64]int
	vecToNode  []uint64
	tombstoned []bool
}

// NewStore creates an empty store. dim is fixed by the first insert if 0.
func NewStore(normalize bool) *Store {
	return &Store{
		normalize: normalize,
		nodeToVec: make(map[uint64]int),
	}
}

// Dim returns the store's fixed dimension, or 0 if no vector has been
// inserted yet.
func (s *Store) Dim() int { return s.dim }

// Validate checks a candidate vector against the store's dimension
// invariant and the NaN/inf/all-zero rules (spec §4.9, boundary behaviors
// §8).
func (s *Store) Validate(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("vector: empty vector")
	}
	if s.dim != 0 && len(vec) != s.dim {
		return fmt.Errorf("vector: dimension mismatch: expected %d, got %d", s.dim, len(vec))
	}
	allZero := true
	for _, f := range vec {
		if math.IsNaN(float64(f)) {
			return fmt.Errorf("vector: NaN component")
		}
		if math.IsInf(float64(f), 0) {
			return fmt.Errorf("vector: infinite component")
		}
		if f != 0 {
			allZero = false
		}
	}
	if allZero && s.normalize {
		return fmt.Errorf("vector: all-zero vector cannot be normalized")
	}
	return nil
}

// Normalize returns a unit-length copy of vec under L2 norm, or vec itself
// unchanged if normalization is not configured.
func (s *Store) Normalize(vec []float32) []float32 {
	if !s.normalize {
		return vec
	}
	var sumSq float64
	for _, f := range vec {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, f := range vec {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// Set inserts or replaces the vector for nodeID, validating and
// normalizing per the store's configuration. The first insert into an
// empty store fixes the store's dimension.
func (s *Store) Set(nodeID uint64, vec []float32) error {
	if err := s.Validate(vec); err != nil {
		return err
	}
	if s.dim == 0 {
		s.dim = len(vec)
	}
	stored := s.Normalize(vec)

	if idx, ok := s.nodeToVec[nodeID]; ok {
		s.data[idx] = stored
		s.tombstoned[idx] = false
		return nil
	}

	idx := len(s.data)
	s.data = append(s.data, stored)
	s.vecToNode = append(s.vecToNode, nodeID)
	s.tombstoned = append(s.tombstoned, false)
	s.nodeToVec[nodeID] = idx
	return nil
}

// Get returns the current vector for nodeID, or false if absent/tombstoned.
func (s *Store) Get(nodeID uint64) ([]float32, bool) {
	idx, ok := s.nodeToVec[nodeID]
	if !ok || s.tombstoned[idx] {
		return nil, false
	}
	return s.data[idx], true
}

// Delete tombstones nodeID's vector, if present. Returns false if it was
// already absent.
func (s *Store) Delete(nodeID uint64) bool {
	idx, ok := s.nodeToVec[nodeID]
	if !ok || s.tombstoned[idx] {
		return false
	}
	s.tombstoned[idx] = true
	delete(s.nodeToVec, nodeID)
	return true
}

// Len returns the number of live (non-tombstoned) vectors.
func (s *Store) Len() int {
	n := 0
	for _, t := range s.tombstoned {
		if !t {
			n++
		}
	}
	return n
}

// Each iterates live (nodeID, vector) pairs in vectorId order, the order
// the snapshot writer uses when serializing a per-prop-key vector section.
func (s *Store) Each(fn func(nodeID uint64, vec []float32)) {
	for idx, node := range s.vecToNode {
		if s.tombstoned[idx] {
			continue
		}
		fn(node, s.data[idx])
	}
}

// Stores indexes a Store per schema prop-key id.
type Stores struct {
	byPropKey map[uint32]*Store
	normalize bool
}

// NewStores creates an empty per-prop-key vector store table.
func NewStores(normalize bool) *Stores {
	return &Stores{byPropKey: make(map[uint32]*Store), normalize: normalize}
}

// StoreFor returns (creating if needed) the Store for propKey.
func (s *Stores) StoreFor(propKey uint32) *Store {
	st, ok := s.byPropKey[propKey]
	if !ok {
		st = NewStore(s.normalize)
		s.byPropKey[propKey] = st
	}
	return st
}

// Get looks up propKey's store without creating it.
func (s *Stores) Get(propKey uint32) (*Store, bool) {
	st, ok := s.byPropKey[propKey]
	return st, ok
}

// PropKeys returns every prop key with a non-empty store, for snapshot
// serialization.
func (s *Stores) PropKeys() []uint32 {
	keys := make([]uint32, 0, len(s.byPropKey))
	for k, st := range s.byPropKey {
		if st.Len() > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}
