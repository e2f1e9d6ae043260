package vector

import (
	"math"
	"testing"
)

func TestStoreSetGetRoundTrip(t *testing.T) {
	s := NewStore(false)
	if err := s.Set(1, []float32{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := s.Get(1)
	if !ok {
		t.Fatal("expected vector to be present after Set")
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected vector: %v", got)
	}
	if s.Dim() != 3 {
		t.Fatalf("expected dim fixed to 3, got %d", s.Dim())
	}
}

func TestStoreDimensionMismatchRejected(t *testing.T) {
	s := NewStore(false)
	if err := s.Set(1, []float32{1, 2}); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	if err := s.Set(2, []float32{1, 2, 3}); err == nil {
		t.Fatal("expected a dimension mismatch error on the second insert")
	}
}

func TestStoreRejectsNaNAndInf(t *testing.T) {
	s := NewStore(false)
	if err := s.Set(1, []float32{float32(nan())}); err == nil {
		t.Fatal("expected NaN component to be rejected")
	}
	if err := s.Set(2, []float32{float32(math.Inf(1))}); err == nil {
		t.Fatal("expected infinite component to be rejected")
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestStoreNormalizeUnitLength(t *testing.T) {
	s := NewStore(true)
	if err := s.Set(1, []float32{3, 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.Get(1)
	var sumSq float64
	for _, f := range got {
		sumSq += float64(f) * float64(f)
	}
	if diff := sumSq - 1.0; diff > 1e-4 || diff < -1e-4 {
		t.Fatalf("expected unit-length vector, got squared norm %f", sumSq)
	}
}

func TestStoreNormalizeRejectsAllZero(t *testing.T) {
	s := NewStore(true)
	if err := s.Set(1, []float32{0, 0, 0}); err == nil {
		t.Fatal("expected all-zero vector to be rejected when normalize is enabled")
	}
}

func TestStoreDeleteTombstones(t *testing.T) {
	s := NewStore(false)
	s.Set(1, []float32{1, 2})
	if !s.Delete(1) {
		t.Fatal("expected Delete to report success for a present vector")
	}
	if _, ok := s.Get(1); ok {
		t.Fatal("expected Get to report absent after Delete")
	}
	if s.Delete(1) {
		t.Fatal("expected a second Delete of the same node to report false")
	}
}

func TestStoreLenExcludesTombstoned(t *testing.T) {
	s := NewStore(false)
	s.Set(1, []float32{1})
	s.Set(2, []float32{2})
	s.Delete(1)
	if s.Len() != 1 {
		t.Fatalf("expected Len to exclude tombstoned entries, got %d", s.Len())
	}
}

func TestStoresStoreForCreatesOnDemand(t *testing.T) {
	stores := NewStores(false)
	if _, ok := stores.Get(5); ok {
		t.Fatal("expected no store for an unused prop key")
	}
	st := stores.StoreFor(5)
	st.Set(1, []float32{1, 2})
	if st2, ok := stores.Get(5); !ok || st2 != st {
		t.Fatal("expected StoreFor to have registered the store under its prop key")
	}
	keys := stores.PropKeys()
	if len(keys) != 1 || keys[0] != 5 {
		t.Fatalf("expected PropKeys to report [5], got %v", keys)
	}
}
