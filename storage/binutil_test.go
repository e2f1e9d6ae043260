package storage

import "testing"

func TestCRC32CDeterministic(t *testing.T) {
	a := CRC32C([]byte("hello world"))
	b := CRC32C([]byte("hello world"))
	if a != b {
		t.Fatalf("expected CRC32C to be deterministic, got %#x and %#x", a, b)
	}
	if CRC32C([]byte("hello worlD")) == a {
		t.Fatal("expected a single-byte change to change the checksum")
	}
}

func TestCRC32CUpdateMatchesConcatenation(t *testing.T) {
	whole := CRC32C([]byte("hello world"))
	split := CRC32C([]byte("hello "))
	split = CRC32CUpdate(split, []byte("world"))
	if whole != split {
		t.Fatalf("incremental CRC32CUpdate should match a single-shot checksum: got %#x want %#x", split, whole)
	}
}

func TestHashKeyDeterministicAndDistinct(t *testing.T) {
	if HashKey("a") != HashKey("a") {
		t.Fatal("expected HashKey to be deterministic for the same input")
	}
	if HashKey("a") == HashKey("b") {
		t.Fatal("expected different keys to hash differently (not a proof, but a sanity check)")
	}
}
