package delta

import "testing"

func TestPropValueEncodeDecodeRoundTrip(t *testing.T) {
	cases := []PropValue{
		Null(),
		Bool(true),
		Bool(false),
		Int64(-42),
		Float64(3.5),
		String("hello"),
		Vector([]float32{1, 2, 3.5}),
	}
	for _, v := range cases {
		buf := v.Encode()
		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%v): %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("Decode consumed %d bytes, want %d", n, len(buf))
		}
		if !got.Equal(v) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, v)
		}
	}
}

func TestPropValueDecodeTruncated(t *testing.T) {
	full := Int64(7).Encode()
	for n := 0; n < len(full); n++ {
		if _, _, err := Decode(full[:n]); err == nil {
			t.Fatalf("Decode(%d bytes) of i64 should have failed", n)
		}
	}
}

func TestPropValueEqualAcrossKinds(t *testing.T) {
	if Int64(1).Equal(Float64(1)) {
		t.Fatal("values of different kinds must not compare equal")
	}
	if !Vector([]float32{1, 2}).Equal(Vector([]float32{1, 2})) {
		t.Fatal("equal vectors should compare equal")
	}
	if Vector([]float32{1, 2}).Equal(Vector([]float32{1, 2, 3})) {
		t.Fatal("vectors of different length must not compare equal")
	}
}
