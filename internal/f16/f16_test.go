package f16

import (
	"math"
	"testing"
)

func TestRoundTripCommonValues(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, -0.5, 3.14159, 65504, -65504, 1e-4}
	for _, v := range values {
		got := FromFloat32(v).ToFloat32()
		diff := math.Abs(float64(got - v))
		if diff > 0.01*math.Abs(float64(v))+1e-3 {
			t.Errorf("round trip %v -> %v, diff too large (%v)", v, got, diff)
		}
	}
}

func TestZero(t *testing.T) {
	if FromFloat32(0).ToFloat32() != 0 {
		t.Errorf("expected exact zero round trip")
	}
}

func TestInfinity(t *testing.T) {
	b := FromFloat32(float32(math.Inf(1)))
	if !math.IsInf(float64(b.ToFloat32()), 1) {
		t.Errorf("expected +Inf to round trip as +Inf, got %v", b.ToFloat32())
	}
}

func TestEncodeDecodeSlice(t *testing.T) {
	src := []float32{1, 2, 3, 4.5, -6.25}
	encoded := EncodeSlice(src)
	if len(encoded) != len(src)*2 {
		t.Fatalf("expected %d bytes, got %d", len(src)*2, len(encoded))
	}
	decoded := DecodeSlice(encoded)
	if len(decoded) != len(src) {
		t.Fatalf("expected %d values, got %d", len(src), len(decoded))
	}
	for i, v := range src {
		if math.Abs(float64(decoded[i]-v)) > 1e-3 {
			t.Errorf("index %d: expected %v, got %v", i, v, decoded[i])
		}
	}
}
