package selftest

import (
	"testing"

	"github.com/openfluke/tensorvk/gpu"
)

func TestReferenceMatmulIdentity(t *testing.T) {
	// 2x2 identity times a 2x2 matrix should return the matrix unchanged.
	identity := []float32{1, 0, 0, 1}
	b := []float32{5, 6, 7, 8}
	got := referenceMatmul(identity, b, 2, 2, 2)
	want := []float32{5, 6, 7, 8}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestCompareWithinTolerance(t *testing.T) {
	got := []float32{1.0001, 2.0002, 3.0}
	want := []float32{1.0, 2.0, 3.0}
	r := compare(got, want, DefaultTolerance())
	if !r.Passed {
		t.Errorf("expected small deviations to pass, got %+v", r)
	}
}

func TestCompareOutOfTolerance(t *testing.T) {
	got := []float32{1.0, 2.0, 100.0}
	want := []float32{1.0, 2.0, 3.0}
	r := compare(got, want, DefaultTolerance())
	if r.Passed {
		t.Errorf("expected a large deviation to fail, got %+v", r)
	}
	if r.BadCount != 1 {
		t.Errorf("expected exactly 1 bad element, got %d", r.BadCount)
	}
}

func TestCompareLengthMismatch(t *testing.T) {
	r := compare([]float32{1, 2}, []float32{1, 2, 3}, DefaultTolerance())
	if r.Passed {
		t.Errorf("expected a length mismatch to fail")
	}
	if r.Message == "" {
		t.Errorf("expected a diagnostic message on length mismatch")
	}
}

func TestF32ToF16RoundTripPasses(t *testing.T) {
	r := F32ToF16RoundTrip(64)
	if !r.Passed {
		t.Errorf("expected f16 round trip to pass tolerance: %+v", r)
	}
}

func TestSummarize(t *testing.T) {
	results := []Result{{Name: "a", Passed: true}, {Name: "b", Passed: false}}
	passed, failed, summary := Summarize(results)
	if passed != 1 || failed != 1 {
		t.Errorf("expected 1 passed, 1 failed, got %d/%d", passed, failed)
	}
	if summary == "" {
		t.Errorf("expected a non-empty summary string")
	}
}

// TestMatmulF32AgainstDevice exercises the full GPU path. It requires a
// real WebGPU-capable device, which is not available in every test
// environment, so it skips rather than fails when device setup fails.
func TestMatmulF32AgainstDevice(t *testing.T) {
	ctx, err := gpu.New(gpu.Defaults())
	if err != nil {
		t.Skipf("no usable GPU device: %v", err)
	}
	defer ctx.Close()

	r := MatmulF32(ctx, 16, 16, 16)
	if !r.Passed {
		t.Errorf("matmul_f32 self-test failed: %+v", r)
	}
}
