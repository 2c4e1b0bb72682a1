package tensor

import "testing"

func TestNElementsAndNrows(t *testing.T) {
	tn := &Tensor{Type: F32, Ne: [4]int64{4, 3, 2, 1}}
	if tn.NElements() != 24 {
		t.Errorf("expected 24 elements, got %d", tn.NElements())
	}
	if tn.Nrows() != 6 {
		t.Errorf("expected 6 rows, got %d", tn.Nrows())
	}
}

func TestNBytesF32(t *testing.T) {
	tn := &Tensor{Type: F32, Ne: [4]int64{4, 3, 1, 1}}
	if got := tn.NBytes(); got != 4*3*4 {
		t.Errorf("expected %d bytes, got %d", 4*3*4, got)
	}
}

func TestNBytesQ4_0(t *testing.T) {
	// one row of 32 elements is exactly one q4_0 block: 18 bytes.
	tn := &Tensor{Type: Q4_0, Ne: [4]int64{32, 2, 1, 1}}
	if got := tn.NBytes(); got != 18*2 {
		t.Errorf("expected %d bytes, got %d", 18*2, got)
	}
}

func TestIsContiguous(t *testing.T) {
	tn := &Tensor{
		Type: F32,
		Ne:   [4]int64{4, 3, 1, 1},
		Nb:   [4]uint64{4, 16, 48, 48},
	}
	if !tn.IsContiguous() {
		t.Errorf("expected packed layout to be contiguous")
	}

	tn.Nb[1] = 32
	if tn.IsContiguous() {
		t.Errorf("expected padded row stride to be non-contiguous")
	}
}

func TestGPUHandleNilForCPU(t *testing.T) {
	tn := &Tensor{Backend: CPU}
	if tn.GPUHandle() != nil {
		t.Errorf("expected nil handle for a CPU-resident tensor")
	}
}

func TestDTypeStrings(t *testing.T) {
	cases := map[DType]string{F32: "f32", F16: "f16", Q4_0: "q4_0"}
	for dt, want := range cases {
		if dt.String() != want {
			t.Errorf("DType(%d).String() = %q, want %q", dt, dt.String(), want)
		}
	}
}
