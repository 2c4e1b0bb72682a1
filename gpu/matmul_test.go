package gpu

import (
	"testing"

	"github.com/openfluke/tensorvk/tensor"
)

func TestChooseTile(t *testing.T) {
	cases := []struct{ m, n, k int64; want uint32 }{
		{32, 32, 32, 16},
		{48, 48, 32, 32},
		{256, 256, 256, 64},
		{2048, 2048, 2048, 64},
	}
	for _, c := range cases {
		if got := chooseTile(c.m, c.n, c.k); got != c.want {
			t.Errorf("chooseTile(%d,%d,%d) = %d, want %d", c.m, c.n, c.k, got, c.want)
		}
	}
}

func TestMatmulParamsBytesRoundTrip(t *testing.T) {
	p := MatmulParams{M: 10, N: 20, K: 30, StrideA: 30, StrideB: 20, StrideC: 20, KSplit: 4, KOffset: 8}
	b := p.bytes()
	if len(b) != 32 {
		t.Fatalf("expected 32-byte push constant block, got %d", len(b))
	}
}

func TestCanMulMatRejectsFP16Destination(t *testing.T) {
	a := &tensor.Tensor{Name: "a", Ne: [4]int64{4, 2, 1, 1}}
	b := &tensor.Tensor{Name: "b", Ne: [4]int64{4, 3, 1, 1}}
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F16, Ne: [4]int64{3, 2, 1, 1}}

	err := CanMulMat(a, b, dst)
	if err == nil {
		t.Fatalf("expected an error for an fp16 destination")
	}
	gerr, ok := err.(*Error)
	if !ok || gerr.Kind != KindCapability {
		t.Errorf("expected a KindCapability error, got %v", err)
	}
}

func TestCanMulMatShapeMismatch(t *testing.T) {
	a := &tensor.Tensor{Name: "a", Ne: [4]int64{4, 2, 1, 1}}
	b := &tensor.Tensor{Name: "b", Ne: [4]int64{5, 3, 1, 1}}
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{3, 2, 1, 1}}

	if err := CanMulMat(a, b, dst); err == nil {
		t.Errorf("expected a shape-mismatch error when a.Ne[0] != b.Ne[0]")
	}
}

func TestCanMulMatAccepts(t *testing.T) {
	a := &tensor.Tensor{Name: "a", Ne: [4]int64{32, 2, 1, 1}}
	b := &tensor.Tensor{Name: "b", Ne: [4]int64{32, 32, 1, 1}}
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{32, 2, 1, 1}}

	if err := CanMulMat(a, b, dst); err != nil {
		t.Errorf("expected compatible shapes with minor dims >= 32 to be accepted, got %v", err)
	}
}

func TestCanMulMatRejectsSmallMinorDimWhenOperandZeroIsCPU(t *testing.T) {
	a := &tensor.Tensor{Name: "a", Ne: [4]int64{4, 2, 1, 1}, Backend: tensor.CPU}
	b := &tensor.Tensor{Name: "b", Ne: [4]int64{4, 3, 1, 1}}
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{3, 2, 1, 1}}

	if err := CanMulMat(a, b, dst); err == nil {
		t.Errorf("expected a minor-dim-too-small error when operand 0 is CPU-resident and dims are < 32")
	}
}

func TestCanMulMatAcceptsSmallMinorDimWhenOperandZeroIsGPU(t *testing.T) {
	a := &tensor.Tensor{Name: "a", Ne: [4]int64{4, 2, 1, 1}, Backend: tensor.GPU}
	b := &tensor.Tensor{Name: "b", Ne: [4]int64{4, 3, 1, 1}}
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{3, 2, 1, 1}}

	if err := CanMulMat(a, b, dst); err != nil {
		t.Errorf("expected a GPU-resident operand 0 to bypass the minor-dim gate, got %v", err)
	}
}

func TestCanMulMatRejectsNonF32NonF16Dtype(t *testing.T) {
	a := &tensor.Tensor{Name: "a", Type: tensor.DType(99), Ne: [4]int64{32, 2, 1, 1}}
	b := &tensor.Tensor{Name: "b", Ne: [4]int64{32, 3, 1, 1}}
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{3, 2, 1, 1}}

	if err := CanMulMat(a, b, dst); err == nil {
		t.Errorf("expected an unsupported-dtype error for an unrecognized operand dtype")
	}
}

func TestMatmulVariantLabelUnique(t *testing.T) {
	v1 := MatmulVariant{Tile: 16, XIs16: false, YIs16: false, Aligned: true}
	v2 := MatmulVariant{Tile: 16, XIs16: true, YIs16: false, Aligned: true}
	if v1.matmulLabel() == v2.matmulLabel() {
		t.Errorf("expected distinct variants to produce distinct labels")
	}
}
