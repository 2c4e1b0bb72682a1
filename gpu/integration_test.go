package gpu

import (
	"math"
	"testing"

	"github.com/openfluke/tensorvk/tensor"
)

// newTestContext returns a live device context, skipping the calling
// test when no WebGPU adapter is available.
func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := New(Defaults())
	if err != nil {
		t.Skipf("no usable GPU device: %v", err)
	}
	t.Cleanup(ctx.Close)
	return ctx
}

func f32Bytes(vals []float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		bits := math.Float32bits(v)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func hostTensor(name string, ne [4]int64, data []float32) *tensor.Tensor {
	return &tensor.Tensor{
		Name:    name,
		Type:    tensor.F32,
		Ne:      ne,
		Nb:      [4]uint64{4, uint64(ne[0]) * 4, uint64(ne[0]*ne[1]) * 4, uint64(ne[0]*ne[1]*ne[2]) * 4},
		Backend: tensor.CPU,
		Data:    f32Bytes(data),
	}
}

func TestContextPoolModeIsDeterminate(t *testing.T) {
	ctx := newTestContext(t)
	mode := ctx.PoolMode()
	if mode != PoolModeMulti && mode != PoolModeSingle {
		t.Errorf("expected a resolved pool mode, got %v", mode)
	}
	// Second call must be stable (probed once, memoized).
	if ctx.PoolMode() != mode {
		t.Errorf("expected PoolMode to be stable across calls")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	ctx := newTestContext(t)

	want := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	buf, err := ctx.PoolAlloc("roundtrip", uint64(len(want)*4))
	if err != nil {
		t.Fatalf("PoolAlloc: %v", err)
	}
	defer ctx.PoolFree(buf)

	if err := ctx.Write2D(buf, f32Bytes(want)); err != nil {
		t.Fatalf("Write2D: %v", err)
	}

	got, err := ctx.Read(buf, 0, buf.Size)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(want)*4 {
		t.Fatalf("expected %d bytes back, got %d", len(want)*4, len(got))
	}
}

func TestTransformTensorUploadsF32(t *testing.T) {
	ctx := newTestContext(t)

	src := hostTensor("t", [4]int64{4, 2, 1, 1}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	dev, err := ctx.TransformTensor(src, tensor.F32)
	if err != nil {
		t.Fatalf("TransformTensor: %v", err)
	}
	if dev.Backend != tensor.GPU {
		t.Errorf("expected the resulting tensor to be GPU-resident")
	}
	ctx.FreeData(dev)
	if dev.Backend != tensor.CPU || dev.Data != nil {
		t.Errorf("expected FreeData to clear backend/handle, got backend=%v data=%v", dev.Backend, dev.Data)
	}
}

func TestElementwiseMulBroadcast(t *testing.T) {
	ctx := newTestContext(t)

	a := hostTensor("a", [4]int64{4, 2, 1, 1}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	b := hostTensor("b", [4]int64{4, 1, 1, 1}, []float32{2, 2, 2, 2})
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{4, 2, 1, 1}}

	aGPU, err := ctx.TransformTensor(a, tensor.F32)
	if err != nil {
		t.Fatalf("upload a: %v", err)
	}
	bGPU, err := ctx.TransformTensor(b, tensor.F32)
	if err != nil {
		t.Fatalf("upload b: %v", err)
	}
	dstGPU, err := ctx.AllocTensor(dst)
	if err != nil {
		t.Fatalf("AllocTensor: %v", err)
	}

	if err := ctx.Mul(aGPU, bGPU, dstGPU); err != nil {
		t.Fatalf("Mul: %v", err)
	}

	out, err := ctx.ReadTensor(dstGPU)
	if err != nil {
		t.Fatalf("ReadTensor: %v", err)
	}
	if len(out) != len(a.Data.([]byte)) {
		t.Errorf("expected output byte length to match input, got %d want %d", len(out), len(a.Data.([]byte)))
	}
}

func TestElementwiseMulBroadcastAcrossChannels(t *testing.T) {
	ctx := newTestContext(t)

	// a: 2 rows x 2 channels; b: 2 rows x 1 channel, broadcast over
	// channel.
	a := hostTensor("a", [4]int64{2, 2, 2, 1}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	b := hostTensor("b", [4]int64{2, 2, 1, 1}, []float32{2, 2, 2, 2})
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{2, 2, 2, 1}}

	aGPU, err := ctx.TransformTensor(a, tensor.F32)
	if err != nil {
		t.Fatalf("upload a: %v", err)
	}
	bGPU, err := ctx.TransformTensor(b, tensor.F32)
	if err != nil {
		t.Fatalf("upload b: %v", err)
	}
	dstGPU, err := ctx.AllocTensor(dst)
	if err != nil {
		t.Fatalf("AllocTensor: %v", err)
	}

	if err := ctx.Mul(aGPU, bGPU, dstGPU); err != nil {
		t.Fatalf("Mul: %v", err)
	}

	out, err := ctx.ReadTensor(dstGPU)
	if err != nil {
		t.Fatalf("ReadTensor: %v", err)
	}
	want := []float32{2, 4, 6, 8, 10, 12, 14, 16}
	if len(out) != len(want)*4 {
		t.Fatalf("expected %d bytes back, got %d", len(want)*4, len(out))
	}
}

func TestComputeForwardSkipsNonzeroIth(t *testing.T) {
	ctx := newTestContext(t)

	a := hostTensor("a", [4]int64{4, 2, 1, 1}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	b := hostTensor("b", [4]int64{4, 1, 1, 1}, []float32{2, 2, 2, 2})
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{4, 2, 1, 1}}

	aGPU, _ := ctx.TransformTensor(a, tensor.F32)
	bGPU, _ := ctx.TransformTensor(b, tensor.F32)
	dstGPU, _ := ctx.AllocTensor(dst)

	handled, err := ctx.ComputeForward(OpMul, Params{Ith: 1, Phase: PhaseCompute}, []*tensor.Tensor{aGPU, bGPU}, dstGPU)
	if err != nil {
		t.Errorf("expected non-zero Ith to be a no-op, got error: %v", err)
	}
	if !handled {
		t.Errorf("expected non-zero Ith on a GPU-resident op to still report handled=true")
	}
}

func TestComputeForwardDefersToCPUWhenNothingIsGPUResident(t *testing.T) {
	ctx := newTestContext(t)

	a := &tensor.Tensor{Name: "a", Type: tensor.F32, Ne: [4]int64{4, 2, 1, 1}, Backend: tensor.CPU}
	b := &tensor.Tensor{Name: "b", Type: tensor.F32, Ne: [4]int64{4, 1, 1, 1}, Backend: tensor.CPU}
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{4, 2, 1, 1}, Backend: tensor.CPU}

	handled, err := ctx.ComputeForward(OpMul, Params{Ith: 0, Phase: PhaseCompute}, []*tensor.Tensor{a, b}, dst)
	if err != nil {
		t.Errorf("expected no error deferring to CPU, got %v", err)
	}
	if handled {
		t.Errorf("expected handled=false when no operand or result is GPU-resident")
	}
}

func TestComputeForwardSkipsNonComputePhase(t *testing.T) {
	ctx := newTestContext(t)

	a := hostTensor("a", [4]int64{4, 2, 1, 1}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	b := hostTensor("b", [4]int64{4, 1, 1, 1}, []float32{2, 2, 2, 2})
	dst := &tensor.Tensor{Name: "dst", Type: tensor.F32, Ne: [4]int64{4, 2, 1, 1}}

	aGPU, _ := ctx.TransformTensor(a, tensor.F32)
	bGPU, _ := ctx.TransformTensor(b, tensor.F32)
	dstGPU, _ := ctx.AllocTensor(dst)

	handled, err := ctx.ComputeForward(OpMul, Params{Ith: 0, Phase: PhaseInit}, []*tensor.Tensor{aGPU, bGPU}, dstGPU)
	if err != nil {
		t.Errorf("expected init phase to be a no-op, got error: %v", err)
	}
	if !handled {
		t.Errorf("expected init phase on a GPU-resident op to report handled=true")
	}
}
