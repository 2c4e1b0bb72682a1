// Package selftest is the self-test harness: CPU reference kernels
// plus tolerance checking, used to validate the GPU backend's
// numerical output against a known-good implementation.
package selftest

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/openfluke/tensorvk/gpu"
	"github.com/openfluke/tensorvk/internal/f16"
	"github.com/openfluke/tensorvk/tensor"
)

// ToleranceConfig bounds an acceptable per-element error (relative +
// absolute), plus a cap on how many mismatching elements are tolerated
// before a case is a hard failure.
type ToleranceConfig struct {
	AbsTol      float64
	RelTol      float64
	MaxBadRatio float64
}

// DefaultTolerance is the f32 matmul bound: an element counts as bad
// when its absolute error exceeds 1e-5 and its relative error exceeds
// 1e-3, and a case passes when at most 1% of its elements are bad. The
// mean relative error is reported in Result but does not decide
// pass/fail. f16 cases get a looser bound (DefaultToleranceF16) to
// account for the halved mantissa.
func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{AbsTol: 1e-5, RelTol: 1e-3, MaxBadRatio: 0.01}
}

func DefaultToleranceF16() ToleranceConfig {
	return ToleranceConfig{AbsTol: 1e-2, RelTol: 5e-2, MaxBadRatio: 0.02}
}

// Result is one scenario's outcome, dumped to JSON via goccy/go-json
// callers (cmd/vkselftest) the same way detector.Report is.
type Result struct {
	Name       string  `json:"name"`
	Passed     bool    `json:"passed"`
	MaxAbsErr  float64 `json:"max_abs_err"`
	MeanRelErr float64 `json:"mean_rel_err"`
	BadCount   int     `json:"bad_count"`
	Elements   int     `json:"elements"`
	Message    string  `json:"message,omitempty"`
}

// referenceMatmul computes dst[M,N] = a[M,K] * b[K,N]^T on the CPU in
// float64 accumulation, the same row-major convention gpu.Matmul uses,
// as the ground truth self-test scenarios compare GPU output against.
func referenceMatmul(a, b []float32, m, n, k int) []float32 {
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var acc float64
			for kk := 0; kk < k; kk++ {
				acc += float64(a[i*k+kk]) * float64(b[kk*n+j])
			}
			out[i*n+j] = float32(acc)
		}
	}
	return out
}

// compare checks got against want element by element under tol,
// counting how many elements exceed the relative-error bound.
func compare(got, want []float32, tol ToleranceConfig) Result {
	r := Result{Elements: len(want)}
	if len(got) != len(want) {
		r.Message = fmt.Sprintf("length mismatch: got %d want %d", len(got), len(want))
		return r
	}
	var sumRel float64
	for i := range want {
		diff := math.Abs(float64(got[i] - want[i]))
		if diff > r.MaxAbsErr {
			r.MaxAbsErr = diff
		}
		denom := math.Abs(float64(want[i]))
		if denom < tol.AbsTol {
			denom = tol.AbsTol
		}
		rel := diff / denom
		sumRel += rel
		if diff > tol.AbsTol && rel > tol.RelTol {
			r.BadCount++
		}
	}
	if len(want) > 0 {
		r.MeanRelErr = sumRel / float64(len(want))
	}
	r.Passed = float64(r.BadCount) <= tol.MaxBadRatio*float64(len(want))
	return r
}

// MatmulF32 checks matmul_f32 against the CPU reference at the given
// size: build random operands, upload, dispatch through the real
// orchestrator (exercising split-K automatically per Context.Matmul's
// own M/N/K heuristic), and compare to the float64-accumulated CPU
// reference.
func MatmulF32(ctx *gpu.Context, m, n, k int) Result {
	name := fmt.Sprintf("matmul_f32 m=%d n=%d k=%d", m, n, k)
	rng := rand.New(rand.NewSource(int64(m*1_000_003 + n*97 + k)))

	aData := randomF32(rng, m*k)
	bData := randomF32(rng, k*n)

	a := hostTensor("a", tensor.F32, k, m, f32Bytes(aData))
	b := hostTensor("b", tensor.F32, n, k, f32Bytes(bData))

	aGPU, err := ctx.TransformTensor(a, tensor.F32)
	if err != nil {
		return Result{Name: name, Message: err.Error()}
	}
	bGPU, err := ctx.TransformTensor(b, tensor.F32)
	if err != nil {
		return Result{Name: name, Message: err.Error()}
	}
	dst := deviceTensor("dst", tensor.F32, n, m)
	dstGPU, err := ctx.AllocTensor(dst)
	if err != nil {
		return Result{Name: name, Message: err.Error()}
	}

	if err := ctx.Matmul(aGPU, bGPU, dstGPU); err != nil {
		return Result{Name: name, Message: err.Error()}
	}

	rawOut, err := ctx.ReadTensor(dstGPU)
	if err != nil {
		return Result{Name: name, Message: err.Error()}
	}
	got := f32FromBytes(rawOut)
	want := referenceMatmul(aData, bData, m, n, k)

	r := compare(got, want, DefaultTolerance())
	r.Name = name

	ctx.FreeData(aGPU)
	ctx.FreeData(bGPU)
	ctx.FreeData(dstGPU)
	return r
}

// F32ToF16RoundTrip encodes/decodes n random values through internal/f16
// and asserts the error stays within the halved-mantissa tolerance,
// without touching the GPU at all — the conversion is host-side.
func F32ToF16RoundTrip(n int) Result {
	name := fmt.Sprintf("f32_to_f16 n=%d", n)
	rng := rand.New(rand.NewSource(int64(n) + 7))
	src := randomF32(rng, n)

	encoded := f16.EncodeSlice(src)
	decoded := f16.DecodeSlice(encoded)

	r := compare(decoded, src, DefaultToleranceF16())
	r.Name = name
	return r
}

// PoolFitReuse checks the pool-fit reuse property: freeing a buffer
// then allocating a smaller size must return the exact same buffer
// without a fresh device allocation.
func PoolFitReuse(ctx *gpu.Context, size uint64) Result {
	name := fmt.Sprintf("pool_fit_reuse size=%d", size)
	buf, err := ctx.PoolAlloc("selftest_pool", size)
	if err != nil {
		return Result{Name: name, Message: err.Error()}
	}
	ctx.PoolFree(buf)

	reused, err := ctx.PoolAlloc("selftest_pool_reuse", size/2+1)
	if err != nil {
		return Result{Name: name, Message: err.Error()}
	}
	defer ctx.PoolFree(reused)

	passed := reused == buf
	msg := ""
	if !passed {
		msg = "pool did not reuse the freed buffer for a smaller request"
	}
	return Result{Name: name, Passed: passed, Elements: 1, Message: msg}
}

func randomF32(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func f32Bytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func f32FromBytes(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func hostTensor(name string, dt tensor.DType, ne0, ne1 int, data []byte) *tensor.Tensor {
	return &tensor.Tensor{
		Name:    name,
		Type:    dt,
		Ne:      [4]int64{int64(ne0), int64(ne1), 1, 1},
		Nb:      [4]uint64{uint64(dt.TypeSize()), uint64(ne0 * dt.TypeSize()), uint64(ne0 * ne1 * dt.TypeSize()), uint64(ne0 * ne1 * dt.TypeSize())},
		Backend: tensor.CPU,
		Data:    data,
	}
}

func deviceTensor(name string, dt tensor.DType, ne0, ne1 int) *tensor.Tensor {
	return &tensor.Tensor{
		Name: name,
		Type: dt,
		Ne:   [4]int64{int64(ne0), int64(ne1), 1, 1},
		Nb:   [4]uint64{uint64(dt.TypeSize()), uint64(ne0 * dt.TypeSize()), uint64(ne0 * ne1 * dt.TypeSize()), uint64(ne0 * ne1 * dt.TypeSize())},
	}
}
