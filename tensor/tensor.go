// Package tensor describes the tensor schema this backend consumes:
// shape, strides, element type and backend tag are exactly what a
// graph node hands the compute backend at dispatch time. Nothing in
// this package runs on the GPU; it is the shallow interface layer the
// core (package gpu) is written against.
package tensor

import "fmt"

// DType is the element type of a Tensor.
type DType int

const (
	F32 DType = iota
	F16
	Q4_0
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case Q4_0:
		return "q4_0"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// TypeSize returns the byte size of one element for non-block types,
// and the byte size of one block for block-quantized types.
func (d DType) TypeSize() int {
	switch d {
	case F32:
		return 4
	case F16:
		return 2
	case Q4_0:
		return 18 // 32 x 4-bit nibbles (16 bytes) + 1 f16 scale, ggml's block layout
	default:
		return 0
	}
}

// BlockSize returns the number of elements packed into one block. For
// non-quantized types this is 1.
func (d DType) BlockSize() int {
	if d == Q4_0 {
		return 32
	}
	return 1
}

// Backend tags where a Tensor's data actually lives.
type Backend int

const (
	CPU Backend = iota
	GPU
	GPUSplit
)

func (b Backend) String() string {
	switch b {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	case GPUSplit:
		return "gpu_split"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Handle is the opaque GPU-side handle a Tensor's Data field holds
// once Backend is GPU or GPUSplit. The compute backend is the only
// thing that knows the concrete type behind this interface (a
// *gpu.Buffer, wrapped by gpu/upload.go); the graph driver only ever
// carries it around and passes it back in.
type Handle interface {
	// ByteSize is the size in bytes of the underlying GPU allocation.
	ByteSize() uint64
}

// Tensor is the 4-D tensor descriptor handed to the backend by the
// surrounding graph driver. Ne is the shape (element counts per
// dimension), Nb is the byte stride per dimension. Both are indexed
// [0..3] with dimension 0 the fastest-varying (row) dimension, matching
// ggml's convention that this backend was distilled from.
type Tensor struct {
	Name    string
	Type    DType
	Ne      [4]int64
	Nb      [4]uint64
	Backend Backend

	// Data is CPU-resident bytes when Backend == CPU, or a Handle when
	// Backend is GPU/GPUSplit.
	Data any
}

// NElements returns the total element count across all four dims.
func (t *Tensor) NElements() int64 {
	return t.Ne[0] * t.Ne[1] * t.Ne[2] * t.Ne[3]
}

// Nrows returns the element count of the trailing three dims, i.e. the
// number of "rows" of length Ne[0] in the flattened tensor.
func (t *Tensor) Nrows() int64 {
	return t.Ne[1] * t.Ne[2] * t.Ne[3]
}

// NBytes returns the number of bytes the tensor occupies, honoring
// block-quantized types (a row of Ne[0] elements occupies
// Ne[0]/BlockSize * TypeSize bytes).
func (t *Tensor) NBytes() uint64 {
	blockSize := int64(t.Type.BlockSize())
	rowBytes := (t.Ne[0] / blockSize) * int64(t.Type.TypeSize())
	return uint64(rowBytes) * uint64(t.Nrows())
}

// IsContiguous reports whether Nb matches the standard packed layout
// for Ne, i.e. there is no padding/transposition between dimensions.
func (t *Tensor) IsContiguous() bool {
	expected := uint64(t.Type.TypeSize())
	blockSize := uint64(t.Type.BlockSize())
	if t.Nb[0] != expected {
		return false
	}
	running := expected * uint64(t.Ne[0]) / blockSize
	for i := 1; i < 4; i++ {
		if t.Nb[i] != running {
			return false
		}
		running *= uint64(t.Ne[i])
	}
	return true
}

// GPUHandle returns the tensor's GPU handle, or nil if it isn't
// GPU-resident.
func (t *Tensor) GPUHandle() Handle {
	if t.Backend != GPU && t.Backend != GPUSplit {
		return nil
	}
	h, _ := t.Data.(Handle)
	return h
}
