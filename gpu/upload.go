package gpu

import (
	"math"

	"github.com/openfluke/tensorvk/internal/f16"
	"github.com/openfluke/tensorvk/tensor"
)

// tensorHandle is the concrete type behind tensor.Handle for every
// tensor this backend owns: one device Buffer plus the dtype it was
// uploaded as, since TransformTensor may convert F32 host data into an
// F16 device buffer.
type tensorHandle struct {
	buf  *Buffer
	typ  tensor.DType
	rows int
	cols int
}

func (h *tensorHandle) ByteSize() uint64 { return h.buf.Size }

// TransformTensor uploads a CPU tensor to the device, converting F32
// host data to F16 on the host (via internal/f16) when the destination
// dtype requests it, rather than doing the conversion device-side.
func (c *Context) TransformTensor(t *tensor.Tensor, dst tensor.DType) (*tensor.Tensor, error) {
	if t.Backend != tensor.CPU {
		return nil, newErr(KindCapability, "TransformTensor", t.Name, errNotCPU)
	}
	raw, ok := t.Data.([]byte)
	if !ok {
		return nil, newErr(KindCapability, "TransformTensor", t.Name, errNoHostData)
	}

	rows := int(t.Nrows())
	cols := int(t.Ne[0])

	var payload []byte
	var rowStride uint64
	switch {
	case t.Type == tensor.F32 && dst == tensor.F16:
		floats := bytesToF32(raw)
		payload = f16.EncodeSlice(floats)
		rowStride = uint64(cols) * 2
	case t.Type == dst:
		payload = raw
		rowStride = t.Nb[1]
	default:
		return nil, newErr(KindCapability, "TransformTensor", t.Name, errUnsupportedConversion)
	}

	buf, err := c.H2DTensor2D(t.Name, payload, rows, cols*dst.TypeSize()/dst.BlockSize(), rowStride)
	if err != nil {
		return nil, err
	}

	out := *t
	out.Type = dst
	out.Backend = tensor.GPU
	out.Data = &tensorHandle{buf: buf, typ: dst, rows: rows, cols: cols}
	return &out, nil
}

// FreeData returns a GPU tensor's buffer to the pool and clears its
// handle, so a stale Tensor value can't be dispatched again.
func (c *Context) FreeData(t *tensor.Tensor) {
	if t.Backend != tensor.GPU && t.Backend != tensor.GPUSplit {
		return
	}
	h, ok := t.Data.(*tensorHandle)
	if !ok || h == nil {
		return
	}
	c.PoolFree(h.buf)
	t.Data = nil
	t.Backend = tensor.CPU
}

// AllocTensor allocates an uninitialized device-resident tensor sized
// per t's shape/dtype, without uploading any host data — used by
// callers (the self-test harness) that need a GPU destination tensor
// for an op's output rather than an upload of existing host bytes.
func (c *Context) AllocTensor(t *tensor.Tensor) (*tensor.Tensor, error) {
	buf, err := c.PoolAlloc(t.Name, t.NBytes())
	if err != nil {
		return nil, err
	}
	out := *t
	out.Backend = tensor.GPU
	out.Data = &tensorHandle{buf: buf, typ: t.Type, rows: int(t.Nrows()), cols: int(t.Ne[0])}
	return &out, nil
}

// ReadTensor reads a GPU-resident tensor's full byte contents back to
// the host via the transfer engine's read-staging path.
func (c *Context) ReadTensor(t *tensor.Tensor) ([]byte, error) {
	buf, err := gpuBuffer(t)
	if err != nil {
		return nil, err
	}
	return c.Read(buf, 0, t.NBytes())
}

// resolveOperandSource reports t's device buffer if it is already
// GPU-resident, or (nil, nil) if it is host-resident and must be
// streamed in per tile by the caller.
func resolveOperandSource(t *tensor.Tensor) (*Buffer, error) {
	if t.Backend != tensor.GPU && t.Backend != tensor.GPUSplit {
		return nil, nil
	}
	return gpuBuffer(t)
}

// hostPlaneBytes slices out the (i2, i3) batch plane of a CPU-resident
// tensor's raw bytes, wrapping the index modulo t's own extent the
// same way tensorPlane does for a device buffer.
func hostPlaneBytes(t *tensor.Tensor, i2, i3 int64) ([]byte, error) {
	raw, ok := t.Data.([]byte)
	if !ok {
		return nil, newErr(KindCapability, "hostPlaneBytes", t.Name, errNoHostData)
	}
	bi2 := i2 % t.Ne[2]
	bi3 := i3 % t.Ne[3]
	offset := uint64(bi3)*t.Nb[3] + uint64(bi2)*t.Nb[2]
	return raw[offset : offset+t.Nb[2]], nil
}

// inputPlane returns the Subbuffer a dispatch should read one (i2, i3)
// tile from. If buf is non-nil, t is already GPU-resident and the
// plane is a view into buf. Otherwise t is host-resident: this
// allocates a pool scratch buffer, uploads the plane's bytes onto q,
// and returns the scratch buffer alongside the Subbuffer so the caller
// can free it once the dispatch reading from it has completed.
func (c *Context) inputPlane(buf *Buffer, t *tensor.Tensor, i2, i3 int64, q *QueueManager) (Subbuffer, *Buffer, error) {
	if buf != nil {
		return tensorPlane(buf, t, i2, i3), nil, nil
	}
	data, err := hostPlaneBytes(t, i2, i3)
	if err != nil {
		return Subbuffer{}, nil, err
	}
	scratch, err := c.PoolAlloc(t.Name+"_tile_in", uint64(len(data)))
	if err != nil {
		return Subbuffer{}, nil, err
	}
	if err := c.Write2DOn(q, scratch, data); err != nil {
		c.PoolFree(scratch)
		return Subbuffer{}, nil, err
	}
	return scratch.whole(), scratch, nil
}

// outputPlane returns the Subbuffer a dispatch should write one
// (i2, i3) tile into. If buf is non-nil, t is already GPU-resident and
// the plane is a view into buf. Otherwise t is host-resident: this
// allocates a pool scratch buffer for the dispatch to write into,
// which the caller must hand to flushOutputPlane once the dispatch
// completes.
func (c *Context) outputPlane(buf *Buffer, t *tensor.Tensor, i2, i3 int64) (Subbuffer, *Buffer, error) {
	if buf != nil {
		return tensorPlane(buf, t, i2, i3), nil, nil
	}
	scratch, err := c.PoolAlloc(t.Name+"_tile_out", t.Nb[2])
	if err != nil {
		return Subbuffer{}, nil, err
	}
	return scratch.whole(), scratch, nil
}

// flushOutputPlane reads a completed output tile back from scratch on
// q and copies it into t's host-resident (i2, i3) plane, then returns
// scratch to the pool. A nil scratch is a no-op, for callers that
// always route through here regardless of whether the tile streamed.
func (c *Context) flushOutputPlane(scratch *Buffer, t *tensor.Tensor, i2, i3 int64, q *QueueManager) error {
	if scratch == nil {
		return nil
	}
	defer c.PoolFree(scratch)
	data, err := c.ReadOn(q, scratch, 0, scratch.Size)
	if err != nil {
		return err
	}
	dstBytes, err := hostPlaneBytes(t, i2, i3)
	if err != nil {
		return err
	}
	copy(dstBytes, data)
	return nil
}

func bytesToF32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
