package gpu

import (
	"github.com/openfluke/webgpu/wgpu"
)

// This file implements the transfer engine: host<->device copies
// chosen among three paths — direct memcpy into an already
// host-visible buffer, a zero-staging path when the source is
// registered pinned memory, and the general staging-buffer round trip.

// WriteZeroPad copies an (rows x cols) region from src into dst's
// top-left corner, and zero-fills the remainder of dst up to
// (dstRows x dstCols), so a smaller source tensor uploads cleanly into
// a larger, alignment-padded destination buffer.
func (c *Context) WriteZeroPad(dst *Buffer, dstStride uint64, src []byte, rows, cols int, srcStride uint64) error {
	if err := c.ensureWriteStaging(dst); err != nil {
		return err
	}
	stage := dst.WriteStaging
	if stage.Size < dst.Size {
		return newErr(KindCapability, "WriteZeroPad", dst.Label, errStagingTooSmall)
	}

	for r := 0; r < int(dst.Size/dstStride); r++ {
		rowOut := stage.Mapped[uint64(r)*dstStride : uint64(r)*dstStride+dstStride]
		if r < rows {
			rowIn := src[uint64(r)*srcStride : uint64(r)*srcStride+uint64(cols)]
			copy(rowOut, rowIn)
			for i := cols; i < len(rowOut); i++ {
				rowOut[i] = 0
			}
		} else {
			for i := range rowOut {
				rowOut[i] = 0
			}
		}
	}

	return c.stageToDevice(dst)
}

// Write2D is a plain rectangular upload without padding, choosing the
// pinned zero-copy path when src is a slice returned by HostAlloc.
// It submits the staging copy on Transfer0.
func (c *Context) Write2D(dst *Buffer, src []byte) error {
	return c.Write2DOn(c.Transfer0, dst, src)
}

// Write2DOn is Write2D with the staging-copy submission directed at q
// instead of the default Transfer0, so callers streaming several
// operands at once can spread the uploads across independent queues.
func (c *Context) Write2DOn(q *QueueManager, dst *Buffer, src []byte) error {
	if _, ok := c.Pinned.lookup(src); ok {
		return c.writePinned(dst, src)
	}
	if err := c.ensureWriteStaging(dst); err != nil {
		return err
	}
	copy(dst.WriteStaging.Mapped, src)
	return c.stageToDeviceOn(q, dst)
}

// writePinned copies directly from a pinned host allocation without an
// intermediate staging buffer's memcpy, using Queue.WriteBuffer which
// wgpu-native implements as a driver-managed upload — the closest
// analogue this API exposes to Vulkan's vkCmdCopyBuffer from
// host-coherent pinned memory straight into a device-local buffer.
func (c *Context) writePinned(dst *Buffer, src []byte) error {
	c.Queue.WriteBuffer(dst.Native, 0, src)
	return nil
}

// stageToDevice records, submits and waits for a copy from dst's
// write-staging buffer into dst.Native on Transfer0.
func (c *Context) stageToDevice(dst *Buffer) error {
	return c.stageToDeviceOn(c.Transfer0, dst)
}

// stageToDeviceOn is stageToDevice with the submission directed at q.
func (c *Context) stageToDeviceOn(q *QueueManager, dst *Buffer) error {
	seq, err := BeginSubmission(q, "stageToDevice:"+dst.Label)
	if err != nil {
		return err
	}
	seq.encoder.CopyBufferToBuffer(dst.WriteStaging.Native, 0, dst.Native, 0, dst.Size)
	if err := c.EndSubmission(seq, nil, nil); err != nil {
		return err
	}
	q.flush()
	q.waitIdle()
	return nil
}

// Read copies size bytes at offset back from a device buffer into a
// host slice via the read-staging buffer on Transfer1, mapping it,
// copying out, then unmapping.
func (c *Context) Read(src *Buffer, offset, size uint64) ([]byte, error) {
	return c.ReadOn(c.Transfer1, src, offset, size)
}

// ReadOn is Read with the staging-copy submission directed at q
// instead of the default Transfer1.
func (c *Context) ReadOn(q *QueueManager, src *Buffer, offset, size uint64) ([]byte, error) {
	if err := c.ensureReadStaging(src); err != nil {
		return nil, err
	}
	stage := src.ReadStaging

	seq, err := BeginSubmission(q, "read:"+src.Label)
	if err != nil {
		return nil, err
	}
	seq.encoder.CopyBufferToBuffer(src.Native, offset, stage.Native, 0, size)
	if err := c.EndSubmission(seq, nil, nil); err != nil {
		return nil, err
	}
	q.flush()

	done := make(chan error, 1)
	stage.Native.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- newErr(KindConfig, "Read", src.Label, errMapFailed)
			return
		}
		done <- nil
	})
	c.Device.Poll(true, nil)
	if err := <-done; err != nil {
		return nil, err
	}

	view := stage.Native.GetMappedRange(0, uint(size))
	out := make([]byte, size)
	copy(out, view)
	stage.Native.Unmap()
	return out, nil
}

// ReadAsync refuses any destination that isn't pinned host memory
// registered via HostAlloc, and for a pinned destination submits only
// the device-to-staging copyBuffer command before returning — unlike
// Read, it never blocks the caller on Device.Poll or the staging
// buffer's map completion. The staging-to-dst copy runs inside the
// MapAsync callback once the copy lands, so the result channel closes
// whenever that callback fires rather than on this call's own stack.
func (c *Context) ReadAsync(src *Buffer, offset, size uint64, dst []byte) <-chan Readout {
	out := make(chan Readout, 1)

	if _, ok := c.Pinned.lookup(dst); !ok {
		out <- Readout{Err: newErr(KindCapability, "ReadAsync", src.Label, errNotPinned)}
		return out
	}
	if uint64(len(dst)) < size {
		out <- Readout{Err: newErr(KindCapability, "ReadAsync", src.Label, errStagingTooSmall)}
		return out
	}

	if err := c.ensureReadStaging(src); err != nil {
		out <- Readout{Err: err}
		return out
	}
	stage := src.ReadStaging

	seq, err := BeginSubmission(c.Transfer1, "readAsync:"+src.Label)
	if err != nil {
		out <- Readout{Err: err}
		return out
	}
	seq.encoder.CopyBufferToBuffer(src.Native, offset, stage.Native, 0, size)
	if err := c.EndSubmission(seq, nil, nil); err != nil {
		out <- Readout{Err: err}
		return out
	}
	c.Transfer1.flush()

	stage.Native.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			out <- Readout{Err: newErr(KindConfig, "ReadAsync", src.Label, errMapFailed)}
			return
		}
		view := stage.Native.GetMappedRange(0, uint(size))
		copy(dst, view)
		stage.Native.Unmap()
		out <- Readout{Data: dst[:size]}
	})
	return out
}

// Readout is the result delivered by ReadAsync.
type Readout struct {
	Data []byte
	Err  error
}

// H2DTensor2D allocates a device buffer sized to the tensor's padded
// row stride and uploads its host bytes, using zero-pad when the
// tensor's natural row length is smaller than the alignment-padded
// destination stride.
func (c *Context) H2DTensor2D(label string, data []byte, rows, cols int, rowStride uint64) (*Buffer, error) {
	dstStride := rowStride
	if dstStride == 0 {
		dstStride = uint64(cols)
	}
	size := dstStride * uint64(rows)

	buf, err := c.PoolAlloc(label, size)
	if err != nil {
		return nil, err
	}

	srcStride := uint64(cols)
	if dstStride == srcStride {
		if err := c.Write2D(buf, data); err != nil {
			c.PoolFree(buf)
			return nil, err
		}
		return buf, nil
	}
	if err := c.WriteZeroPad(buf, dstStride, data, rows, cols, srcStride); err != nil {
		c.PoolFree(buf)
		return nil, err
	}
	return buf, nil
}
