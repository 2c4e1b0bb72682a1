package gpu

import (
	"encoding/binary"

	"github.com/openfluke/tensorvk/tensor"
)

// Mul computes dst = src0 * src1, with src1 allowed to broadcast along
// any of Ne[0..3] where its own extent is smaller than src0's (row,
// channel or batch broadcast alike). src1 must already be GPU-resident
// and is bound whole for every tile dispatch, since the batch-dim
// contribution to its index is folded into a per-tile base_row instead
// of re-slicing it; src0 and dst may be host- or GPU-resident and are
// streamed per (i2, i3) plane like Matmul's operands.
func (c *Context) Mul(src0, src1, dst *tensor.Tensor) error {
	for i := 0; i < 4; i++ {
		if src0.Ne[i]%src1.Ne[i] != 0 {
			return newErr(KindCapability, "Mul", dst.Name, errBroadcastMismatch)
		}
	}
	if dst.Ne != src0.Ne {
		return newErr(KindCapability, "Mul", dst.Name, errShapeMismatch)
	}

	b, err := gpuBuffer(src1)
	if err != nil {
		return newErr(KindCapability, "Mul", src1.Name, errSrc1NotResident)
	}

	src0Buf, err := resolveOperandSource(src0)
	if err != nil {
		return err
	}
	dstBuf, err := resolveOperandSource(dst)
	if err != nil {
		return err
	}

	pipe, err := c.getOrCreatePipeline("mul_f32", func() PipelineSpec {
		return PipelineSpec{
			Label:           "mul_f32",
			Source:          generateMulF32Shader(),
			ParamCount:      3,
			PushConstantSz:  32,
			WorkgroupDenoms: WorkgroupDenoms{256, 1, 1},
		}
	})
	if err != nil {
		return err
	}

	ne0 := uint32(dst.Ne[0])
	ne1 := uint32(dst.Ne[1])
	ne2 := dst.Ne[2]
	ne3 := dst.Ne[3]
	ne10 := uint32(src1.Ne[0])
	ne11 := uint32(src1.Ne[1])

	tiles := int(ne2 * ne3)
	if err := c.AllocateDescriptorSets(pipe, tiles); err != nil {
		return err
	}

	src1Whole := b.whole()

	dispatched := 0
	for i3 := int64(0); i3 < ne3; i3++ {
		for i2 := int64(0); i2 < ne2; i2++ {
			src0Sub, src0Scratch, err := c.inputPlane(src0Buf, src0, i2, i3, c.Transfer0)
			if err != nil {
				return err
			}
			dstSub, dstScratch, err := c.outputPlane(dstBuf, dst, i2, i3)
			if err != nil {
				c.PoolFree(src0Scratch)
				return err
			}

			b2 := uint32(i2 % src1.Ne[2])
			b3 := uint32(i3 % src1.Ne[3])
			baseRow := b3*uint32(src1.Ne[2])*ne11 + b2*ne11

			params := make([]byte, 32)
			binary.LittleEndian.PutUint32(params[0:], ne0)
			binary.LittleEndian.PutUint32(params[4:], ne1)
			binary.LittleEndian.PutUint32(params[8:], ne10)
			binary.LittleEndian.PutUint32(params[12:], ne11)
			binary.LittleEndian.PutUint32(params[16:], baseRow)

			seq, err := BeginSubmission(c.Compute, "mul_f32")
			if err != nil {
				c.PoolFree(src0Scratch)
				c.PoolFree(dstScratch)
				return err
			}
			buffers := []Subbuffer{src0Sub, src1Whole, dstSub}
			elements := [3]uint32{ne0 * ne1, 1, 1}
			if err := c.DispatchPipeline(seq, pipe, buffers, params, elements); err != nil {
				c.PoolFree(src0Scratch)
				c.PoolFree(dstScratch)
				return err
			}
			if err := c.EndSubmission(seq, nil, nil); err != nil {
				c.PoolFree(src0Scratch)
				c.PoolFree(dstScratch)
				return err
			}

			if src0Scratch != nil || dstScratch != nil {
				c.Compute.flush()
				c.Compute.waitIdle()
				if err := c.flushOutputPlane(dstScratch, dst, i2, i3, c.Transfer0); err != nil {
					c.PoolFree(src0Scratch)
					return err
				}
				c.PoolFree(src0Scratch)
				continue
			}

			dispatched++
			if dispatched%VkSubmitBatch == 0 {
				c.Compute.flush()
			}
		}
	}

	c.Compute.flush()
	c.Compute.waitIdle()
	c.Transfer0.flush()
	c.Transfer0.waitIdle()
	PipelineCleanup(pipe)
	return nil
}
