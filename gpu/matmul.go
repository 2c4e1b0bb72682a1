package gpu

import (
	"encoding/binary"

	"github.com/openfluke/tensorvk/tensor"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// VkSubmitBatch is how many per-tile submissions accumulate on a
// queue before a flush.
const VkSubmitBatch = 3

// MatmulParams is the push-constant-equivalent block for the tiled
// matmul and split-k-reduce kernels of shaders.go, packed little
// endian to match WGSL's default struct layout for four-byte scalars.
type MatmulParams struct {
	M, N, K                   uint32
	StrideA, StrideB, StrideC uint32
	KSplit, KOffset           uint32
}

func (p MatmulParams) bytes() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:], p.M)
	binary.LittleEndian.PutUint32(buf[4:], p.N)
	binary.LittleEndian.PutUint32(buf[8:], p.K)
	binary.LittleEndian.PutUint32(buf[12:], p.StrideA)
	binary.LittleEndian.PutUint32(buf[16:], p.StrideB)
	binary.LittleEndian.PutUint32(buf[20:], p.StrideC)
	binary.LittleEndian.PutUint32(buf[24:], p.KSplit)
	binary.LittleEndian.PutUint32(buf[28:], p.KOffset)
	return buf
}

// chooseTile buckets the problem into the small/medium/large tiled
// kernel variants by max(M,N): S (<=32), M (<=64), L (>64), trading
// shared-memory tile size for occupancy. Small problems get a 16x16
// tile so tiny matrices still saturate a workgroup; large ones get
// 64x64 to amortize barrier overhead. The natural S/M/L edge lengths
// would be 32/64/128, but a 128x128 workgroup is 16384 invocations —
// well past WebGPU's typical maxComputeInvocationsPerWorkgroup ceiling
// — so every edge length here is halved from that progression while
// the bucket boundaries themselves stay at the named 32/64 cutoffs.
func chooseTile(m, n, k int64) uint32 {
	maxDim := m
	if n > maxDim {
		maxDim = n
	}
	switch {
	case maxDim <= 32:
		return 16
	case maxDim <= 64:
		return 32
	default:
		return 64
	}
}

// getOrCreateMatmulPipeline caches compiled tiled-matmul pipelines by
// variant, since compiling a WGSL shader module is far more expensive
// than reusing one across calls with the same shape bucket.
func (c *Context) getOrCreateMatmulPipeline(v MatmulVariant) (*Pipeline, error) {
	return c.getOrCreatePipeline(v.matmulLabel(), func() PipelineSpec {
		return PipelineSpec{
			Label:           v.matmulLabel(),
			Source:          generateMatmulShader(v),
			ParamCount:      3,
			PushConstantSz:  32,
			WorkgroupDenoms: WorkgroupDenoms{v.Tile, v.Tile, 1},
			Align:           v.Tile,
		}
	})
}

func (c *Context) getOrCreatePipeline(label string, build func() PipelineSpec) (*Pipeline, error) {
	c.pipelinesMu.Lock()
	if p, ok := c.pipelines[label]; ok {
		c.pipelinesMu.Unlock()
		return p, nil
	}
	c.pipelinesMu.Unlock()

	p, err := c.CreatePipeline(build())
	if err != nil {
		return nil, err
	}

	c.pipelinesMu.Lock()
	if existing, ok := c.pipelines[label]; ok {
		c.pipelinesMu.Unlock()
		return existing, nil
	}
	c.pipelines[label] = p
	c.pipelinesMu.Unlock()
	return p, nil
}

// validMatmulDType reports whether d is one of the operand dtypes
// CanMulMat accepts: F32, F16, or Q4_0.
func validMatmulDType(d tensor.DType) bool {
	switch d {
	case tensor.F32, tensor.F16, tensor.Q4_0:
		return true
	default:
		return false
	}
}

// CanMulMat gates a matmul dispatch: operand dtypes must be
// F32/F16/Q4_0, the destination must be F32 (F16 destinations get
// their own diagnostic), shapes must line up, and — unless operand 0
// is already GPU-resident — every minor dimension (Ne[0]) must be at
// least 32, since the tiled kernels' shared-memory tiling assumes a
// workgroup-sized row/column to be worth dispatching.
func CanMulMat(a, b, dst *tensor.Tensor) error {
	if !validMatmulDType(a.Type) {
		return newErr(KindCapability, "CanMulMat", a.Name, errUnsupportedDType)
	}
	if !validMatmulDType(b.Type) {
		return newErr(KindCapability, "CanMulMat", b.Name, errUnsupportedDType)
	}
	if dst.Type == tensor.F16 {
		return newErr(KindCapability, "CanMulMat", dst.Name, errFP16Destination)
	}
	if dst.Type != tensor.F32 {
		return newErr(KindCapability, "CanMulMat", dst.Name, errNonF32Destination)
	}
	if a.Ne[0] != b.Ne[0] {
		return newErr(KindCapability, "CanMulMat", a.Name, errShapeMismatch)
	}
	if dst.Ne[0] != b.Ne[1] || dst.Ne[1] != a.Ne[1] {
		return newErr(KindCapability, "CanMulMat", dst.Name, errShapeMismatch)
	}

	minorDimsOK := a.Ne[0] >= 32 && b.Ne[0] >= 32 && dst.Ne[0] >= 32
	aOnGPU := a.Backend == tensor.GPU || a.Backend == tensor.GPUSplit
	if !minorDimsOK && !aOnGPU {
		return newErr(KindCapability, "CanMulMat", a.Name, errMinorDimTooSmall)
	}
	return nil
}

// Matmul computes dst[M,N] = a[M,K] * b[K,N]^T in ggml's row-major
// convention (a and b share their K dimension as Ne[0]), extended with
// batch dims ne2/ne3: it iterates (i3, i2) in row-major order and
// dispatches one tile per batch plane. Any operand already resident on
// the device is sliced in place via tensorPlane; a host-resident a or
// b has its tile bytes uploaded per plane (a on Transfer0, b on
// Transfer1) into pool scratch, and a host-resident dst has its tile
// read back the same way after the dispatch completes. f32 x f32
// always goes through the tiled kernel (matmul_f32 has no vector-path
// shader asset, checked ahead of the N=1 special case); f16/quantized
// operands use the dequant_mul_mat_vec fast path when N==1.
func (c *Context) Matmul(a, b, dst *tensor.Tensor) error {
	if err := CanMulMat(a, b, dst); err != nil {
		return err
	}

	aBuf, err := resolveOperandSource(a)
	if err != nil {
		return err
	}
	bBuf, err := resolveOperandSource(b)
	if err != nil {
		return err
	}
	dstBuf, err := resolveOperandSource(dst)
	if err != nil {
		return err
	}

	m := dst.Ne[1]
	n := dst.Ne[0]
	k := a.Ne[0]
	ne2 := dst.Ne[2]
	ne3 := dst.Ne[3]

	f32f32 := a.Type == tensor.F32 && b.Type == tensor.F32
	useVector := n == 1 && !f32f32

	splitK := uint32(1)
	if !useVector && k > 128 && (m < 128 || n < 128) {
		splitK = 4
	}

	var pipe *Pipeline
	var tile uint32
	if useVector {
		label := "dequant_mul_mat_vec_f16"
		if a.Type == tensor.Q4_0 {
			label = "dequant_mul_mat_vec_q4_0"
		}
		pipe, err = c.getOrCreatePipeline(label, func() PipelineSpec {
			return PipelineSpec{
				Label:           label,
				Source:          generateDequantMulMatVecShader(a.Type == tensor.Q4_0),
				ParamCount:      3,
				PushConstantSz:  16,
				WorkgroupDenoms: WorkgroupDenoms{64, 1, 1},
			}
		})
	} else {
		tile = chooseTile(m, n, k)
		variant := MatmulVariant{
			XIs16:   a.Type == tensor.F16,
			YIs16:   b.Type == tensor.F16,
			Aligned: k%int64(tile) == 0,
			Tile:    tile,
		}
		pipe, err = c.getOrCreateMatmulPipeline(variant)
	}
	if err != nil {
		return err
	}

	tiles := int(ne2 * ne3)
	if err := c.AllocateDescriptorSets(pipe, tiles); err != nil {
		return err
	}

	var reducePipe *Pipeline
	var scratch *Buffer
	if splitK > 1 {
		reducePipe, err = c.getOrCreatePipeline("split_k_reduce", func() PipelineSpec {
			return PipelineSpec{
				Label:           "split_k_reduce",
				Source:          generateSplitKReduceShader(),
				ParamCount:      2,
				PushConstantSz:  16,
				WorkgroupDenoms: WorkgroupDenoms{64, 1, 1},
			}
		})
		if err != nil {
			return err
		}
		if err := c.AllocateDescriptorSets(reducePipe, tiles); err != nil {
			return err
		}

		// Pool-allocated once per call, sized tile_size·ne2·ne3, freed
		// back to the pool at the end.
		tileScratchSz := uint64(m) * uint64(n) * 4 * uint64(splitK)
		scratch, err = c.PoolAlloc("matmul_partials", tileScratchSz*uint64(tiles))
		if err != nil {
			return err
		}
		defer c.PoolFree(scratch)
	}

	// Iterate (i3, i2) in row-major order, slicing each operand/
	// destination down to its batch plane (broadcasting the narrower
	// operand's batch dims when it has fewer than dst). Host-resident
	// operands stream their tile through pool scratch and force an
	// immediate flush+wait so the scratch buffer isn't recycled before
	// its dispatch runs; fully GPU-resident tiles instead flush every
	// VK_SUBMIT_BATCH tiles to overlap CPU queue-setup with GPU
	// execution.
	dispatched := 0
	for i3 := int64(0); i3 < ne3; i3++ {
		for i2 := int64(0); i2 < ne2; i2++ {
			aSub, aScratch, err := c.inputPlane(aBuf, a, i2, i3, c.Transfer0)
			if err != nil {
				return err
			}
			bSub, bScratch, err := c.inputPlane(bBuf, b, i2, i3, c.Transfer1)
			if err != nil {
				c.PoolFree(aScratch)
				return err
			}
			dSub, dScratch, err := c.outputPlane(dstBuf, dst, i2, i3)
			if err != nil {
				c.PoolFree(aScratch)
				c.PoolFree(bScratch)
				return err
			}

			tileIdx := i3*ne2 + i2

			switch {
			case useVector:
				err = c.matmulVectorTile(pipe, aSub, bSub, dSub, m, k, a.Type == tensor.Q4_0)
			case splitK == 1:
				err = c.matmulSingleTile(pipe, aSub, bSub, dSub, m, n, k)
			default:
				scratchSz := uint64(m) * uint64(n) * 4 * uint64(splitK)
				scratchSub := Subbuffer{Buffer: scratch, Offset: uint64(tileIdx) * scratchSz, Size: scratchSz}
				err = c.matmulSplitKTile(pipe, reducePipe, aSub, bSub, dSub, scratchSub, m, n, k, splitK)
			}
			if err != nil {
				c.PoolFree(aScratch)
				c.PoolFree(bScratch)
				c.PoolFree(dScratch)
				return err
			}

			if aScratch != nil || bScratch != nil || dScratch != nil {
				c.Compute.flush()
				c.Compute.waitIdle()
				if err := c.flushOutputPlane(dScratch, dst, i2, i3, c.Transfer0); err != nil {
					c.PoolFree(aScratch)
					c.PoolFree(bScratch)
					return err
				}
				c.PoolFree(aScratch)
				c.PoolFree(bScratch)
				continue
			}

			dispatched++
			if dispatched%VkSubmitBatch == 0 {
				c.Compute.flush()
			}
		}
	}

	// Final flush + waitIdle on the compute queue and transfer[0]
	// precedes cleanup; every tile's dispatch runs on Compute.
	c.Compute.flush()
	c.Compute.waitIdle()
	c.Transfer0.flush()
	c.Transfer0.waitIdle()
	PipelineCleanup(pipe)
	if reducePipe != nil {
		PipelineCleanup(reducePipe)
	}
	return nil
}

// matmulSingleTile dispatches one (m x n) batch plane as a grid of
// tile x tile workgroups on the compute queue (tile size is already
// baked into pipe's WorkgroupDenoms).
func (c *Context) matmulSingleTile(pipe *Pipeline, aSub, bSub, dSub Subbuffer, m, n, k int64) error {
	params := MatmulParams{
		M: uint32(m), N: uint32(n), K: uint32(k),
		StrideA: uint32(k), StrideB: uint32(n), StrideC: uint32(n),
		KSplit: 1, KOffset: 0,
	}
	buffers := []Subbuffer{aSub, bSub, dSub}

	seq, err := BeginSubmission(c.Compute, pipe.Spec.Label)
	if err != nil {
		return err
	}
	elements := [3]uint32{uint32(n), uint32(m), 1}
	if err := c.DispatchPipeline(seq, pipe, buffers, params.bytes(), elements); err != nil {
		return err
	}
	return c.EndSubmission(seq, nil, nil)
}

// matmulSplitKTile partitions one batch plane's K dimension into
// splitK chunks dispatched concurrently across the
// transfer[0]/transfer[1]/compute ledgers, each writing into its own
// scratch partial slab, then reduces the partials with
// split_k_reduce into that plane's destination slice.
func (c *Context) matmulSplitKTile(pipe, reducePipe *Pipeline, aSub, bSub, dSub, scratch Subbuffer, m, n, k int64, splitK uint32) error {
	total := uint64(m) * uint64(n)
	chunkK := uint32(k) / splitK
	queues := []*QueueManager{c.Compute, c.Transfer0, c.Transfer1}

	indices := make([]uint32, splitK)
	for i := range indices {
		indices[i] = uint32(i)
	}
	for _, batch := range lo.Chunk(indices, VkSubmitBatch) {
		g := new(errgroup.Group)
		for _, i := range batch {
			i := i
			q := queues[i%uint32(len(queues))]
			g.Go(func() error {
				params := MatmulParams{
					M: uint32(m), N: uint32(n), K: uint32(k),
					StrideA: uint32(k), StrideB: uint32(n), StrideC: uint32(n),
					KSplit: splitK, KOffset: i * chunkK,
				}
				partial := Subbuffer{Buffer: scratch.Buffer, Offset: scratch.Offset + uint64(i)*total*4, Size: total * 4}
				buffers := []Subbuffer{aSub, bSub, partial}
				seq, err := BeginSubmission(q, pipe.Spec.Label)
				if err != nil {
					return err
				}
				elements := [3]uint32{uint32(n), uint32(m), 1}
				if err := c.DispatchPipeline(seq, pipe, buffers, params.bytes(), elements); err != nil {
					return err
				}
				return c.EndSubmission(seq, nil, nil)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, q := range queues {
			q.flush()
		}
	}
	for _, q := range queues {
		q.waitIdle()
	}

	return c.splitKReduceTile(reducePipe, scratch, dSub, uint32(m), uint32(n), splitK)
}

func (c *Context) splitKReduceTile(pipe *Pipeline, partials, dst Subbuffer, m, n, splitK uint32) error {
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:], m)
	binary.LittleEndian.PutUint32(params[4:], n)
	binary.LittleEndian.PutUint32(params[8:], splitK)

	seq, err := BeginSubmission(c.Compute, "split_k_reduce")
	if err != nil {
		return err
	}
	buffers := []Subbuffer{partials, dst}
	if err := c.DispatchPipeline(seq, pipe, buffers, params, [3]uint32{m * n, 1, 1}); err != nil {
		return err
	}
	if err := c.EndSubmission(seq, nil, nil); err != nil {
		return err
	}
	c.Compute.flush()
	c.Compute.waitIdle()
	return nil
}

// matmulVectorTile implements the N==1 fast path for one batch plane:
// dequantize-and-multiply in one pass with no shared-memory tiling and
// no semaphores.
func (c *Context) matmulVectorTile(pipe *Pipeline, matSub, vecSub, outSub Subbuffer, m, k int64, quantized bool) error {
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:], uint32(m))
	if quantized {
		blocksPerRow := uint32(k) / 32
		binary.LittleEndian.PutUint32(params[4:], uint32(k))
		binary.LittleEndian.PutUint32(params[8:], blocksPerRow)
	} else {
		binary.LittleEndian.PutUint32(params[4:], uint32(k))
		binary.LittleEndian.PutUint32(params[8:], uint32(k))
	}

	seq, err := BeginSubmission(c.Compute, pipe.Spec.Label)
	if err != nil {
		return err
	}
	buffers := []Subbuffer{matSub, vecSub, outSub}
	if err := c.DispatchPipeline(seq, pipe, buffers, params, [3]uint32{uint32(m), 1, 1}); err != nil {
		return err
	}
	return c.EndSubmission(seq, nil, nil)
}

func gpuBuffer(t *tensor.Tensor) (*Buffer, error) {
	h, ok := t.Data.(*tensorHandle)
	if !ok || h == nil {
		return nil, newErr(KindCapability, "gpuBuffer", t.Name, errNoHostData)
	}
	return h.buf, nil
}
