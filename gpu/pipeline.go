package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

// WorkgroupDenoms is the per-pipeline workgroup-size denominator used
// to compute dispatch counts: wg_i = ceil(elements_i / denom_i).
type WorkgroupDenoms [3]uint32

// PipelineSpec describes everything CreatePipeline needs: the WGSL
// source, the storage-buffer parameter count, the push-constant-
// equivalent uniform size, workgroup denominators and the
// leading-dimension alignment tiled kernels require.
type PipelineSpec struct {
	Label           string
	Source          string
	ParamCount      int
	PushConstantSz  uint64
	WorkgroupDenoms WorkgroupDenoms
	Align           uint32
}

// Pipeline is immutable after creation: bind-group layout, rotating
// bind groups with a cursor, pipeline layout + compute pipeline, and
// the derived dispatch parameters.
type Pipeline struct {
	Spec    PipelineSpec
	TraceID string

	bindGroupLayout *wgpu.BindGroupLayout
	layout          *wgpu.PipelineLayout
	native          *wgpu.ComputePipeline

	// descriptorSets rotates bind groups; descriptorSetIndex is the
	// next slot to consume. pushBuffers is the parallel rotation of
	// per-slot uniform buffers standing in for push constants, which
	// WebGPU has no direct equivalent for.
	descriptorSets    []*wgpu.BindGroup
	pushBuffers       []*wgpu.Buffer
	descriptorSetIndex int

	poolMode DescriptorPoolMode
}

// CreatePipeline builds the bind-group layout (one storage buffer per
// param, plus one uniform buffer for push-constant data), probes or
// reuses the descriptor-pool mode, and compiles the compute pipeline.
func (c *Context) CreatePipeline(spec PipelineSpec) (*Pipeline, error) {
	entries := make([]wgpu.BindGroupLayoutEntry, 0, spec.ParamCount+1)
	for i := 0; i < spec.ParamCount; i++ {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
		})
	}
	if spec.PushConstantSz > 0 {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(spec.ParamCount),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
		})
	}

	bgl, err := c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   spec.Label + "_bgl",
		Entries: entries,
	})
	if err != nil {
		return nil, newErr(KindConfig, "CreatePipeline", "bind group layout: "+spec.Label, err)
	}

	layout, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            spec.Label + "_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, newErr(KindConfig, "CreatePipeline", "pipeline layout: "+spec.Label, err)
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          spec.Label + "_shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: spec.Source},
	})
	if err != nil {
		return nil, newErr(KindConfig, "CreatePipeline", "shader module: "+spec.Label, err)
	}
	defer module.Release()

	native, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  spec.Label + "_pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, newErr(KindConfig, "CreatePipeline", "compute pipeline: "+spec.Label, err)
	}

	p := &Pipeline{
		Spec:            spec,
		TraceID:         newTraceID(),
		bindGroupLayout: bgl,
		layout:          layout,
		native:          native,
		poolMode:        c.PoolMode(),
	}

	if p.poolMode == PoolModeMulti {
		// There is no separate descriptor pool object in WebGPU, so the
		// equivalent of pre-creating one sized up front is pre-reserving
		// rotation capacity so steady-state dispatch never grows the slice.
		cap := *c.Config.DescriptorSetPool
		p.descriptorSets = make([]*wgpu.BindGroup, 0, cap)
		p.pushBuffers = make([]*wgpu.Buffer, 0, cap)
	}

	if Debug {
		Log("pipeline %s [%s] ready: params=%d push=%d mode=%v", spec.Label, p.TraceID, spec.ParamCount, spec.PushConstantSz, p.poolMode)
	}

	return p, nil
}

// AllocateDescriptorSets grows the pipeline's bind-group rotation to
// at least n slots. Actual bind groups are materialized lazily at
// dispatch time (WebGPU has no "allocate now, write buffers later"
// split the way Vulkan descriptor sets do — CreateBindGroup takes the
// final buffer bindings up front); this call only ensures the
// push-constant uniform buffers for those slots exist ahead of the hot
// loop.
func (c *Context) AllocateDescriptorSets(p *Pipeline, n int) error {
	for len(p.pushBuffers) < n {
		if p.Spec.PushConstantSz == 0 {
			p.pushBuffers = append(p.pushBuffers, nil)
			p.descriptorSets = append(p.descriptorSets, nil)
			continue
		}
		buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("%s_push%d", p.Spec.Label, len(p.pushBuffers)),
			Size:  align16(p.Spec.PushConstantSz),
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return newErr(KindConfig, "AllocateDescriptorSets", p.Spec.Label, err)
		}
		p.pushBuffers = append(p.pushBuffers, buf)
		p.descriptorSets = append(p.descriptorSets, nil)
	}
	return nil
}

// nextSlot returns the next rotation index, growing the rotation if
// AllocateDescriptorSets was not called with enough headroom, and
// advances the cursor.
func (p *Pipeline) nextSlot(c *Context) (int, error) {
	if p.descriptorSetIndex >= len(p.descriptorSets) {
		if err := c.AllocateDescriptorSets(p, p.descriptorSetIndex+1); err != nil {
			return 0, err
		}
	}
	idx := p.descriptorSetIndex
	p.descriptorSetIndex++
	return idx, nil
}

// bindGroupFor creates the bind group for rotation slot idx bound to
// buffers, and in MULTI mode stores it in that slot.
func (c *Context) bindGroupFor(p *Pipeline, idx int, buffers []Subbuffer) (*wgpu.BindGroup, error) {
	entries := make([]wgpu.BindGroupEntry, 0, len(buffers)+1)
	for i, sb := range buffers {
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  sb.native(),
			Offset:  sb.Offset,
			Size:    sb.Size,
		})
	}
	if p.Spec.PushConstantSz > 0 {
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(p.Spec.ParamCount),
			Buffer:  p.pushBuffers[idx],
			Size:    align16(p.Spec.PushConstantSz),
		})
	}

	// A WebGPU bind group is fixed to the buffers it was created with,
	// so every dispatch gets a fresh one. MULTI mode replaces the
	// rotation slot's bind group in place; SINGLE mode (the device-quirk
	// workaround) never keeps it in the slot.
	bg, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   fmt.Sprintf("%s_bg%d", p.Spec.Label, idx),
		Layout:  p.bindGroupLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, newErr(KindConfig, "bindGroupFor", p.Spec.Label, err)
	}
	if p.poolMode == PoolModeMulti {
		p.descriptorSets[idx] = bg
	}
	return bg, nil
}

// PipelineCleanup resets the rotation cursor to zero: existing sets and
// push buffers are reused, never freed individually. Must only be
// called at a queue-idle boundary.
func PipelineCleanup(p *Pipeline) {
	p.descriptorSetIndex = 0
}

func align16(n uint64) uint64 {
	return (n + 15) &^ 15
}
