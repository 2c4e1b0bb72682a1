// Package gpu is the execution substrate: device selection, memory
// management, dispatch and cross-queue synchronization for the tensor
// operations this backend accelerates — parametric matmul and
// elementwise-multiply kernels over batched, strided tensors.
package gpu

import (
	"fmt"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// DescriptorPoolMode records which bind-group-pool allocation strategy
// this device accepts, probed once per process.
type DescriptorPoolMode int

const (
	PoolModeUnknown DescriptorPoolMode = iota
	PoolModeMulti                      // one shared pool, many bind groups
	PoolModeSingle                     // one pool per bind group (device quirk workaround)
)

// Context exclusively owns the WebGPU device, its three logical
// queues, and every compiled Pipeline. It is a process-wide singleton
// by default; callers that want to break the global can construct one
// directly via New instead of GetContext.
type Context struct {
	Config Config

	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	FP16 bool
	VendorID uint32

	MinStorageBufferOffsetAlignment uint64

	Compute    *QueueManager
	Transfer0  *QueueManager
	Transfer1  *QueueManager

	poolModeMu sync.Mutex
	poolMode   DescriptorPoolMode

	Pool    *BufferPool
	Pinned  *PinnedRegistry

	pipelinesMu sync.Mutex
	pipelines   map[string]*Pipeline
}

var (
	globalOnce sync.Once
	global     *Context
	globalErr  error
)

// GetContext returns the process-wide singleton, initializing it on
// first use with default configuration.
func GetContext() (*Context, error) {
	globalOnce.Do(func() {
		cfg, err := LoadConfig("tensorvk.yaml")
		if err != nil {
			globalErr = err
			return
		}
		global, globalErr = New(cfg)
	})
	return global, globalErr
}

// New creates an independent device context. Most callers should use
// GetContext; New exists for tests and for embedders that want more
// than one context in a process.
func New(cfg Config) (*Context, error) {
	ctx := &Context{
		Config:    cfg,
		Pool:      newBufferPool(*cfg.BufferPoolSlots),
		Pinned:    newPinnedRegistry(),
		pipelines: make(map[string]*Pipeline),
	}

	ctx.Instance = wgpu.CreateInstance(nil)
	if ctx.Instance == nil {
		return nil, newErr(KindConfig, "New", "wgpu.CreateInstance returned nil", nil)
	}

	if err := ctx.selectAdapter(); err != nil {
		ctx.Instance.Release()
		return nil, err
	}

	if err := ctx.createDevice(); err != nil {
		ctx.Adapter.Release()
		ctx.Instance.Release()
		return nil, err
	}

	ctx.Queue = ctx.Device.GetQueue()
	ctx.discoverQueues()

	if Debug {
		Log("device context ready: vendor=0x%04x fp16=%v queues=%s/%s/%s",
			ctx.VendorID, ctx.FP16, ctx.Compute.Family, ctx.Transfer0.Family, ctx.Transfer1.Family)
	}

	return ctx, nil
}

// selectAdapter picks the adapter at the configured index, otherwise
// falls back through high-performance -> low-power -> default request.
func (c *Context) selectAdapter() error {
	idx := 0
	if c.Config.DeviceIndex != nil {
		idx = *c.Config.DeviceIndex
	}

	adapters := c.Instance.EnumerateAdapters(nil)
	if idx >= 0 && idx < len(adapters) {
		c.Adapter = adapters[idx]
		return nil
	}

	tryInit := func(opts *wgpu.RequestAdapterOptions) error {
		var err error
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		return err
	}

	if err := tryInit(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceHighPerformance}); err != nil || c.Adapter == nil {
		if Debug {
			Log("high performance adapter request failed (%v); falling back", err)
		}
		if err := tryInit(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceLowPower}); err != nil || c.Adapter == nil {
			if err := tryInit(nil); err != nil || c.Adapter == nil {
				return newErr(KindConfig, "selectAdapter", "no usable adapter", err)
			}
		}
	}
	return nil
}

// createDevice requests the device, recording the fp16 capability flag
// as storageBuffer16BitAccess && shaderFloat16.
func (c *Context) createDevice() error {
	info := c.Adapter.GetInfo()
	c.VendorID = info.VendorId

	storage16, compute16 := false, false
	for _, f := range c.Adapter.EnumerateFeatures() {
		name := strings.ToLower(f.String())
		if strings.Contains(name, "16bit") || strings.Contains(name, "16-bit-storage") {
			storage16 = true
		}
		if strings.Contains(name, "shader-f16") || strings.Contains(name, "float16") {
			compute16 = true
		}
	}
	c.FP16 = storage16 && compute16

	var required []wgpu.FeatureName
	if c.FP16 {
		required = append(required, wgpu.FeatureNameShaderF16)
	}

	dev, err := c.Adapter.RequestDevice(&wgpu.DeviceDescriptor{RequiredFeatures: required})
	if err != nil {
		return newErr(KindConfig, "createDevice", "RequestDevice failed", err)
	}
	c.Device = dev

	limits := c.Adapter.GetLimits()
	align := uint64(limits.Limits.MinUniformBufferOffsetAlignment)
	if align == 0 {
		align = 256
	}
	c.MinStorageBufferOffsetAlignment = align
	return nil
}

// discoverQueues handles the degenerate WebGPU case where there is
// only one physical queue: it creates three logical ledgers (compute,
// transfer0, transfer1), all backed by c.Queue.
func (c *Context) discoverQueues() {
	c.Compute = newQueueManager("compute", c.Device, c.Queue)
	c.Transfer0 = newQueueManager("transfer0", c.Device, c.Queue)
	c.Transfer1 = newQueueManager("transfer1", c.Device, c.Queue)
}

// PoolMode returns the descriptor-pool allocation mode, probing it
// exactly once on first call and memoizing the result.
func (c *Context) PoolMode() DescriptorPoolMode {
	c.poolModeMu.Lock()
	defer c.poolModeMu.Unlock()
	if c.poolMode != PoolModeUnknown {
		return c.poolMode
	}
	c.poolMode = c.probePoolMode()
	return c.poolMode
}

// probePoolMode tries to allocate two bind groups from a
// two-bind-group-capacity layout; wgpu-native surfaces an allocation
// failure as a plain error return rather than a distinct out-of-pool
// status code, so any error here is treated as the same signal: fall
// back to SINGLE (one pool per bind group), else MULTI.
func (c *Context) probePoolMode() DescriptorPoolMode {
	layout, err := c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "poolProbeLayout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		if Debug {
			Log("pool probe: layout creation failed (%v), defaulting to MULTI", err)
		}
		return PoolModeMulti
	}
	defer func() {
		// BindGroupLayout has no explicit destroy in the observed API
		// surface beyond Release; drop our reference now that probing
		// is done.
		_ = layout
	}()

	probeBuf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "poolProbeBuffer",
		Size:  16,
		Usage: wgpu.BufferUsageStorage,
	})
	if err != nil {
		return PoolModeMulti
	}
	defer probeBuf.Destroy()

	ok := 0
	for i := 0; i < 2; i++ {
		_, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("poolProbe%d", i),
			Layout: layout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: probeBuf, Size: 16},
			},
		})
		if err != nil {
			break
		}
		ok++
	}

	if ok < 2 {
		if Debug {
			Log("pool probe: only %d/2 bind groups allocated, using SINGLE mode", ok)
		}
		return PoolModeSingle
	}
	return PoolModeMulti
}

// Close releases the device context. Buffers held by the pool or by
// GPU-resident tensors must be freed by their owners first.
func (c *Context) Close() {
	c.Pool.drain()
	if c.Device != nil {
		c.Device.Release()
	}
	if c.Adapter != nil {
		c.Adapter.Release()
	}
	if c.Instance != nil {
		c.Instance.Release()
	}
}
