package gpu

import (
	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/tensorvk/tensor"
)

// Owner records which logical queue last wrote a Buffer. IgnoredOwner
// means the buffer has never been written by a logical queue that
// cares about ownership transfer (fresh allocation, or just returned
// to the pool).
type Owner string

const IgnoredOwner Owner = ""

// MemoryFlags describes a buffer's host-visibility and coherency
// properties, independent of how WebGPU's usage bitset realizes them.
type MemoryFlags struct {
	DeviceLocal bool
	HostVisible bool
	Coherent    bool
	Cached      bool
}

// Buffer owns one GPU allocation plus, lazily, its staging children.
// Invariants: (i) HostVisible <=> Mapped != nil; (ii) staging children
// are always host-visible+coherent and >= parent size; (iii) Owner is
// either IgnoredOwner or the family that last wrote it.
type Buffer struct {
	Label string
	Size  uint64
	Flags MemoryFlags

	Native *wgpu.Buffer

	// Mapped is non-nil iff Flags.HostVisible, for the buffer's entire
	// lifetime (invariant i). WebGPU buffers created with MapAtCreation
	// or persistently mapped for read/write are represented here as
	// the raw byte view obtained via GetMappedRange; buffers that are
	// STORAGE-only (device-local) leave this nil and go through
	// staging.
	Mapped []byte

	WriteStaging *Buffer
	ReadStaging  *Buffer

	Owner Owner

	// poolSize is 0 while the buffer is checked out of the pool and
	// its true Size while idle in a pool slot; see pool.go.
	poolSize uint64
}

// Subbuffer is a (Buffer, offset, size) view used by dispatches; it
// owns nothing.
type Subbuffer struct {
	Buffer *Buffer
	Offset uint64
	Size   uint64
}

func (s Subbuffer) native() *wgpu.Buffer { return s.Buffer.Native }

// whole returns a Subbuffer covering the entire buffer.
func (b *Buffer) whole() Subbuffer {
	return Subbuffer{Buffer: b, Offset: 0, Size: b.Size}
}

// tensorPlane returns the Subbuffer view of one (i2, i3) batch plane
// of t, backed by buf. When t carries fewer batches/channels than the
// caller's iteration space, the index wraps modulo t's own extent —
// ggml's broadcast-over-batch-dims convention (e.g. a weight tensor
// with ne2=ne3=1 broadcast across every batch of an activation tensor).
func tensorPlane(buf *Buffer, t *tensor.Tensor, i2, i3 int64) Subbuffer {
	bi2 := i2 % t.Ne[2]
	bi3 := i3 % t.Ne[3]
	offset := uint64(bi3)*t.Nb[3] + uint64(bi2)*t.Nb[2]
	return Subbuffer{Buffer: buf, Offset: offset, Size: t.Nb[2]}
}

// createBuffer allocates a STORAGE + TRANSFER_SRC + TRANSFER_DST buffer
// of the requested size, with req flags steering whether it is mapped
// for the buffer's whole lifetime. WebGPU's usage/memory model unifies
// Vulkan's separate "buffer usage" and "memory property flags" concepts
// into a single BufferUsage bitset, and MapRead|MapWrite is not legal
// alongside Storage on most backends — so host-visible storage buffers
// here are backed by a persistently-mapped staging buffer that IS the
// buffer's Mapped view, rather than fighting WebGPU's usage-combination
// rules.
func (c *Context) createBuffer(label string, size uint64, req MemoryFlags) (*Buffer, error) {
	if size == 0 {
		size = 4
	}

	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

	buf := &Buffer{Label: label, Size: size, Flags: req, Owner: IgnoredOwner}

	native, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, newErr(KindConfig, "createBuffer", label, err)
	}
	buf.Native = native

	if req.HostVisible {
		// A device-local storage buffer cannot itself be mapped
		// persistently on every WebGPU backend, so host-visible
		// buffers get an always-attached staging pair and Mapped
		// aliases the write-staging buffer's mapped range, keeping
		// invariant (i) — Mapped is valid for exactly as long as the
		// Buffer is.
		staging, err := c.createStagingBuffer(label+"_hostview", size)
		if err != nil {
			buf.Native.Destroy()
			return nil, err
		}
		buf.WriteStaging = staging
		buf.ReadStaging = staging
		buf.Mapped = staging.Mapped
	}

	return buf, nil
}

// createStagingBuffer allocates a host-visible+coherent buffer usable
// as a write-staging or read-staging child, sized at least as large as
// the parent (invariant ii).
func (c *Context) createStagingBuffer(label string, size uint64) (*Buffer, error) {
	if size == 0 {
		size = 4
	}
	native, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            wgpu.BufferUsageMapRead | wgpu.BufferUsageMapWrite | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		MappedAtCreation: true,
	})
	if err != nil {
		return nil, newErr(KindConfig, "createStagingBuffer", label, err)
	}
	mapped := native.GetMappedRange(0, uint(size))
	return &Buffer{
		Label:  label,
		Size:   size,
		Flags:  MemoryFlags{HostVisible: true, Coherent: true},
		Native: native,
		Mapped: mapped,
		Owner:  IgnoredOwner,
	}, nil
}

// ensureWriteStaging lazily attaches a write-staging child sized at
// least as large as b, for the staging round-trip transfer path.
func (c *Context) ensureWriteStaging(b *Buffer) error {
	if b.WriteStaging != nil && b.WriteStaging.Size >= b.Size {
		return nil
	}
	s, err := c.createStagingBuffer(b.Label+"_wstage", b.Size)
	if err != nil {
		return err
	}
	b.WriteStaging = s
	return nil
}

func (c *Context) ensureReadStaging(b *Buffer) error {
	if b.ReadStaging != nil && b.ReadStaging.Size >= b.Size {
		return nil
	}
	s, err := c.createStagingBuffer(b.Label+"_rstage", b.Size)
	if err != nil {
		return err
	}
	b.ReadStaging = s
	return nil
}

// destroyBuffer frees the buffer and cascades to any staging children.
func (b *Buffer) destroyBuffer() {
	if b.Native != nil {
		b.Native.Destroy()
	}
	if b.WriteStaging != nil && b.WriteStaging != b.ReadStaging {
		b.WriteStaging.destroyBuffer()
	}
	if b.ReadStaging != nil {
		b.ReadStaging.destroyBuffer()
	}
}

// syncBuffers covers every listed subbuffer with a single logical
// barrier, transferring family ownership for any buffer owned by a
// different queue than q and updating Owner. WebGPU does not expose
// explicit pipeline barriers or queue-family ownership transfers in
// its public API (a single Device serializes all queue submissions
// itself), so this reduces to the bookkeeping half of the operation:
// Owner is still tracked and still gates the force flag, so callers
// and tests get a consistent Owner=IgnoredOwner after a buffer returns
// to the pool even though no GPU-side barrier command is recorded here.
func syncBuffers(subbuffers []Subbuffer, q *QueueManager, force bool) {
	for _, sb := range subbuffers {
		owner := Owner(q.Family)
		if sb.Buffer.Owner != IgnoredOwner && sb.Buffer.Owner != owner {
			if Debug {
				Log("ownership transfer: %s %s -> %s", sb.Buffer.Label, sb.Buffer.Owner, owner)
			}
			sb.Buffer.Owner = owner
			continue
		}
		if sb.Buffer.Owner == owner && !force {
			continue
		}
		sb.Buffer.Owner = owner
	}
}
