package gpu

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a minimal test-and-set spin lock, used for the
// buffer pool's critical section, which is O(MAX_BUFFERS) and
// allocation-free — short enough that spinning beats parking a
// goroutine on a mutex.
type spinLock struct {
	held atomic.Bool
}

func (l *spinLock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() {
	l.held.Store(false)
}

// poolSlot is one entry in the buffer pool's fixed-capacity array.
// idle is false for an empty slot.
type poolSlot struct {
	idle bool
	buf  *Buffer
}

// BufferPool is a fixed-capacity array of idle device buffers, with
// best-fit allocation and worst-case eviction to bound peak memory.
type BufferPool struct {
	lock  spinLock
	slots []poolSlot

	evictions int
	allocs    int
}

func newBufferPool(capacity int) *BufferPool {
	if capacity <= 0 {
		capacity = 256
	}
	return &BufferPool{slots: make([]poolSlot, capacity)}
}

// PoolStats reports the pool's high-water bookkeeping.
type PoolStats struct {
	Capacity  int
	Idle      int
	Evictions int
	Allocs    int
}

func (p *BufferPool) Stats() PoolStats {
	p.lock.Lock()
	defer p.lock.Unlock()
	idle := 0
	for _, s := range p.slots {
		if s.idle {
			idle++
		}
	}
	return PoolStats{Capacity: len(p.slots), Idle: idle, Evictions: p.evictions, Allocs: p.allocs}
}

// malloc best-fits an idle buffer >= size, or evicts the largest idle
// buffer and lets the caller allocate fresh. Returns (reused buffer,
// nil) on a hit, (nil, evicted buffer) on a miss that evicted the
// largest idle buffer, or (nil, nil) on a miss with no idle buffer at
// all. On a miss the caller (Context.PoolAlloc) does the actual device
// allocation, destroying the evicted buffer only after malloc's lock
// is released.
func (p *BufferPool) malloc(size uint64) (reused *Buffer, evicted *Buffer) {
	p.lock.Lock()
	defer p.lock.Unlock()

	bestIdx := -1
	var bestSize uint64
	worstIdx := -1
	var worstSize uint64

	for i, s := range p.slots {
		if !s.idle {
			continue
		}
		sz := s.buf.poolSize
		if sz >= size && (bestIdx == -1 || sz < bestSize) {
			bestIdx, bestSize = i, sz
		}
		if worstIdx == -1 || sz > worstSize {
			worstIdx, worstSize = i, sz
		}
	}

	if bestIdx != -1 {
		buf := p.slots[bestIdx].buf
		buf.poolSize = 0
		p.allocs++
		if Debug {
			Log("pool: best-fit hit slot=%d size=%d wanted=%d", bestIdx, bestSize, size)
		}
		return buf, nil
	}

	if worstIdx != -1 {
		victim := p.slots[worstIdx].buf
		p.slots[worstIdx] = poolSlot{}
		p.evictions++
		if Debug {
			Log("pool: evicting worst-case slot=%d size=%d to make room for %d", worstIdx, worstSize, size)
		}
		return nil, victim
	}

	p.allocs++
	return nil, nil
}

// free resets owner to Ignored and places buf in the first empty slot,
// or signals the buffer must be destroyed immediately if the pool is
// full.
func (p *BufferPool) free(buf *Buffer) (destroy bool) {
	buf.Owner = IgnoredOwner
	buf.poolSize = buf.Size

	p.lock.Lock()
	defer p.lock.Unlock()

	for i, s := range p.slots {
		if !s.idle {
			p.slots[i] = poolSlot{idle: true, buf: buf}
			return false
		}
	}
	if Debug {
		Log("pool: full (%d slots), destroying buffer %s directly", len(p.slots), buf.Label)
	}
	return true
}

// drain destroys every idle buffer, used on Context.Close.
func (p *BufferPool) drain() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i, s := range p.slots {
		if s.idle {
			s.buf.destroyBuffer()
			p.slots[i] = poolSlot{}
		}
	}
}

// PoolAlloc allocates a device-local buffer of at least size bytes,
// reusing an idle pool buffer when possible.
func (c *Context) PoolAlloc(label string, size uint64) (*Buffer, error) {
	reused, evicted := c.Pool.malloc(size)
	if reused != nil {
		return reused, nil
	}
	if evicted != nil {
		evicted.destroyBuffer()
	}
	return c.createBuffer(label, size, MemoryFlags{DeviceLocal: true})
}

// PoolFree returns buf to the pool, destroying it immediately if the
// pool's slot array is full.
func (c *Context) PoolFree(buf *Buffer) {
	if buf == nil {
		return
	}
	if c.Pool.free(buf) {
		buf.destroyBuffer()
	}
}
