package gpu

import "github.com/openfluke/webgpu/wgpu"

// Submission is one recorded command buffer plus the semaphores that
// must be satisfied before it is submitted and the semaphores it
// signals afterward. On the single physical wgpu.Queue this backend
// has, "wait" is enforced by submission order rather than a real GPU
// wait.
type Submission struct {
	Label        string
	TraceID      string
	CommandBuffer *wgpu.CommandBuffer
	Waits        []*Semaphore
	Signals      []*Semaphore
}

// Sequence groups the submissions recorded between BeginSubmission and
// EndSubmission: everything a single orchestrator pass builds up
// before handing it to a QueueManager.
type Sequence struct {
	Queue       *QueueManager
	Submissions []Submission
	encoder     *wgpu.CommandEncoder
	label       string
}

// BeginSubmission opens a fresh command encoder on q and returns a new
// Sequence recording into it. WebGPU command encoders are single-use,
// unlike Vulkan's resettable command buffers, so a new encoder is
// acquired every call.
func BeginSubmission(q *QueueManager, label string) (*Sequence, error) {
	enc, err := q.acquireEncoder(label)
	if err != nil {
		return nil, err
	}
	return &Sequence{Queue: q, encoder: enc, label: label}, nil
}

// DispatchPipeline records one compute dispatch into the sequence's
// current command encoder: bind the pipeline, write push-constant data
// into the rotation slot's uniform buffer, bind the descriptor set for
// the given buffers, and dispatch enough workgroups to cover elements.
func (c *Context) DispatchPipeline(seq *Sequence, p *Pipeline, buffers []Subbuffer, pushData []byte, elements [3]uint32) error {
	slot, err := p.nextSlot(c)
	if err != nil {
		return err
	}

	if len(pushData) > 0 {
		if uint64(len(pushData)) > p.Spec.PushConstantSz {
			return newErr(KindConfig, "DispatchPipeline", p.Spec.Label, errPushConstantOverflow)
		}
		c.Queue.WriteBuffer(p.pushBuffers[slot], 0, pushData)
	}

	bg, err := c.bindGroupFor(p, slot, buffers)
	if err != nil {
		return err
	}

	pass := seq.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: p.Spec.Label})
	pass.SetPipeline(p.native)
	pass.SetBindGroup(0, bg, nil)

	wg := p.Spec.WorkgroupDenoms
	gx := divCeil(elements[0], nz(wg[0]))
	gy := divCeil(elements[1], nz(wg[1]))
	gz := divCeil(elements[2], nz(wg[2]))
	pass.DispatchWorkgroups(gx, gy, gz)
	pass.End()

	return nil
}

// EndSubmission finishes the sequence's command encoder, appends the
// resulting Submission (with the given wait/signal semaphores) to
// seq.Submissions and hands the whole sequence to its queue's pending
// list, ready for the next flush().
func (c *Context) EndSubmission(seq *Sequence, waits, signals []*Semaphore) error {
	cmd, err := seq.encoder.Finish(&wgpu.CommandBufferDescriptor{Label: seq.label})
	if err != nil {
		return newErr(KindConfig, "EndSubmission", seq.label, err)
	}
	seq.Submissions = append(seq.Submissions, Submission{
		Label:         seq.label,
		TraceID:       newTraceID(),
		CommandBuffer: cmd,
		Waits:         waits,
		Signals:       signals,
	})
	seq.Queue.enqueue(*seq)
	seq.encoder = nil
	return nil
}

// CreateSequence1 covers the common case: begin a sequence, record
// exactly one dispatch, and end it signaling a single fresh semaphore
// that callers can hand to a dependent sequence's Waits.
func (c *Context) CreateSequence1(q *QueueManager, label string, p *Pipeline, buffers []Subbuffer, pushData []byte, elements [3]uint32, waits []*Semaphore) (*Semaphore, error) {
	seq, err := BeginSubmission(q, label)
	if err != nil {
		return nil, err
	}
	if err := c.DispatchPipeline(seq, p, buffers, pushData, elements); err != nil {
		return nil, err
	}
	sig := q.acquireSemaphore()
	if err := c.EndSubmission(seq, waits, []*Semaphore{sig}); err != nil {
		return nil, err
	}
	return sig, nil
}

func divCeil(n, d uint32) uint32 {
	if d == 0 {
		d = 1
	}
	return (n + d - 1) / d
}

func nz(d uint32) uint32 {
	if d == 0 {
		return 1
	}
	return d
}
