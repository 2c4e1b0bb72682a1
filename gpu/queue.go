package gpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/openfluke/webgpu/wgpu"
)

// Semaphore is a host-side ordering ticket standing in for a binary GPU
// semaphore used to sequence work across queues. Because every logical
// QueueManager submits onto the same underlying *wgpu.Queue, and a
// wgpu.Queue executes submitted command buffers strictly in submission
// order, "wait for the submission that signals this semaphore" is
// satisfied as long as that submission was handed to Queue.Submit
// before the waiting one — which every orchestrator in this package
// guarantees by construction (it submits the producer before recording
// the consumer). Signal/Wait exist so a future multi-physical-queue
// backend can drop in real semaphores without changing any caller.
type Semaphore struct {
	label    string
	signaled atomic.Bool
}

func newSemaphore(label string) *Semaphore { return &Semaphore{label: label} }

// Signal marks this ticket as satisfied. Called once the producing
// submission has been handed to Queue.Submit.
func (s *Semaphore) Signal() { s.signaled.Store(true) }

// Wait asserts the ticket was signaled. On this single-physical-queue
// backend this can never legitimately fail — a caller that hits it
// has a queue-manager bug (waiting on a semaphore before submitting
// its producer) that would deadlock a true multi-queue backend, so
// this panics rather than silently racing ahead.
func (s *Semaphore) Wait() {
	if !s.signaled.Load() {
		panic(fmt.Sprintf("gpu: semaphore %q waited on before its signal was submitted", s.label))
	}
}

func (s *Semaphore) reset() { s.signaled.Store(false) }

// QueueManager wraps one of the backend's three logical queues
// (compute, transfer[0], transfer[1]) with its own command-encoder and
// semaphore rotation and a mutex guarding submit. All logical queues
// share the single physical *wgpu.Queue (see discoverQueues in
// context.go); Family exists purely as a label distinguishing them in
// logs and in the queue-ownership bookkeeping of Buffer.Owner.
type QueueManager struct {
	Family string
	native *wgpu.Queue
	device *wgpu.Device

	mu sync.Mutex

	cmdBufferIdx  int
	semaphores    []*Semaphore
	semaphoreIdx  int

	pending []Sequence
}

func newQueueManager(family string, device *wgpu.Device, native *wgpu.Queue) *QueueManager {
	return &QueueManager{Family: family, device: device, native: native}
}

// acquireEncoder returns a fresh one-time-submit command encoder. Real
// WebGPU CommandEncoders are inherently single-use (Finish() consumes
// them) — there is no pooled object to reuse here, only the bookkeeping
// cursor.
func (q *QueueManager) acquireEncoder(label string) (*wgpu.CommandEncoder, error) {
	q.cmdBufferIdx++
	enc, err := q.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, newErr(KindConfig, "acquireEncoder", "create command encoder", err)
	}
	return enc, nil
}

// acquireSemaphore returns the next semaphore in this queue's rotation,
// growing the ring on demand and resetting a reused slot to unsignaled.
func (q *QueueManager) acquireSemaphore() *Semaphore {
	if q.semaphoreIdx >= len(q.semaphores) {
		q.semaphores = append(q.semaphores, newSemaphore(fmt.Sprintf("%s/sem%d", q.Family, len(q.semaphores))))
	}
	s := q.semaphores[q.semaphoreIdx]
	s.reset()
	q.semaphoreIdx++
	return s
}

// cleanup resets both rotation cursors to zero. Must only be called
// when the queue is idle (no submission in flight references the
// encoders/semaphores being recycled); callers observe that contract
// by calling this only after a waitIdle.
func (q *QueueManager) cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cmdBufferIdx = 0
	q.semaphoreIdx = 0
}

// enqueue appends a sequence to this queue's pending batch without
// submitting it yet, supporting a "flush every VK_SUBMIT_BATCH tiles"
// batching scheme.
func (q *QueueManager) enqueue(seq Sequence) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, seq)
}

// flush submits every pending sequence as command buffers in a single
// batched Queue.Submit call, holding q.mu across the call and then
// clearing the pending list. WebGPU's Submit accepts a variadic list
// of command buffers with no per-buffer wait/signal semaphore
// attachment (that concept only exists in this backend's Semaphore
// bookkeeping, resolved to submission order); this still submits
// everything atomically from the caller's point of view.
func (q *QueueManager) flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return
	}
	cmds := make([]*wgpu.CommandBuffer, 0, len(q.pending))
	for _, seq := range q.pending {
		for _, sub := range seq.Submissions {
			for _, w := range sub.Waits {
				w.Wait()
			}
			cmds = append(cmds, sub.CommandBuffer)
		}
	}
	if len(cmds) > 0 {
		q.native.Submit(cmds...)
	}
	for _, seq := range q.pending {
		for _, sub := range seq.Submissions {
			for _, s := range sub.Signals {
				s.Signal()
			}
		}
	}
	q.pending = q.pending[:0]
}

// waitIdle blocks the host until every submission handed to this
// queue's physical device has completed.
func (q *QueueManager) waitIdle() {
	q.device.Poll(true, nil)
}

// newTraceID gives each Submission/Pipeline a short correlation id for
// gpu.Debug logs across the three queue ledgers.
func newTraceID() string {
	return uuid.NewString()[:8]
}
