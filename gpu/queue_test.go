package gpu

import "testing"

func TestSemaphoreSignalWait(t *testing.T) {
	s := newSemaphore("test")
	s.Signal()
	s.Wait() // must not panic
}

func TestSemaphoreWaitBeforeSignalPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected Wait on an unsignaled semaphore to panic")
		}
	}()
	s := newSemaphore("test")
	s.Wait()
}

func TestSemaphoreResetClearsSignal(t *testing.T) {
	s := newSemaphore("test")
	s.Signal()
	s.reset()
	defer func() {
		if recover() == nil {
			t.Errorf("expected Wait after reset to panic again")
		}
	}()
	s.Wait()
}

func TestQueueManagerSemaphoreRotationGrows(t *testing.T) {
	q := &QueueManager{Family: "test"}
	s0 := q.acquireSemaphore()
	s1 := q.acquireSemaphore()
	if s0 == s1 {
		t.Errorf("expected two distinct semaphores from a fresh ring")
	}
	if len(q.semaphores) != 2 {
		t.Errorf("expected the ring to grow to 2, got %d", len(q.semaphores))
	}
}

func TestQueueManagerCleanupResetsCursors(t *testing.T) {
	q := &QueueManager{Family: "test"}
	q.acquireSemaphore()
	q.cmdBufferIdx = 5
	q.cleanup()
	if q.semaphoreIdx != 0 || q.cmdBufferIdx != 0 {
		t.Errorf("expected cleanup to reset both cursors to zero")
	}
}
