package gpu

import "testing"

func TestPoolBestFitReuse(t *testing.T) {
	p := newBufferPool(4)
	big := &Buffer{Label: "big", Size: 1024}
	if destroy := p.free(big); destroy {
		t.Fatalf("unexpected destroy on free into an empty pool")
	}

	reused, evicted := p.malloc(512)
	if evicted != nil {
		t.Fatalf("expected a best-fit hit, got an eviction instead")
	}
	if reused != big {
		t.Fatalf("expected the freed buffer to be reused")
	}
	if reused.poolSize != 0 {
		t.Errorf("expected poolSize reset to 0 on checkout, got %d", reused.poolSize)
	}
}

func TestPoolWorstCaseEviction(t *testing.T) {
	p := newBufferPool(1)
	small := &Buffer{Label: "small", Size: 64}
	p.free(small)

	// pool has one idle slot too small to satisfy a 1024-byte request;
	// malloc should evict it and report no reused buffer.
	reused, evicted := p.malloc(1024)
	if reused != nil {
		t.Fatalf("did not expect a best-fit hit")
	}
	if evicted != small {
		t.Fatalf("expected the only idle buffer to be evicted")
	}
	if p.evictions != 1 {
		t.Errorf("expected evictions=1, got %d", p.evictions)
	}
}

func TestPoolFullSignalsDestroy(t *testing.T) {
	p := newBufferPool(1)
	a := &Buffer{Label: "a", Size: 16}
	b := &Buffer{Label: "b", Size: 16}

	if destroy := p.free(a); destroy {
		t.Fatalf("first free into an empty slot should not require destroy")
	}
	if destroy := p.free(b); !destroy {
		t.Fatalf("expected the second free to signal destroy once the pool is full")
	}
}

func TestPoolStats(t *testing.T) {
	p := newBufferPool(2)
	p.free(&Buffer{Label: "a", Size: 32})
	stats := p.Stats()
	if stats.Capacity != 2 || stats.Idle != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSpinLockLockUnlock(t *testing.T) {
	var l spinLock
	l.Lock()
	if !l.held.Load() {
		t.Fatalf("expected held=true after Lock")
	}
	l.Unlock()
	if l.held.Load() {
		t.Fatalf("expected held=false after Unlock")
	}

	done := make(chan struct{})
	go func() {
		l.Lock()
		l.Unlock()
		close(done)
	}()
	<-done
}
