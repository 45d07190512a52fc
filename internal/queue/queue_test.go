package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pylonproxy/pylon/internal/credential"
)

type manualProber struct {
	mu    sync.Mutex
	avail bool
}

func (p *manualProber) TryAcquireGlobalSlot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.avail {
		p.avail = false
		return true
	}
	return false
}

func (p *manualProber) open() {
	p.mu.Lock()
	p.avail = true
	p.mu.Unlock()
}

func TestEnqueueAcquiresWhenSlotOpens(t *testing.T) {
	prober := &manualProber{}
	q := New(10, time.Second, prober)

	go func() {
		time.Sleep(20 * time.Millisecond)
		prober.open()
	}()

	r := q.Enqueue(context.Background(), "u1", credential.PriorityNormal)
	if r != Acquired {
		t.Fatalf("got %v, want Acquired", r)
	}
}

func TestEnqueueTimesOut(t *testing.T) {
	prober := &manualProber{}
	q := New(10, 50*time.Millisecond, prober)

	r := q.Enqueue(context.Background(), "u1", credential.PriorityNormal)
	if r != Timeout {
		t.Fatalf("got %v, want Timeout", r)
	}
}

func TestHighPriorityPreemptsLow(t *testing.T) {
	prober := &manualProber{}
	q := New(2, 2*time.Second, prober)

	lowDone := make(chan Result, 1)
	go func() {
		lowDone <- q.Enqueue(context.Background(), "low", credential.PriorityLow)
	}()
	time.Sleep(20 * time.Millisecond) // let low enqueue first

	// Fill the queue to maxSize so the next enqueue must preempt.
	normalDone := make(chan Result, 1)
	go func() {
		normalDone <- q.Enqueue(context.Background(), "normal", credential.PriorityNormal)
	}()
	time.Sleep(20 * time.Millisecond)

	highDone := make(chan Result, 1)
	go func() {
		highDone <- q.Enqueue(context.Background(), "high", credential.PriorityHigh)
	}()

	select {
	case r := <-lowDone:
		if r != Preempted {
			t.Fatalf("low priority got %v, want Preempted", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for low priority to be preempted")
	}

	prober.open()
	prober.open()
	<-normalDone
	<-highDone
}

func TestLowPriorityNeverPreempts(t *testing.T) {
	prober := &manualProber{}
	q := New(1, 100*time.Millisecond, prober)

	first := make(chan Result, 1)
	go func() { first <- q.Enqueue(context.Background(), "u1", credential.PriorityNormal) }()
	time.Sleep(20 * time.Millisecond)

	r := q.Enqueue(context.Background(), "u2", credential.PriorityLow)
	if r != Timeout {
		t.Fatalf("low priority got %v, want Timeout (cannot preempt)", r)
	}

	prober.open()
	<-first
}

func TestStatsByPriority(t *testing.T) {
	prober := &manualProber{}
	q := New(10, 2*time.Second, prober)

	done := make(chan Result, 1)
	go func() { done <- q.Enqueue(context.Background(), "u1", credential.PriorityHigh) }()
	time.Sleep(20 * time.Millisecond)

	stats := q.Stats()
	if stats.Size != 1 {
		t.Fatalf("size = %d, want 1", stats.Size)
	}
	if stats.ByPriority[credential.PriorityHigh] != 1 {
		t.Fatalf("by-priority high = %d, want 1", stats.ByPriority[credential.PriorityHigh])
	}

	prober.open()
	<-done
}
