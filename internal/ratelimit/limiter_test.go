package ratelimit

import (
	"context"
	"testing"
	"time"
)

func intp(v int) *int { return &v }

func noLoader() UserRuleLoader { return nil }

func TestCheckAllowedWithinLimits(t *testing.T) {
	cfg := Config{
		Global:      Rule{MaxConcurrent: intp(10), MaxRequestsPerMinute: intp(100)},
		DefaultUser: Rule{MaxConcurrent: intp(2), MaxRequestsPerMinute: intp(5)},
	}
	l := New(cfg, noLoader(), nil)
	d := l.Check(context.Background(), "u1", "GET /v1/chat", false)
	if !d.Allowed() {
		t.Fatalf("expected allowed, got %v: %s", d.Result, d.Message)
	}
}

func TestCheckUserConcurrencyExceeded(t *testing.T) {
	cfg := Config{
		Global:      Rule{MaxConcurrent: intp(10)},
		DefaultUser: Rule{MaxConcurrent: intp(1)},
	}
	l := New(cfg, noLoader(), nil)
	l.Acquire("u1", "GET /v1/chat", false, false)

	d := l.Check(context.Background(), "u1", "GET /v1/chat", false)
	if d.Result != UserLimitExceeded {
		t.Fatalf("got %v, want UserLimitExceeded", d.Result)
	}
}

func TestCheckUserFrequencyExceeded(t *testing.T) {
	cfg := Config{
		Global:      Rule{},
		DefaultUser: Rule{MaxRequestsPerMinute: intp(1)},
	}
	l := New(cfg, noLoader(), nil)
	l.Acquire("u1", "GET /v1/chat", false, false)

	d := l.Check(context.Background(), "u1", "GET /v1/chat", false)
	if d.Result != UserLimitExceeded {
		t.Fatalf("got %v, want UserLimitExceeded", d.Result)
	}
}

func TestCheckAPIOverrideExceeded(t *testing.T) {
	cfg := Config{
		Global:      Rule{MaxConcurrent: intp(10)},
		DefaultUser: Rule{MaxConcurrent: intp(10)},
		APIs: map[string]Rule{
			"GET /v1/chat": {MaxConcurrent: intp(1)},
		},
	}
	l := New(cfg, noLoader(), nil)
	l.Acquire("u1", "GET /v1/chat", false, false)

	d := l.Check(context.Background(), "u1", "GET /v1/chat", false)
	if d.Result != APILimitExceeded {
		t.Fatalf("got %v, want APILimitExceeded", d.Result)
	}
}

type fakeQueue struct{ notified int }

func (q *fakeQueue) NotifySlotAvailable() { q.notified++ }

func TestCheckGlobalFullQueuesWhenQueueConfigured(t *testing.T) {
	cfg := Config{
		Global:      Rule{MaxConcurrent: intp(1)},
		DefaultUser: Rule{MaxConcurrent: intp(10)},
	}
	l := New(cfg, noLoader(), &fakeQueue{})
	l.Acquire("u1", "GET /v1/chat", false, false)

	d := l.Check(context.Background(), "u2", "GET /v1/chat", false)
	if d.Result != QueueRequired {
		t.Fatalf("got %v, want QueueRequired", d.Result)
	}
}

func TestCheckGlobalFullRejectsWithoutQueue(t *testing.T) {
	cfg := Config{
		Global:      Rule{MaxConcurrent: intp(1)},
		DefaultUser: Rule{MaxConcurrent: intp(10)},
	}
	l := New(cfg, noLoader(), nil)
	l.Acquire("u1", "GET /v1/chat", false, false)

	d := l.Check(context.Background(), "u2", "GET /v1/chat", false)
	if d.Result != GlobalLimitExceeded {
		t.Fatalf("got %v, want GlobalLimitExceeded", d.Result)
	}
}

func TestReleaseFloorsAtZeroAndNotifiesQueue(t *testing.T) {
	q := &fakeQueue{}
	cfg := Config{Global: Rule{MaxConcurrent: intp(10)}, DefaultUser: Rule{MaxConcurrent: intp(10)}}
	l := New(cfg, noLoader(), q)

	l.Release("u1", "GET /v1/chat", false)
	l.Release("u1", "GET /v1/chat", false)

	if l.userConcurrent["u1"] != 0 {
		t.Errorf("user concurrent = %d, want floored at 0", l.userConcurrent["u1"])
	}
	if q.notified != 2 {
		t.Errorf("queue notified %d times, want 2", q.notified)
	}
}

func TestIncrementAndCheckFrequencyDoesNotCountRejected(t *testing.T) {
	cfg := Config{DefaultUser: Rule{MaxRequestsPerMinute: intp(1)}}
	l := New(cfg, noLoader(), nil)

	d1 := l.IncrementAndCheckFrequency(context.Background(), "u1", "GET /v1/chat")
	if !d1.Allowed() {
		t.Fatalf("first increment should be allowed, got %v", d1.Result)
	}
	d2 := l.IncrementAndCheckFrequency(context.Background(), "u1", "GET /v1/chat")
	if d2.Allowed() {
		t.Fatalf("second increment should be rejected")
	}
	if l.userRequests["u1"].Count != 1 {
		t.Errorf("rejected increment must not bump the counter, count = %d", l.userRequests["u1"].Count)
	}
}

func TestWaitForFrequencySlotTimesOut(t *testing.T) {
	cfg := Config{DefaultUser: Rule{MaxRequestsPerMinute: intp(0)}}
	l := New(cfg, noLoader(), nil)

	_, ok := l.WaitForFrequencySlot(context.Background(), "u1", "GET /v1/chat", 150*time.Millisecond)
	if ok {
		t.Fatal("expected timeout, got success")
	}
}

func TestCounterTumblesAfterWindow(t *testing.T) {
	c := &Counter{Count: 5, WindowStart: time.Now().Add(-61 * time.Second)}
	c.resetIfElapsed(time.Now())
	if c.Count != 0 {
		t.Errorf("count = %d, want 0 after window elapses", c.Count)
	}
}
