package upstream

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type BreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	OpenDuration        time.Duration
	HalfOpenMaxInFlight int
}

// CircuitBreaker guards the upstream client against hammering a downstream
// that is already failing. Adapted from the teacher's mw.CircuitBreaker,
// but wired directly into upstream.Client instead of as HTTP middleware,
// since SSE responses stream well past the point a status code would tell
// the breaker anything useful.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu           sync.Mutex
	state        BreakerState
	fails        int
	opensAt      time.Time
	halfInFlight int
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 10 * time.Second
	}
	if cfg.HalfOpenMaxInFlight <= 0 {
		cfg.HalfOpenMaxInFlight = 1
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

type BreakerStats struct {
	State         BreakerState
	Failures      int
	RetryAfterSec int
}

func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	retry := 0
	if b.state == BreakerOpen {
		if rem := b.cfg.OpenDuration - time.Since(b.opensAt); rem > 0 {
			retry = int((rem + 999*time.Millisecond) / time.Second)
		}
	}
	return BreakerStats{State: b.state, Failures: b.fails, RetryAfterSec: retry}
}

// Allow reports whether a request may proceed, and for how long the caller
// should back off if not.
func (b *CircuitBreaker) Allow() (allowed bool, retryAfter time.Duration) {
	if !b.cfg.Enabled {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked(time.Now())
}

func (b *CircuitBreaker) allowLocked(now time.Time) (bool, time.Duration) {
	switch b.state {
	case BreakerClosed:
		return true, 0
	case BreakerOpen:
		if now.Sub(b.opensAt) >= b.cfg.OpenDuration {
			b.state = BreakerHalfOpen
			b.fails = 0
			b.halfInFlight = 0
			return b.allowLocked(now)
		}
		rem := b.cfg.OpenDuration - now.Sub(b.opensAt)
		if rem < 0 {
			rem = 0
		}
		return false, rem
	case BreakerHalfOpen:
		if b.halfInFlight >= b.cfg.HalfOpenMaxInFlight {
			return false, time.Second
		}
		b.halfInFlight++
		return true, 0
	default:
		return true, 0
	}
}

// Done reports the outcome of a request previously allowed through.
func (b *CircuitBreaker) Done(success bool) {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		if success {
			b.fails = 0
			return
		}
		b.fails++
		if b.fails >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.opensAt = time.Now()
		}
	case BreakerHalfOpen:
		if b.halfInFlight > 0 {
			b.halfInFlight--
		}
		if success {
			b.state = BreakerClosed
			b.fails = 0
			return
		}
		b.state = BreakerOpen
		b.opensAt = time.Now()
		b.fails = b.cfg.FailureThreshold
	case BreakerOpen:
	}
}
