package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// UserRuleLoader resolves a per-credential rate-limit override. A nil Rule
// with a nil error means "no override for this user — use the default".
// cmd/pylon wires this to credential.Store.GetByID.
type UserRuleLoader interface {
	LoadUserRule(ctx context.Context, userID string) (*Rule, error)
}

// Queue is the subset of internal/queue.Queue the limiter drives when
// global concurrency is full. Kept as an interface so the two packages
// don't import each other directly; cmd/pylon wires the concrete
// *queue.Queue in via SetQueue.
type Queue interface {
	NotifySlotAvailable()
}

// Limiter is the process-wide multi-level rate limiter: concurrency, SSE
// connection, and tumbling-60s frequency ceilings at the user, api, and
// global levels. One Limiter serves the whole process; all state is
// in-memory and protected by mu, matching spec.md §1's no-distributed-
// coordination non-goal.
type Limiter struct {
	mu     sync.Mutex
	config Config

	loader UserRuleLoader
	group  singleflight.Group

	userRuleCache map[string]Rule

	globalConcurrent int
	userConcurrent   map[string]int
	apiConcurrent    map[string]int

	globalSSE int
	userSSE   map[string]int
	apiSSE    map[string]int

	globalRequests Counter
	userRequests   map[string]*Counter
	apiRequests    map[string]*Counter

	queue Queue
}

// New builds a Limiter. queue may be nil if no wait-queue is configured, in
// which case a saturated global concurrency ceiling rejects outright
// instead of returning QueueRequired.
func New(cfg Config, loader UserRuleLoader, queue Queue) *Limiter {
	return &Limiter{
		config:        cfg,
		loader:        loader,
		queue:         queue,
		userRuleCache: map[string]Rule{},
		userConcurrent: map[string]int{},
		apiConcurrent:  map[string]int{},
		userSSE:        map[string]int{},
		apiSSE:         map[string]int{},
		userRequests:   map[string]*Counter{},
		apiRequests:    map[string]*Counter{},
		globalRequests: Counter{WindowStart: time.Now()},
	}
}

// SetConfig atomically replaces the static rule configuration, used by the
// config hot-reload path (internal/config.RateLimitWatcher). Existing
// counters are left untouched; only the ceilings they're compared against
// change.
func (l *Limiter) SetConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = cfg
	l.userRuleCache = map[string]Rule{}
}

// SetQueue wires the wait-queue after construction, so the limiter and the
// queue can reference each other without internal/ratelimit importing
// internal/queue: construct the Limiter first (queue nil), build the Queue
// against the Limiter as its SlotProber, then call SetQueue.
func (l *Limiter) SetQueue(q Queue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = q
}

// InvalidateUserRule drops a cached per-credential override, forcing the
// next check to reload it. Called by internal/adminapi whenever a
// credential's rate-limit override is edited (spec.md §4.3).
func (l *Limiter) InvalidateUserRule(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.userRuleCache, userID)
}

func (l *Limiter) userRule(ctx context.Context, userID string) Rule {
	l.mu.Lock()
	if r, ok := l.userRuleCache[userID]; ok {
		l.mu.Unlock()
		return r
	}
	fallback := l.config.DefaultUser
	l.mu.Unlock()

	if l.loader == nil {
		return fallback
	}

	v, err, _ := l.group.Do(userID, func() (any, error) {
		return l.loader.LoadUserRule(ctx, userID)
	})
	if err != nil || v == nil {
		return fallback
	}
	override, _ := v.(*Rule)
	if override == nil {
		l.mu.Lock()
		l.userRuleCache[userID] = fallback
		l.mu.Unlock()
		return fallback
	}
	merged := override.Merge(fallback)
	l.mu.Lock()
	l.userRuleCache[userID] = merged
	l.mu.Unlock()
	return merged
}

func getCounter(m map[string]*Counter, key string, now time.Time) *Counter {
	c, ok := m[key]
	if !ok {
		c = &Counter{WindowStart: now}
		m[key] = c
	}
	c.resetIfElapsed(now)
	return c
}

// Check evaluates whether a request may proceed, in the order mandated by
// spec.md §4.2: user frequency, user concurrency/SSE, api frequency, api
// concurrency/SSE, global frequency, global concurrency/SSE. A saturated
// global concurrency ceiling yields QueueRequired if a queue is configured,
// else GlobalLimitExceeded.
func (l *Limiter) Check(ctx context.Context, userID, apiIdentifier string, isSSE bool) Decision {
	userLimit := l.userRule(ctx, userID)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	apiLimit, hasAPILimit := l.config.apiRule(apiIdentifier)
	globalLimit := l.config.Global

	// --- user level ---
	if userLimit.MaxRequestsPerMinute != nil {
		c := getCounter(l.userRequests, userID, now)
		if c.Count >= *userLimit.MaxRequestsPerMinute {
			return Decision{UserLimitExceeded, "Your request rate limit exceeded"}
		}
	}
	if isSSE {
		if userLimit.MaxSSEConnections != nil && l.userSSE[userID] >= *userLimit.MaxSSEConnections {
			return Decision{UserLimitExceeded, "Your SSE connection limit exceeded"}
		}
	} else {
		if userLimit.MaxConcurrent != nil && l.userConcurrent[userID] >= *userLimit.MaxConcurrent {
			return Decision{UserLimitExceeded, "Your concurrent request limit exceeded"}
		}
	}

	// --- api level ---
	if hasAPILimit {
		if apiLimit.MaxRequestsPerMinute != nil {
			c := getCounter(l.apiRequests, apiIdentifier, now)
			if c.Count >= *apiLimit.MaxRequestsPerMinute {
				return Decision{APILimitExceeded, "API rate limit exceeded"}
			}
		}
		if isSSE {
			if apiLimit.MaxSSEConnections != nil && l.apiSSE[apiIdentifier] >= *apiLimit.MaxSSEConnections {
				return Decision{APILimitExceeded, "API SSE connection limit exceeded"}
			}
		} else {
			if apiLimit.MaxConcurrent != nil && l.apiConcurrent[apiIdentifier] >= *apiLimit.MaxConcurrent {
				return Decision{APILimitExceeded, "API concurrent limit exceeded"}
			}
		}
	}

	// --- global level ---
	if globalLimit.MaxRequestsPerMinute != nil {
		l.globalRequests.resetIfElapsed(now)
		if l.globalRequests.Count >= *globalLimit.MaxRequestsPerMinute {
			return Decision{GlobalLimitExceeded, "System request rate limit exceeded"}
		}
	}
	if isSSE {
		if globalLimit.MaxSSEConnections != nil && l.globalSSE >= *globalLimit.MaxSSEConnections {
			return Decision{GlobalLimitExceeded, "System SSE connection limit exceeded"}
		}
	} else {
		if globalLimit.MaxConcurrent != nil && l.globalConcurrent >= *globalLimit.MaxConcurrent {
			if l.queue != nil {
				return Decision{QueueRequired, "Concurrency limit reached, entering queue"}
			}
			return Decision{GlobalLimitExceeded, "System busy, please try again later"}
		}
	}

	return Decision{Result: Allowed}
}

// Acquire increments the concurrency/SSE and frequency counters for an
// admitted request. skipGlobalConcurrent is set when the slot was already
// claimed via the wait-queue's own global-concurrency increment.
func (l *Limiter) Acquire(userID, apiIdentifier string, isSSE, skipGlobalConcurrent bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	apiLimit, hasAPILimit := l.config.apiRule(apiIdentifier)

	if isSSE {
		l.globalSSE++
		l.userSSE[userID]++
		if hasAPILimit && apiLimit.MaxSSEConnections != nil {
			l.apiSSE[apiIdentifier]++
		}
	} else {
		if !skipGlobalConcurrent {
			l.globalConcurrent++
		}
		l.userConcurrent[userID]++
		if hasAPILimit && apiLimit.MaxConcurrent != nil {
			l.apiConcurrent[apiIdentifier]++
		}
	}

	l.globalRequests.resetIfElapsed(now)
	l.globalRequests.Count++

	uc := getCounter(l.userRequests, userID, now)
	uc.Count++

	if hasAPILimit {
		ac := getCounter(l.apiRequests, apiIdentifier, now)
		ac.Count++
	}
}

// Release decrements concurrency/SSE counters, floored at zero, and notifies
// the wait-queue that a non-SSE slot may now be free.
func (l *Limiter) Release(userID, apiIdentifier string, isSSE bool) {
	l.mu.Lock()
	apiLimit, hasAPILimit := l.config.apiRule(apiIdentifier)
	if isSSE {
		l.globalSSE = floorZero(l.globalSSE - 1)
		l.userSSE[userID] = floorZero(l.userSSE[userID] - 1)
		if apiIdentifier != "" && hasAPILimit && apiLimit.MaxSSEConnections != nil {
			l.apiSSE[apiIdentifier] = floorZero(l.apiSSE[apiIdentifier] - 1)
		}
	} else {
		l.globalConcurrent = floorZero(l.globalConcurrent - 1)
		l.userConcurrent[userID] = floorZero(l.userConcurrent[userID] - 1)
		if apiIdentifier != "" && hasAPILimit && apiLimit.MaxConcurrent != nil {
			l.apiConcurrent[apiIdentifier] = floorZero(l.apiConcurrent[apiIdentifier] - 1)
		}
	}
	l.mu.Unlock()

	if l.queue != nil && !isSSE {
		l.queue.NotifySlotAvailable()
	}
}

// TryAcquireGlobalSlot is the queue's slot-probe callback: it attempts to
// claim one global concurrency slot and reports whether it succeeded.
func (l *Limiter) TryAcquireGlobalSlot() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit := l.config.Global.MaxConcurrent
	if limit == nil || l.globalConcurrent < *limit {
		l.globalConcurrent++
		return true
	}
	return false
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// CheckFrequency evaluates only the frequency ceilings (user/api/global),
// used while counting SSE events mid-stream where concurrency is already
// held for the life of the connection.
func (l *Limiter) CheckFrequency(ctx context.Context, userID, apiIdentifier string) Decision {
	userLimit := l.userRule(ctx, userID)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	apiLimit, hasAPILimit := l.config.apiRule(apiIdentifier)
	globalLimit := l.config.Global

	if userLimit.MaxRequestsPerMinute != nil {
		c := getCounter(l.userRequests, userID, now)
		if c.Count >= *userLimit.MaxRequestsPerMinute {
			return Decision{UserLimitExceeded, "Your request rate limit exceeded"}
		}
	}
	if hasAPILimit && apiLimit.MaxRequestsPerMinute != nil {
		c := getCounter(l.apiRequests, apiIdentifier, now)
		if c.Count >= *apiLimit.MaxRequestsPerMinute {
			return Decision{APILimitExceeded, "API rate limit exceeded"}
		}
	}
	if globalLimit.MaxRequestsPerMinute != nil {
		l.globalRequests.resetIfElapsed(now)
		if l.globalRequests.Count >= *globalLimit.MaxRequestsPerMinute {
			return Decision{GlobalLimitExceeded, "System request rate limit exceeded"}
		}
	}
	return Decision{Result: Allowed}
}

// IncrementAndCheckFrequency atomically checks the frequency ceilings and,
// only if all pass, increments the counters. Used per SSE event so a
// rejected event is never counted.
func (l *Limiter) IncrementAndCheckFrequency(ctx context.Context, userID, apiIdentifier string) Decision {
	userLimit := l.userRule(ctx, userID)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	apiLimit, hasAPILimit := l.config.apiRule(apiIdentifier)
	globalLimit := l.config.Global

	if userLimit.MaxRequestsPerMinute != nil {
		c := getCounter(l.userRequests, userID, now)
		if c.Count >= *userLimit.MaxRequestsPerMinute {
			return Decision{UserLimitExceeded, "Your request rate limit exceeded"}
		}
	}
	if hasAPILimit && apiLimit.MaxRequestsPerMinute != nil {
		c := getCounter(l.apiRequests, apiIdentifier, now)
		if c.Count >= *apiLimit.MaxRequestsPerMinute {
			return Decision{APILimitExceeded, "API rate limit exceeded"}
		}
	}
	if globalLimit.MaxRequestsPerMinute != nil {
		l.globalRequests.resetIfElapsed(now)
		if l.globalRequests.Count >= *globalLimit.MaxRequestsPerMinute {
			return Decision{GlobalLimitExceeded, "System request rate limit exceeded"}
		}
	}

	l.globalRequests.Count++
	getCounter(l.userRequests, userID, now).Count++
	if hasAPILimit {
		getCounter(l.apiRequests, apiIdentifier, now).Count++
	}
	return Decision{Result: Allowed}
}

// WaitForFrequencySlot polls CheckFrequency every 100ms until it passes or
// timeout elapses, mirroring rate_limiter.py's wait_for_frequency_slot. It
// returns the wait duration on success, or false on timeout.
func (l *Limiter) WaitForFrequencySlot(ctx context.Context, userID, apiIdentifier string, timeout time.Duration) (time.Duration, bool) {
	const pollInterval = 100 * time.Millisecond
	start := time.Now()
	for {
		if l.CheckFrequency(ctx, userID, apiIdentifier).Allowed() {
			return time.Since(start), true
		}
		elapsed := time.Since(start)
		if elapsed >= timeout {
			return 0, false
		}
		wait := pollInterval
		if remaining := timeout - elapsed; remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(wait):
		}
	}
}

// Stats is a point-in-time snapshot for the admin introspection surface
// (spec.md §4.7).
type Stats struct {
	GlobalConcurrent     int
	GlobalSSEConnections int
	GlobalRequests       int
	UserStats            []UserStat
}

type UserStat struct {
	UserID       string
	Concurrent   int
	SSE          int
	RequestsThisMinute int
}

// Snapshot returns the current counters. Users with no activity are omitted.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.globalRequests.resetIfElapsed(now)

	s := Stats{
		GlobalConcurrent:     l.globalConcurrent,
		GlobalSSEConnections: l.globalSSE,
		GlobalRequests:       l.globalRequests.Count,
	}
	ids := map[string]struct{}{}
	for userID := range l.userConcurrent {
		ids[userID] = struct{}{}
	}
	for userID := range l.userSSE {
		ids[userID] = struct{}{}
	}
	for userID := range l.userRequests {
		ids[userID] = struct{}{}
	}
	for userID := range ids {
		concurrent := l.userConcurrent[userID]
		sse := l.userSSE[userID]
		reqCount := 0
		if c, ok := l.userRequests[userID]; ok {
			c.resetIfElapsed(now)
			reqCount = c.Count
		}
		if concurrent > 0 || sse > 0 || reqCount > 0 {
			s.UserStats = append(s.UserStats, UserStat{
				UserID:             userID,
				Concurrent:         concurrent,
				SSE:                sse,
				RequestsThisMinute: reqCount,
			})
		}
	}
	return s
}
