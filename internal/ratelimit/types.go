// Package ratelimit implements Pylon's multi-level (user/api/global) request
// rate limiting: concurrency ceilings, SSE connection ceilings, and a
// tumbling 60-second request-frequency counter. Grounded on
// original_source/pylon/services/rate_limiter.py — this is a deliberately
// different algorithm from the teacher's token-bucket limiter, because the
// window here always resets on a per-counter 60s clock rather than leaking
// continuously, and rejection falls through four ordered levels instead of
// one.
package ratelimit

import (
	"time"

	"github.com/pylonproxy/pylon/internal/classify"
)

// Result classifies the outcome of a rate-limit check.
type Result int

const (
	Allowed Result = iota
	QueueRequired
	UserLimitExceeded
	APILimitExceeded
	GlobalLimitExceeded
)

func (r Result) String() string {
	switch r {
	case Allowed:
		return "allowed"
	case QueueRequired:
		return "queue_required"
	case UserLimitExceeded:
		return "user_limit_exceeded"
	case APILimitExceeded:
		return "api_limit_exceeded"
	case GlobalLimitExceeded:
		return "global_limit_exceeded"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a Check call.
type Decision struct {
	Result  Result
	Message string
}

func (d Decision) Allowed() bool     { return d.Result == Allowed }
func (d Decision) ShouldQueue() bool { return d.Result == QueueRequired }

// Rule carries three independently-optional ceilings. A nil field means
// "no constraint at this level".
type Rule struct {
	MaxConcurrent        *int
	MaxRequestsPerMinute *int
	MaxSSEConnections    *int
}

// Merge returns a Rule with every nil field in r replaced by the
// corresponding field in fallback. r's own non-nil fields win.
func (r Rule) Merge(fallback Rule) Rule {
	out := r
	if out.MaxConcurrent == nil {
		out.MaxConcurrent = fallback.MaxConcurrent
	}
	if out.MaxRequestsPerMinute == nil {
		out.MaxRequestsPerMinute = fallback.MaxRequestsPerMinute
	}
	if out.MaxSSEConnections == nil {
		out.MaxSSEConnections = fallback.MaxSSEConnections
	}
	return out
}

// Counter is a tumbling 60-second request counter: Count resets to zero the
// first time it's examined once WindowStart is 60s or more in the past.
// This is intentionally not a sliding window or token bucket.
type Counter struct {
	Count       int
	WindowStart time.Time
}

func (c *Counter) resetIfElapsed(now time.Time) {
	if now.Sub(c.WindowStart) >= time.Minute {
		c.Count = 0
		c.WindowStart = now
	}
}

// PatternRule pairs a compiled pattern (matched via internal/classify) with
// the rule it carries.
type PatternRule struct {
	compiled classify.PatternRule
	Rule     Rule
}

// NewPatternRule compiles pattern (e.g. "POST /v1/*") and attaches rule.
func NewPatternRule(pattern string, rule Rule) PatternRule {
	return PatternRule{compiled: classify.CompilePattern(pattern), Rule: rule}
}

// Pattern returns the original pattern string.
func (p PatternRule) Pattern() string { return p.compiled.Pattern }

// Config is the limiter's full static configuration.
type Config struct {
	Global      Rule
	DefaultUser Rule
	APIs        map[string]Rule
	APIPatterns []PatternRule
}

// apiRule returns the configured rule for an api identifier: exact match
// first, then the first matching pattern, in declaration order. Returns
// (Rule{}, false) if no override exists at all.
func (c Config) apiRule(apiIdentifier string) (Rule, bool) {
	if r, ok := c.APIs[apiIdentifier]; ok {
		return r, true
	}
	for _, p := range c.APIPatterns {
		if p.compiled.Matches(apiIdentifier) {
			return p.Rule, true
		}
	}
	return Rule{}, false
}
