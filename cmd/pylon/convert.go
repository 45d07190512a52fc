package main

import (
	"context"

	"github.com/pylonproxy/pylon/internal/config"
	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/ratelimit"
)

// toRule converts config's independently-declared RateLimitRule into
// ratelimit's. The two types are structurally identical but separate so
// that internal/ratelimit doesn't import internal/config.
func toRule(r config.RateLimitRule) ratelimit.Rule {
	return ratelimit.Rule{
		MaxConcurrent:        r.MaxConcurrent,
		MaxRequestsPerMinute: r.MaxRequestsPerMinute,
		MaxSSEConnections:    r.MaxSSEConnections,
	}
}

// toRatelimitConfig builds the limiter's static Config from the loaded
// yaml section, compiling api_patterns in declaration order.
func toRatelimitConfig(rc config.RateLimitConfig) ratelimit.Config {
	apis := make(map[string]ratelimit.Rule, len(rc.APIs))
	for k, v := range rc.APIs {
		apis[k] = toRule(v)
	}
	patterns := make([]ratelimit.PatternRule, 0, len(rc.APIPatterns))
	for _, p := range rc.APIPatterns {
		patterns = append(patterns, ratelimit.NewPatternRule(p.Pattern, toRule(p.Rule)))
	}
	return ratelimit.Config{
		Global:      toRule(rc.Global),
		DefaultUser: toRule(rc.DefaultUser),
		APIs:        apis,
		APIPatterns: patterns,
	}
}

// credentialRuleLoader adapts credential.Store to ratelimit.UserRuleLoader,
// so a credential's own RateLimitConfig overrides the configured default
// for that user without the limiter knowing anything about credentials.
type credentialRuleLoader struct {
	store credential.Store
}

func (l credentialRuleLoader) LoadUserRule(ctx context.Context, userID string) (*ratelimit.Rule, error) {
	c, err := l.store.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.RateLimitConfig == nil {
		return nil, nil
	}
	rule := ratelimit.Rule{
		MaxConcurrent:        c.RateLimitConfig.MaxConcurrent,
		MaxRequestsPerMinute: c.RateLimitConfig.MaxRequestsPerMinute,
		MaxSSEConnections:    c.RateLimitConfig.MaxSSEConnections,
	}
	return &rule, nil
}
