package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Downstream DownstreamConfig `yaml:"downstream"`
	Database   DatabaseConfig   `yaml:"database"`
	Admin      AdminConfig      `yaml:"admin"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Queue      QueueConfig      `yaml:"queue"`
	SSE        SSEConfig        `yaml:"sse"`
	Retention  RetentionConfig  `yaml:"retention"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	ProxyAddr      string   `yaml:"proxy_addr"`
	AdminAddr      string   `yaml:"admin_addr"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DownstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // sqlite file path, e.g. ./data/pylon.db
}

type AdminConfig struct {
	PasswordHash       string `yaml:"password_hash"` // bcrypt
	JWTSecret          string `yaml:"jwt_secret"`
	JWTExpireHours     int    `yaml:"jwt_expire_hours"`
	LoginRatePerSecond float64 `yaml:"login_rate_per_second"`
	LoginBurst         int    `yaml:"login_burst"`
}

// RateLimitRule carries three independently-optional numeric ceilings. A nil
// pointer means "no constraint at this level" (spec.md §3).
type RateLimitRule struct {
	MaxConcurrent        *int `yaml:"max_concurrent,omitempty"`
	MaxRequestsPerMinute *int `yaml:"max_requests_per_minute,omitempty"`
	MaxSSEConnections    *int `yaml:"max_sse_connections,omitempty"`
}

type APIPatternRule struct {
	Pattern string        `yaml:"pattern"`
	Rule    RateLimitRule `yaml:",inline"`
}

type RateLimitConfig struct {
	Global      RateLimitRule            `yaml:"global"`
	DefaultUser RateLimitRule            `yaml:"default_user"`
	APIs        map[string]RateLimitRule `yaml:"apis"`
	APIPatterns []APIPatternRule         `yaml:"api_patterns"`
}

type QueueConfig struct {
	MaxSize        int `yaml:"max_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type SSEConfig struct {
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
}

type RetentionConfig struct {
	Days                 int `yaml:"days"`
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func intPtr(v int) *int { return &v }

// Load reads, defaults, and validates a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ProxyAddr == "" {
		cfg.Server.ProxyAddr = ":8000"
	}
	if cfg.Server.AdminAddr == "" {
		cfg.Server.AdminAddr = ":8001"
	}
	if cfg.Downstream.TimeoutSeconds == 0 {
		cfg.Downstream.TimeoutSeconds = 30
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "./data/pylon.db"
	}
	if cfg.Admin.JWTExpireHours == 0 {
		cfg.Admin.JWTExpireHours = 24
	}
	if cfg.Admin.LoginRatePerSecond == 0 {
		cfg.Admin.LoginRatePerSecond = 1
	}
	if cfg.Admin.LoginBurst == 0 {
		cfg.Admin.LoginBurst = 5
	}

	// Default global ceiling (50 concurrent, 500 req/min, 20 SSE) per spec.md §6.
	if cfg.RateLimit.Global.MaxConcurrent == nil {
		cfg.RateLimit.Global.MaxConcurrent = intPtr(50)
	}
	if cfg.RateLimit.Global.MaxRequestsPerMinute == nil {
		cfg.RateLimit.Global.MaxRequestsPerMinute = intPtr(500)
	}
	if cfg.RateLimit.Global.MaxSSEConnections == nil {
		cfg.RateLimit.Global.MaxSSEConnections = intPtr(20)
	}
	// Default per-user ceiling (4, 60, 2).
	if cfg.RateLimit.DefaultUser.MaxConcurrent == nil {
		cfg.RateLimit.DefaultUser.MaxConcurrent = intPtr(4)
	}
	if cfg.RateLimit.DefaultUser.MaxRequestsPerMinute == nil {
		cfg.RateLimit.DefaultUser.MaxRequestsPerMinute = intPtr(60)
	}
	if cfg.RateLimit.DefaultUser.MaxSSEConnections == nil {
		cfg.RateLimit.DefaultUser.MaxSSEConnections = intPtr(2)
	}

	if cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = 100
	}
	if cfg.Queue.TimeoutSeconds == 0 {
		cfg.Queue.TimeoutSeconds = 30
	}
	if cfg.SSE.IdleTimeoutSeconds == 0 {
		cfg.SSE.IdleTimeoutSeconds = 60
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 30
	}
	if cfg.Retention.CleanupIntervalHours == 0 {
		cfg.Retention.CleanupIntervalHours = 24
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
}

// Validate fails fast on a config that would not start the server correctly.
// spec.md §7 treats configuration errors as fatal at startup, not per-request.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Downstream.BaseURL) == "" {
		return fmt.Errorf("downstream.base_url is required")
	}
	if cfg.Server.ProxyAddr == cfg.Server.AdminAddr {
		return fmt.Errorf("server.proxy_addr and server.admin_addr must differ")
	}
	if strings.TrimSpace(cfg.Admin.JWTSecret) == "" {
		return fmt.Errorf("admin.jwt_secret is required")
	}

	for name, rule := range cfg.RateLimit.APIs {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("rate_limit.apis[%s]: %w", name, err)
		}
	}
	seen := map[string]struct{}{}
	for i, p := range cfg.RateLimit.APIPatterns {
		if strings.TrimSpace(p.Pattern) == "" {
			return fmt.Errorf("rate_limit.api_patterns[%d].pattern is required", i)
		}
		if _, ok := seen[p.Pattern]; ok {
			return fmt.Errorf("duplicate rate_limit.api_patterns entry: %q", p.Pattern)
		}
		seen[p.Pattern] = struct{}{}
		if err := validateRule(p.Rule); err != nil {
			return fmt.Errorf("rate_limit.api_patterns[%d]: %w", i, err)
		}
	}
	if cfg.Queue.MaxSize < 0 {
		return fmt.Errorf("queue.max_size cannot be negative")
	}
	if cfg.Queue.TimeoutSeconds <= 0 {
		return fmt.Errorf("queue.timeout_seconds must be > 0")
	}
	if cfg.SSE.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("sse.idle_timeout_seconds must be > 0")
	}
	return nil
}

func validateRule(r RateLimitRule) error {
	if r.MaxConcurrent != nil && *r.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent cannot be negative")
	}
	if r.MaxRequestsPerMinute != nil && *r.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("max_requests_per_minute cannot be negative")
	}
	if r.MaxSSEConnections != nil && *r.MaxSSEConnections < 0 {
		return fmt.Errorf("max_sse_connections cannot be negative")
	}
	return nil
}
