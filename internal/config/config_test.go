package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pylon.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
downstream:
  base_url: http://localhost:9000
admin:
  jwt_secret: test-secret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ProxyAddr != ":8000" {
		t.Errorf("proxy addr default = %q, want :8000", cfg.Server.ProxyAddr)
	}
	if cfg.Server.AdminAddr != ":8001" {
		t.Errorf("admin addr default = %q, want :8001", cfg.Server.AdminAddr)
	}
	if *cfg.RateLimit.Global.MaxConcurrent != 50 {
		t.Errorf("global max concurrent = %d, want 50", *cfg.RateLimit.Global.MaxConcurrent)
	}
	if *cfg.RateLimit.DefaultUser.MaxRequestsPerMinute != 60 {
		t.Errorf("user max rpm = %d, want 60", *cfg.RateLimit.DefaultUser.MaxRequestsPerMinute)
	}
	if cfg.Queue.MaxSize != 100 {
		t.Errorf("queue max size = %d, want 100", cfg.Queue.MaxSize)
	}
	if cfg.SSE.IdleTimeoutSeconds != 60 {
		t.Errorf("sse idle timeout = %d, want 60", cfg.SSE.IdleTimeoutSeconds)
	}
}

func TestLoadMissingBaseURL(t *testing.T) {
	path := writeTempConfig(t, `
admin:
  jwt_secret: test-secret
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing downstream.base_url")
	}
}

func TestLoadSamePorts(t *testing.T) {
	path := writeTempConfig(t, `
server:
  proxy_addr: ":9000"
  admin_addr: ":9000"
downstream:
  base_url: http://localhost:9000
admin:
  jwt_secret: test-secret
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when proxy and admin addrs collide")
	}
}

func TestValidateRejectsDuplicatePattern(t *testing.T) {
	cfg := &Config{
		Downstream: DownstreamConfig{BaseURL: "http://localhost:9000"},
		Admin:      AdminConfig{JWTSecret: "x"},
		Server:     ServerConfig{ProxyAddr: ":1", AdminAddr: ":2"},
		Queue:      QueueConfig{TimeoutSeconds: 1},
		SSE:        SSEConfig{IdleTimeoutSeconds: 1},
		RateLimit: RateLimitConfig{
			APIPatterns: []APIPatternRule{
				{Pattern: "/v1/*"},
				{Pattern: "/v1/*"},
			},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate pattern")
	}
}

func TestValidateRejectsNegativeRule(t *testing.T) {
	neg := -1
	cfg := &Config{
		Downstream: DownstreamConfig{BaseURL: "http://localhost:9000"},
		Admin:      AdminConfig{JWTSecret: "x"},
		Server:     ServerConfig{ProxyAddr: ":1", AdminAddr: ":2"},
		Queue:      QueueConfig{TimeoutSeconds: 1},
		SSE:        SSEConfig{IdleTimeoutSeconds: 1},
		RateLimit: RateLimitConfig{
			APIs: map[string]RateLimitRule{
				"chat": {MaxConcurrent: &neg},
			},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative max_concurrent")
	}
}
