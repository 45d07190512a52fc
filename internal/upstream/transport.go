// Package upstream forwards authenticated, rate-limit-cleared requests to
// the single configured downstream API, buffered or streamed.
package upstream

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// TransportConfig mirrors the teacher's proxy.TransportConfig, generalised
// to the single-upstream gateway (no per-route transport pooling needed).
type TransportConfig struct {
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

// NewTransport builds an http.Transport whose DNS lookups are cached via
// dnscache, refreshed on a background ticker — Pylon has exactly one
// upstream host, so a stale cache entry would wedge every request until
// restart without this.
func NewTransport(cfg TransportConfig) *http.Transport {
	resolver := &dnscache.Resolver{}
	go refreshDNSCache(resolver)

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil || len(ips) == 0 {
			return dialer.DialContext(ctx, network, addr)
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func refreshDNSCache(resolver *dnscache.Resolver) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		resolver.Refresh(true)
	}
}
