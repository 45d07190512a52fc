package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pylonproxy/pylon/internal/adminapi"
	"github.com/pylonproxy/pylon/internal/cleanup"
	"github.com/pylonproxy/pylon/internal/config"
	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/dispatcher"
	"github.com/pylonproxy/pylon/internal/logging"
	"github.com/pylonproxy/pylon/internal/mw"
	"github.com/pylonproxy/pylon/internal/netx"
	"github.com/pylonproxy/pylon/internal/queue"
	"github.com/pylonproxy/pylon/internal/ratelimit"
	"github.com/pylonproxy/pylon/internal/recorder"
	"github.com/pylonproxy/pylon/internal/store"
	"github.com/pylonproxy/pylon/internal/upstream"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy and admin HTTP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	log := logging.New("")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log = logging.New(cfg.Logging.Level)

	db, err := store.New(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	trustedProxies, err := netx.ParseCIDRSet(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	validator := credential.NewValidator(db)

	limiter := ratelimit.New(toRatelimitConfig(cfg.RateLimit), credentialRuleLoader{store: db}, nil)
	q := queue.New(cfg.Queue.MaxSize, time.Duration(cfg.Queue.TimeoutSeconds)*time.Second, limiter)
	limiter.SetQueue(q)

	watcher, err := config.NewRateLimitWatcher(configPath, cfg.RateLimit, log)
	if err != nil {
		log.Warn("rate limit hot-reload disabled", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				limiter.SetConfig(toRatelimitConfig(watcher.Current()))
			}
		}()
	}

	breaker := upstream.NewCircuitBreaker(upstream.BreakerConfig{
		Enabled:             true,
		FailureThreshold:    5,
		OpenDuration:        10 * time.Second,
		HalfOpenMaxInFlight: 1,
	})
	transport := upstream.NewTransport(upstream.TransportConfig{
		DialTimeout:           3 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Downstream.TimeoutSeconds) * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
	})
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.Downstream.TimeoutSeconds) * time.Second,
	}
	upstreamClient := upstream.NewClient(cfg.Downstream.BaseURL, httpClient, breaker)

	rec := recorder.New(db, log, 1024)
	defer rec.Close()

	sweeper := cleanup.New(db, log, cfg.Retention.Days, cfg.Retention.CleanupIntervalHours)
	sweeper.Start()
	defer sweeper.Stop()

	reg := prometheus.NewRegistry()
	metrics := mw.NewMetrics(reg)

	dp := &dispatcher.Dispatcher{
		Validator:      validator,
		Limiter:        limiter,
		Queue:          q,
		Client:         upstreamClient,
		Recorder:       rec,
		TrustedProxies: trustedProxies,
		SSEIdleTimeout: time.Duration(cfg.SSE.IdleTimeoutSeconds) * time.Second,
		Log:            log,
		Metrics:        metrics,
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.QueueDepth.Set(float64(q.Stats().Size))
		}
	}()

	var proxyHandler http.Handler = dp
	proxyHandler = mw.AccessLog(log, proxyHandler)
	proxyHandler = mw.Instrument(metrics, proxyHandler)
	proxyHandler = mw.MaxBodyBytes(10<<20, proxyHandler)
	proxyHandler = mw.Recover(proxyHandler)
	proxyHandler = mw.RequestID(proxyHandler)

	proxyMux := http.NewServeMux()
	proxyMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	proxyMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	proxyMux.Handle("/", proxyHandler)

	auth := &adminapi.AuthService{
		PasswordHash: cfg.Admin.PasswordHash,
		JWTSecret:    cfg.Admin.JWTSecret,
		JWTExpiry:    time.Duration(cfg.Admin.JWTExpireHours) * time.Hour,
	}
	adminHandler := adminapi.NewRouter(auth, db, limiter, q, cfg.Admin.LoginRatePerSecond, cfg.Admin.LoginBurst)

	proxySrv := &http.Server{
		Addr:              cfg.Server.ProxyAddr,
		Handler:           proxyMux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           adminHandler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("pylon proxy listening", slog.String("addr", cfg.Server.ProxyAddr))
		if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("proxy server error", slog.String("error", err.Error()))
		}
	}()
	go func() {
		log.Info("pylon admin listening", slog.String("addr", cfg.Server.AdminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server error", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = proxySrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	log.Info("shutdown complete")
	return nil
}
