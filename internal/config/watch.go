package config

import (
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RateLimitWatcher watches a config file on disk and keeps an atomically
// readable copy of just its rate_limit section. Everything else in Config
// requires a process restart to change — only the rate-limit section is
// safe to swap live (no open connections or cached handles depend on it).
type RateLimitWatcher struct {
	path    string
	log     *slog.Logger
	current atomic.Pointer[RateLimitConfig]
	watcher *fsnotify.Watcher
}

// NewRateLimitWatcher starts watching path and seeds the current value from
// initial. Call Close when done.
func NewRateLimitWatcher(path string, initial RateLimitConfig, log *slog.Logger) (*RateLimitWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	rw := &RateLimitWatcher{path: path, log: log, watcher: w}
	rw.current.Store(&initial)
	go rw.loop()
	return rw, nil
}

// Current returns the most recently loaded rate-limit section.
func (w *RateLimitWatcher) Current() RateLimitConfig {
	return *w.current.Load()
}

func (w *RateLimitWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *RateLimitWatcher) reload() {
	b, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Error("config hot-reload: read failed", slog.String("error", err.Error()))
		return
	}
	var full Config
	if err := yaml.Unmarshal(b, &full); err != nil {
		w.log.Error("config hot-reload: parse failed", slog.String("error", err.Error()))
		return
	}
	applyDefaults(&full)
	if err := Validate(&full); err != nil {
		w.log.Error("config hot-reload: validation failed, keeping previous rate_limit section", slog.String("error", err.Error()))
		return
	}
	w.current.Store(&full.RateLimit)
	w.log.Info("config hot-reload: rate_limit section updated")
}

// Close stops the underlying filesystem watch.
func (w *RateLimitWatcher) Close() error {
	return w.watcher.Close()
}
