// Package cleanup runs a background sweeper that deletes request logs past
// their retention window. Grounded on
// original_source/pylon/services/cleanup.py's CleanupService.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Sink is the subset of internal/store.Store the sweeper needs.
type Sink interface {
	DeleteRequestLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes request_logs rows older than its retention
// window.
type Sweeper struct {
	sink      Sink
	log       *slog.Logger
	retention time.Duration
	interval  time.Duration
	stop      chan struct{}
	done      chan struct{}
}

// New builds a Sweeper. retentionDays and intervalHours mirror
// DataRetentionConfig's days/cleanup_interval_hours.
func New(sink Sink, log *slog.Logger, retentionDays, intervalHours int) *Sweeper {
	return &Sweeper{
		sink:      sink,
		log:       log,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  time.Duration(intervalHours) * time.Hour,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep loop. Call Stop to shut it down.
func (s *Sweeper) Start() {
	go s.loop()
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.retention)
	n, err := s.sink.DeleteRequestLogsOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("request log cleanup failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.log.Info("cleaned up request logs", slog.Int64("deleted", n), slog.Duration("retention", s.retention))
	}
}

// Stop halts the background loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
