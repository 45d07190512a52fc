// Package recorder records per-request usage asynchronously so logging
// persistence never adds latency to the response path. Grounded on how
// original_source/pylon/api/proxy.py fires off a RequestLog write after
// the response has already been returned to the caller.
package recorder

import (
	"context"
	"log/slog"
	"time"
)

// RequestLog is one recorded request, mirroring
// original_source/pylon/models/request_log.py field for field.
type RequestLog struct {
	ID              string
	CredentialID    string
	APIIdentifier   string
	RequestPath     string
	RequestMethod   string
	ResponseStatus  int
	RequestTime     time.Time
	ResponseTimeMs  int64
	ClientIP        string
	IsSSE           bool
	SSEMessageCount int
}

// Sink persists a RequestLog. internal/store implements this against
// sqlite.
type Sink interface {
	InsertRequestLog(ctx context.Context, log RequestLog) error
}

// Recorder buffers RequestLog entries on a channel and persists them on a
// background worker, so Record never blocks the request path. A full
// buffer drops the incoming entry (logs a warning) rather than
// blocking — usage analytics must never become a source of backpressure
// on the proxy itself.
type Recorder struct {
	sink   Sink
	log    *slog.Logger
	ch     chan RequestLog
	done   chan struct{}
}

func New(sink Sink, log *slog.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	r := &Recorder{
		sink: sink,
		log:  log,
		ch:   make(chan RequestLog, bufferSize),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues a log entry without blocking the caller. If the buffer is
// full the entry is dropped and a warning logged.
func (r *Recorder) Record(entry RequestLog) {
	select {
	case r.ch <- entry:
	default:
		r.log.Warn("recorder buffer full, dropping request log",
			slog.String("credential_id", entry.CredentialID),
			slog.String("api_identifier", entry.APIIdentifier))
	}
}

func (r *Recorder) run() {
	for {
		select {
		case entry := <-r.ch:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.sink.InsertRequestLog(ctx, entry); err != nil {
				r.log.Error("failed to persist request log", slog.String("error", err.Error()))
			}
			cancel()
		case <-r.done:
			return
		}
	}
}

// Close stops the background worker. Buffered entries not yet flushed are
// dropped.
func (r *Recorder) Close() {
	close(r.done)
}
