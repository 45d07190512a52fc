package recorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu   sync.Mutex
	logs []RequestLog
}

func (f *fakeSink) InsertRequestLog(_ context.Context, l RequestLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordPersistsAsynchronously(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink, testLogger(), 10)
	defer r.Close()

	r.Record(RequestLog{CredentialID: "c1", APIIdentifier: "GET /v1/x"})

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("got %d logs, want 1", sink.count())
	}
}

func TestRecordDropsWhenBufferFull(t *testing.T) {
	sink := &fakeSink{}
	r := &Recorder{sink: sink, log: testLogger(), ch: make(chan RequestLog), done: make(chan struct{})}
	// No worker started: channel has zero capacity, so a non-blocking send
	// always hits the default branch and the entry is dropped.
	r.Record(RequestLog{CredentialID: "c1"})
	if sink.count() != 0 {
		t.Fatalf("expected drop, got %d persisted", sink.count())
	}
}
