package cleanup

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSink struct {
	calls   int64
	deleted int64
}

func (f *fakeSink) DeleteRequestLogsOlderThan(context.Context, time.Time) (int64, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.deleted, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweeperRunsImmediatelyOnStart(t *testing.T) {
	sink := &fakeSink{deleted: 3}
	s := New(sink, testLogger(), 30, 24)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&sink.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt64(&sink.calls) == 0 {
		t.Fatal("expected at least one sweep before the first ticker interval")
	}
}

func TestSweeperStopsCleanly(t *testing.T) {
	sink := &fakeSink{}
	s := New(sink, testLogger(), 30, 24)
	s.Start()
	s.Stop()
}
