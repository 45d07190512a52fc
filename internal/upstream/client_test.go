package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendBufferedRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header should have been stripped before reaching upstream")
		}
		w.Header().Set("X-Upstream", "1")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	c := NewClient(upstream.URL, upstream.Client(), nil)
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-x")
	resp, err := c.Send(context.Background(), http.MethodPost, "/v1/chat", h, []byte(`{}`))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestSendStreamEmitsHeaderThenChunks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		w.Write([]byte("data: one\n\n"))
		flusher.Flush()
		w.Write([]byte("data: two\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	c := NewClient(upstream.URL, upstream.Client(), nil)
	var gotStatus int
	var chunks [][]byte
	err := c.SendStream(context.Background(), http.MethodGet, "/v1/stream", http.Header{}, nil, func(ch StreamChunk) error {
		if ch.Data == nil {
			gotStatus = ch.StatusCode
			return nil
		}
		chunks = append(chunks, ch.Data)
		return nil
	})
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}
	if gotStatus != http.StatusOK {
		t.Errorf("status = %d, want 200", gotStatus)
	}
	if len(chunks) == 0 {
		t.Error("expected at least one data chunk")
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	breaker := NewCircuitBreaker(BreakerConfig{Enabled: true, FailureThreshold: 2})
	c := NewClient(upstream.URL, upstream.Client(), breaker)

	for i := 0; i < 2; i++ {
		if _, err := c.Send(context.Background(), http.MethodGet, "/v1/x", http.Header{}, nil); err != nil {
			t.Fatalf("unexpected error before breaker opens: %v", err)
		}
	}
	if _, err := c.Send(context.Background(), http.MethodGet, "/v1/x", http.Header{}, nil); err == nil {
		t.Fatal("expected circuit-open error on third call")
	}
}
