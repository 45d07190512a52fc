package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/recorder"
	"github.com/pylonproxy/pylon/internal/upstream"
)

// pylonErrorEvent mirrors proxy.py's _create_pylon_error_event: a synthetic
// SSE event injected into the stream when something goes wrong mid-relay,
// since by that point a 4xx/5xx response is no longer possible.
type pylonErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writePylonError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	body, _ := json.Marshal(pylonErrorEvent{Code: code, Message: message})
	fmt.Fprintf(w, "event: pylon_error\ndata: %s\n\n", body)
	if flusher != nil {
		flusher.Flush()
	}
}

type streamEvent struct {
	chunk upstream.StreamChunk
	err   error
}

// handleSSE relays an SSE response chunk by chunk, enforcing a per-event
// frequency limit and an idle-data timeout on top of the concurrency slot
// already acquired by the caller. Grounded on proxy.py's
// _handle_sse_request generator; translated here into a channel-based
// producer (SendStream's emit callback) and consumer (this function),
// since Go has no async generator equivalent.
func (d *Dispatcher) handleSSE(w http.ResponseWriter, r *http.Request, cred *credential.Credential, apiIdentifier string, body []byte, start time.Time) {
	defer d.Limiter.Release(cred.ID, apiIdentifier, true)
	if d.Metrics != nil {
		d.Metrics.SSEConnections.Inc()
		defer d.Metrics.SSEConnections.Dec()
	}

	flusher, _ := w.(http.Flusher)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	idleTimeout := d.SSEIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}

	events := make(chan streamEvent)
	go func() {
		err := d.Client.SendStream(ctx, r.Method, fullPath(r), r.Header, body, func(c upstream.StreamChunk) error {
			select {
			case events <- streamEvent{chunk: c}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			select {
			case events <- streamEvent{err: err}:
			case <-ctx.Done():
			}
		}
		close(events)
	}()

	var status int
	messageCount := 0
	headerWritten := false
	failureCode := ""

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

drain:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break drain
			}
			if ev.err != nil {
				if !headerWritten {
					w.Header().Set("Content-Type", "text/event-stream")
					w.WriteHeader(http.StatusOK)
					headerWritten = true
				}
				writePylonError(w, flusher, "stream_error", "Upstream stream failed")
				failureCode = "stream_error"
				break drain
			}

			if !headerWritten {
				status = ev.chunk.StatusCode
				if status >= 400 {
					w.Header().Set("Content-Type", "text/event-stream")
					w.WriteHeader(http.StatusOK)
					headerWritten = true
					writePylonError(w, flusher, "downstream_error", fmt.Sprintf("Upstream returned status %d", status))
					failureCode = "downstream_error"
					break drain
				}
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("X-Accel-Buffering", "no")
				w.WriteHeader(status)
				headerWritten = true
				continue
			}

			n := strings.Count(string(ev.chunk.Data), "data:")
			if n > 0 {
				timedOut := false
				for i := 0; i < n; i++ {
					decision := d.Limiter.IncrementAndCheckFrequency(ctx, cred.ID, apiIdentifier)
					if decision.Allowed() {
						messageCount++
						continue
					}
					if _, ok := d.Limiter.WaitForFrequencySlot(ctx, cred.ID, apiIdentifier, 60*time.Second); ok {
						messageCount++
						continue
					}
					writePylonError(w, flusher, "rate_limit_timeout", "Event frequency limit exceeded")
					failureCode = "rate_limit_timeout"
					timedOut = true
					break
				}
				if timedOut {
					break drain
				}
			}

			_, _ = w.Write(ev.chunk.Data)
			if flusher != nil {
				flusher.Flush()
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleTimeout)

		case <-timer.C:
			if !headerWritten {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusOK)
				headerWritten = true
			}
			writePylonError(w, flusher, "idle_timeout", "No data received within the idle timeout")
			failureCode = "idle_timeout"
			cancel()
			break drain
		}
	}

	if d.Recorder != nil {
		respStatus := status
		if failureCode != "" && respStatus == 0 {
			respStatus = http.StatusOK
		}
		d.Recorder.Record(recorder.RequestLog{
			CredentialID:    cred.ID,
			APIIdentifier:   apiIdentifier,
			RequestPath:     r.URL.Path,
			RequestMethod:   r.Method,
			ResponseStatus:  respStatus,
			RequestTime:     start,
			ResponseTimeMs:  time.Since(start).Milliseconds(),
			ClientIP:        d.clientIP(r),
			IsSSE:           true,
			SSEMessageCount: messageCount,
		})
	}
}
