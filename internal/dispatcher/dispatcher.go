// Package dispatcher implements the proxy's request lifecycle:
// authenticate, classify, check rate limits, admit (directly or via the
// wait-queue), forward to the upstream, and record usage. Grounded on
// original_source/pylon/api/proxy.py's proxy_request handler.
package dispatcher

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pylonproxy/pylon/internal/classify"
	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/mw"
	"github.com/pylonproxy/pylon/internal/netx"
	"github.com/pylonproxy/pylon/internal/queue"
	"github.com/pylonproxy/pylon/internal/ratelimit"
	"github.com/pylonproxy/pylon/internal/recorder"
	"github.com/pylonproxy/pylon/internal/upstream"
)

// Dispatcher wires every component on the request path.
type Dispatcher struct {
	Validator      *credential.Validator
	Limiter        *ratelimit.Limiter
	Queue          *queue.Queue // nil if no wait-queue is configured
	Client         *upstream.Client
	Recorder       *recorder.Recorder
	TrustedProxies *netx.CIDRSet // nil means no X-Forwarded-For is ever trusted
	SSEIdleTimeout time.Duration
	Log            *slog.Logger
	Metrics        *mw.Metrics // nil disables rejection/queue/SSE gauges
}

func (d *Dispatcher) recordRejection(reason string) {
	if d.Metrics != nil {
		d.Metrics.RateLimitRejections.WithLabelValues(reason).Inc()
	}
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, slug, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: slug, Message: message})
}

// ServeHTTP implements the full proxy path for every method and path.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var body []byte
	if r.Body != nil {
		body = readAndClose(r.Body)
	}
	isSSE := isSSERequest(r, body)

	cred, err := d.Validator.Authenticate(ctx, r)
	if err != nil {
		switch err {
		case credential.ErrMissingBearer, credential.ErrUnknownCredential, credential.ErrCredentialInvalid:
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Authentication failed")
		}
		return
	}

	apiIdentifier := classify.Identify(r.Method, fullPath(r))
	mw.SetAPIIdentifier(ctx, apiIdentifier)

	decision := d.Limiter.Check(ctx, cred.ID, apiIdentifier, isSSE)
	switch decision.Result {
	case ratelimit.Allowed:
		d.Limiter.Acquire(cred.ID, apiIdentifier, isSSE, false)
	case ratelimit.QueueRequired:
		if d.Queue == nil {
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Queue not configured")
			return
		}
		result := d.Queue.Enqueue(ctx, cred.ID, cred.Priority)
		switch result {
		case queue.Acquired:
			d.Limiter.Acquire(cred.ID, apiIdentifier, isSSE, true)
		case queue.Timeout:
			d.recordRejection("queue_timeout")
			writeError(w, http.StatusGatewayTimeout, "gateway_timeout", "Queue wait timeout")
			return
		case queue.Preempted:
			d.recordRejection("preempted")
			writeError(w, http.StatusServiceUnavailable, "preempted", "Request preempted by higher priority")
			return
		}
	default:
		d.recordRejection(decision.Result.String())
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", userFacingRateLimitMessage(decision))
		return
	}

	if isSSE {
		d.handleSSE(w, r, cred, apiIdentifier, body, start)
		return
	}
	d.handleBuffered(w, r, cred, apiIdentifier, body, start)
}

func userFacingRateLimitMessage(d ratelimit.Decision) string {
	switch d.Result {
	case ratelimit.UserLimitExceeded:
		return "Your request limit exceeded"
	case ratelimit.APILimitExceeded:
		return "API rate limit exceeded"
	case ratelimit.GlobalLimitExceeded:
		return "System busy, please try again later"
	default:
		return d.Message
	}
}

func fullPath(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}

func readAndClose(rc interface{ Read([]byte) (int, error) }) []byte {
	b := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			b = append(b, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return b
}

// isSSERequest mirrors proxy.py's _is_sse_request: an Accept header
// containing "text/event-stream", or a JSON body with `"stream": true`.
func isSSERequest(r *http.Request, body []byte) bool {
	accept := r.Header.Get("Accept")
	if containsFold(accept, "text/event-stream") {
		return true
	}
	if len(body) == 0 {
		return false
	}
	return gjson.GetBytes(body, "stream").Type == gjson.True
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
