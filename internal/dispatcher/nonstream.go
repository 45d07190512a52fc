package dispatcher

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/recorder"
)

// clientIP resolves the caller's address, honoring X-Forwarded-For only
// when the immediate peer is a configured trusted proxy (spec.md §6's
// TrustedProxies). An untrusted peer's forwarded-for header is ignored so
// a client can't spoof the client IP recorded in its request log.
func (d *Dispatcher) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if d.TrustedProxies == nil || !d.TrustedProxies.Contains(net.ParseIP(host)) {
		return host
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	return host
}

// responseHeaderStrip is the narrower hop-by-hop list applied when copying
// the upstream's response back to the original caller. Deliberately
// different from upstream.FilterHeaders, which strips a broader set on the
// way out to the downstream.
var responseHeaderStrip = map[string]struct{}{
	"connection":       {},
	"keep-alive":       {},
	"transfer-encoding": {},
	"content-encoding":  {},
}

func copyResponseHeaders(dst http.Header, src http.Header) {
	for k, vv := range src {
		lower := strings.ToLower(k)
		if _, skip := responseHeaderStrip[lower]; skip {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func (d *Dispatcher) handleBuffered(w http.ResponseWriter, r *http.Request, cred *credential.Credential, apiIdentifier string, body []byte, start time.Time) {
	defer d.Limiter.Release(cred.ID, apiIdentifier, false)

	resp, err := d.Client.Send(r.Context(), r.Method, fullPath(r), r.Header, body)
	status := http.StatusBadGateway
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", "Failed to reach upstream")
	} else {
		status = resp.StatusCode
		copyResponseHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
	}

	if d.Recorder != nil {
		d.Recorder.Record(recorder.RequestLog{
			CredentialID:   cred.ID,
			APIIdentifier:  apiIdentifier,
			RequestPath:    r.URL.Path,
			RequestMethod:  r.Method,
			ResponseStatus: status,
			RequestTime:    start,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			ClientIP:       d.clientIP(r),
			IsSSE:          false,
		})
	}
}
