package upstream

import "net/http"

// hopByHopHeaders are stripped from both the outgoing request and the
// incoming response — connection-scoped headers that must never be
// forwarded verbatim across a proxy hop. Mirrors
// original_source/pylon/services/proxy.py's _filter_headers.
var hopByHopHeaders = map[string]struct{}{
	"authorization":       {},
	"host":                {},
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"content-length":      {},
}

// FilterHeaders returns a copy of h with hop-by-hop headers removed.
func FilterHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if _, skip := hopByHopHeaders[stdHeaderKeyLower(k)]; skip {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

func stdHeaderKeyLower(k string) string {
	// http.Header keys are already canonicalized (e.g. "Content-Length");
	// compare case-insensitively via CanonicalHeaderKey's lowercase form.
	b := []byte(k)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
