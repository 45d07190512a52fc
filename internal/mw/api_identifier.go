package mw

import (
	"context"
	"net/http"
)

// apiIdentifierKey stores a *string in the request context that the
// dispatcher fills in once it has classified the request (method + path
// pattern, e.g. "GET /v1/chat"). Unlike a route name known statically at
// router-setup time, the api identifier is only known once the handler
// runs, so it's carried as a mutable pointer rather than a plain value:
// middleware wrapping the dispatcher can read the final value after
// next.ServeHTTP returns.
type apiIdentifierKeyType string

const apiIdentifierKey apiIdentifierKeyType = "api_identifier"

// EnsureAPIIdentifierCarrier returns a request whose context carries an
// api-identifier carrier, creating one if the context doesn't already have
// one. Safe to call from multiple middleware layers; only the outermost
// call actually allocates.
func EnsureAPIIdentifierCarrier(r *http.Request) *http.Request {
	if _, ok := r.Context().Value(apiIdentifierKey).(*string); ok {
		return r
	}
	carrier := new(string)
	return r.WithContext(context.WithValue(r.Context(), apiIdentifierKey, carrier))
}

// SetAPIIdentifier records the classified api identifier for the current
// request. Called by internal/dispatcher once it knows it.
func SetAPIIdentifier(ctx context.Context, id string) {
	if c, ok := ctx.Value(apiIdentifierKey).(*string); ok {
		*c = id
	}
}

// APIIdentifier reads back the api identifier set by SetAPIIdentifier, or
// "unknown" if none was ever set (e.g. the request never reached the
// dispatcher — it was rejected by earlier middleware).
func APIIdentifier(ctx context.Context) string {
	if c, ok := ctx.Value(apiIdentifierKey).(*string); ok && *c != "" {
		return *c
	}
	return "unknown"
}
