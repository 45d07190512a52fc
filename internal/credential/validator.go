package credential

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingBearer is returned when the Authorization header is absent
	// or not a Bearer token.
	ErrMissingBearer = errors.New("missing bearer token")
	// ErrUnknownCredential is returned when no credential matches the
	// token's hash.
	ErrUnknownCredential = errors.New("unknown credential")
	// ErrCredentialInvalid is returned for a credential that exists but is
	// expired or revoked.
	ErrCredentialInvalid = errors.New("credential expired or revoked")
)

// Validator authenticates incoming requests against a Store.
type Validator struct {
	store Store
}

func NewValidator(store Store) *Validator {
	return &Validator{store: store}
}

// ExtractBearer pulls the raw token out of an Authorization header of the
// form "Bearer <token>", matching the scheme case-insensitively (so
// "bearer ..." and "BEARER ..." are both accepted, as
// auth.py:extract_api_key_from_header does).
func ExtractBearer(r *http.Request) (string, error) {
	authz := r.Header.Get("Authorization")
	scheme, tok, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingBearer
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrMissingBearer
	}
	return tok, nil
}

// Authenticate extracts the bearer token from r, hashes it, and looks up the
// matching credential. It returns ErrMissingBearer, ErrUnknownCredential, or
// ErrCredentialInvalid on failure — the dispatcher answers all three with
// the same 401 and message, so a caller can't tell which check failed.
func (v *Validator) Authenticate(ctx context.Context, r *http.Request) (*Credential, error) {
	raw, err := ExtractBearer(r)
	if err != nil {
		return nil, err
	}
	cred, err := v.store.GetByHash(ctx, Hash(raw))
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrUnknownCredential
	}
	if !cred.IsValid() {
		return nil, ErrCredentialInvalid
	}
	return cred, nil
}
