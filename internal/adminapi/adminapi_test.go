package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/ratelimit"
)

type fakeStore struct {
	mu   sync.Mutex
	byID map[string]*credential.Credential
}

func newFakeStore() *fakeStore { return &fakeStore{byID: map[string]*credential.Credential{}} }

func (s *fakeStore) GetByHash(_ context.Context, hash string) (*credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.KeyHash == hash {
			return c, nil
		}
	}
	return nil, nil
}
func (s *fakeStore) GetByID(_ context.Context, id string) (*credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id], nil
}
func (s *fakeStore) List(_ context.Context) ([]*credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*credential.Credential, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	return out, nil
}
func (s *fakeStore) Create(_ context.Context, c *credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = c
	return nil
}
func (s *fakeStore) Update(_ context.Context, c *credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; !ok {
		return credential.ErrUnknownCredential
	}
	s.byID[c.ID] = c
	return nil
}
func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return credential.ErrUnknownCredential
	}
	delete(s.byID, id)
	return nil
}

func testAuth(t *testing.T) *AuthService {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return &AuthService{PasswordHash: hash, JWTSecret: "test-secret", JWTExpiry: time.Hour}
}

func TestLoginSucceedsAndIssuesUsableToken(t *testing.T) {
	auth := testAuth(t)
	store := newFakeStore()
	limiter := ratelimit.New(ratelimit.Config{}, nil, nil)
	router := NewRouter(auth, store, limiter, nil, 100, 100)

	body, _ := json.Marshal(loginRequest{Password: "correct-horse"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !auth.VerifyToken(resp.Token) {
		t.Fatalf("issued token did not verify")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	auth := testAuth(t)
	store := newFakeStore()
	limiter := ratelimit.New(ratelimit.Config{}, nil, nil)
	router := NewRouter(auth, store, limiter, nil, 100, 100)

	body, _ := json.Marshal(loginRequest{Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCredentialsRequireSession(t *testing.T) {
	auth := testAuth(t)
	store := newFakeStore()
	limiter := ratelimit.New(ratelimit.Config{}, nil, nil)
	router := NewRouter(auth, store, limiter, nil, 100, 100)

	req := httptest.NewRequest(http.MethodGet, "/credentials/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func authedRequest(t *testing.T, auth *AuthService, method, path string, body []byte) *http.Request {
	t.Helper()
	token, err := auth.issueToken()
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestCreateListAndRevokeCredential(t *testing.T) {
	auth := testAuth(t)
	store := newFakeStore()
	limiter := ratelimit.New(ratelimit.Config{}, nil, nil)
	router := NewRouter(auth, store, limiter, nil, 100, 100)

	createBody, _ := json.Marshal(createCredentialRequest{Description: "test key", Priority: credential.PriorityHigh})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodPost, "/credentials/", createBody))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", w.Code, w.Body.String())
	}
	var issued issuedCredentialResponse
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if issued.Key == "" {
		t.Fatal("expected a raw key in the create response")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/credentials/", nil))
	var list []credentialResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list len = %d, want 1", len(list))
	}

	revokeBody, _ := json.Marshal(updateCredentialRequest{Revoke: true})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodPatch, "/credentials/"+issued.ID, revokeBody))
	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var revoked credentialResponse
	if err := json.Unmarshal(w.Body.Bytes(), &revoked); err != nil {
		t.Fatalf("decode revoked: %v", err)
	}
	if revoked.RevokedAt == nil {
		t.Fatal("expected RevokedAt to be set")
	}
}

func TestStatsEndpoint(t *testing.T) {
	auth := testAuth(t)
	store := newFakeStore()
	store.byID["c1"] = &credential.Credential{ID: "c1", Priority: credential.PriorityNormal, CreatedAt: time.Now()}
	limiter := ratelimit.New(ratelimit.Config{}, nil, nil)
	router := NewRouter(auth, store, limiter, nil, 100, 100)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Credentials.Total != 1 || resp.Credentials.Active != 1 {
		t.Fatalf("unexpected credential counts: %+v", resp.Credentials)
	}
}
