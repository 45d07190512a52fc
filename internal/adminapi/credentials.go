package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/ratelimit"
)

// CredentialsHandler implements CRUD over issued credentials, mirroring
// api_key_service.py's ApiKeyService one operation at a time.
type CredentialsHandler struct {
	Store   credential.Store
	Limiter *ratelimit.Limiter // InvalidateUserRule is called on any edit
}

type createCredentialRequest struct {
	Description     string                    `json:"description"`
	Priority        credential.Priority       `json:"priority"`
	ExpiresInDays   *int                      `json:"expiresInDays"`
	RateLimitConfig *credential.RateLimitRule `json:"rateLimitConfig"`
}

type credentialResponse struct {
	ID              string                    `json:"id"`
	KeyPrefix       string                    `json:"keyPrefix"`
	Description     string                    `json:"description"`
	Priority        credential.Priority       `json:"priority"`
	CreatedAt       time.Time                 `json:"createdAt"`
	ExpiresAt       *time.Time                `json:"expiresAt,omitempty"`
	RevokedAt       *time.Time                `json:"revokedAt,omitempty"`
	RateLimitConfig *credential.RateLimitRule `json:"rateLimitConfig,omitempty"`
}

type issuedCredentialResponse struct {
	credentialResponse
	Key string `json:"key"`
}

func toResponse(c *credential.Credential) credentialResponse {
	return credentialResponse{
		ID:              c.ID,
		KeyPrefix:       c.KeyPrefix,
		Description:     c.Description,
		Priority:        c.Priority,
		CreatedAt:       c.CreatedAt,
		ExpiresAt:       c.ExpiresAt,
		RevokedAt:       c.RevokedAt,
		RateLimitConfig: c.RateLimitConfig,
	}
}

// Create handles POST /credentials.
func (h *CredentialsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.Priority == "" {
		req.Priority = credential.PriorityNormal
	}
	if !req.Priority.Valid() {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "Invalid priority")
		return
	}

	raw, err := credential.Generate()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to generate credential")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		t := time.Now().AddDate(0, 0, *req.ExpiresInDays)
		expiresAt = &t
	}

	c := &credential.Credential{
		ID:              uuid.NewString(),
		KeyHash:         credential.Hash(raw),
		KeyPrefix:       credential.DisplayPrefix(raw),
		Description:     req.Description,
		Priority:        req.Priority,
		CreatedAt:       time.Now(),
		ExpiresAt:       expiresAt,
		RateLimitConfig: req.RateLimitConfig,
	}

	if err := h.Store.Create(r.Context(), c); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to persist credential")
		return
	}
	writeJSON(w, http.StatusCreated, issuedCredentialResponse{credentialResponse: toResponse(c), Key: raw})
}

// List handles GET /credentials.
func (h *CredentialsHandler) List(w http.ResponseWriter, r *http.Request) {
	creds, err := h.Store.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to list credentials")
		return
	}
	out := make([]credentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, toResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /credentials/{id}.
func (h *CredentialsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load credential")
		return
	}
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "No such credential")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(c))
}

type updateCredentialRequest struct {
	Description     *string                   `json:"description"`
	Priority        *credential.Priority      `json:"priority"`
	ExpiresInDays   *int                      `json:"expiresInDays"`
	RateLimitConfig *credential.RateLimitRule `json:"rateLimitConfig"`
	Revoke          bool                      `json:"revoke"`
}

// Update handles PATCH /credentials/{id}.
func (h *CredentialsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load credential")
		return
	}
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "No such credential")
		return
	}

	var req updateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "Invalid priority")
			return
		}
		c.Priority = *req.Priority
	}
	if req.ExpiresInDays != nil {
		t := time.Now().AddDate(0, 0, *req.ExpiresInDays)
		c.ExpiresAt = &t
	}
	if req.RateLimitConfig != nil {
		c.RateLimitConfig = req.RateLimitConfig
	}
	if req.Revoke {
		now := time.Now()
		c.RevokedAt = &now
	}

	if err := h.Store.Update(r.Context(), c); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to persist credential")
		return
	}
	if h.Limiter != nil {
		h.Limiter.InvalidateUserRule(c.ID)
	}
	writeJSON(w, http.StatusOK, toResponse(c))
}

// Refresh handles POST /credentials/{id}/refresh: rotate the key hash and
// prefix in place, keeping the id and all other settings, mirroring
// api_key_service.py's refresh_api_key.
func (h *CredentialsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load credential")
		return
	}
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "No such credential")
		return
	}

	raw, err := credential.Generate()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to generate credential")
		return
	}
	c.KeyHash = credential.Hash(raw)
	c.KeyPrefix = credential.DisplayPrefix(raw)

	if err := h.Store.Update(r.Context(), c); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to persist credential")
		return
	}
	writeJSON(w, http.StatusOK, issuedCredentialResponse{credentialResponse: toResponse(c), Key: raw})
}

// Delete handles DELETE /credentials/{id}: a hard delete, distinct from
// revoke.
func (h *CredentialsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.Delete(r.Context(), id); err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "No such credential")
		return
	}
	if h.Limiter != nil {
		h.Limiter.InvalidateUserRule(id)
	}
	w.WriteHeader(http.StatusNoContent)
}
