package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/queue"
	"github.com/pylonproxy/pylon/internal/ratelimit"
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// NewRouter builds the admin HTTP surface: unauthenticated POST /login and
// GET /healthz, and everything else behind a bearer session token.
func NewRouter(auth *AuthService, store credential.Store, limiter *ratelimit.Limiter, q *queue.Queue, loginRatePerSecond float64, loginBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	lim := newLoginLimiter(loginRatePerSecond, loginBurst)
	creds := &CredentialsHandler{Store: store, Limiter: limiter}
	stats := &StatsHandler{Store: store, Limiter: limiter, Queue: q}

	r.Post("/login", func(w http.ResponseWriter, req *http.Request) {
		if !lim.allow(sourceIP(req)) {
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many login attempts")
			return
		}
		var body loginRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
			return
		}
		token, err := auth.Authenticate(body.Password)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid password")
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{Token: token})
	})

	r.Route("/credentials", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return requireSession(auth, next.ServeHTTP)
		})
		r.Post("/", creds.Create)
		r.Get("/", creds.List)
		r.Get("/{id}", creds.Get)
		r.Patch("/{id}", creds.Update)
		r.Post("/{id}/refresh", creds.Refresh)
		r.Delete("/{id}", creds.Delete)
	})

	r.With(func(next http.Handler) http.Handler {
		return requireSession(auth, next.ServeHTTP)
	}).Get("/stats", stats.Get)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
