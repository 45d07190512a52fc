package adminapi

import (
	"net/http"
	"time"

	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/queue"
	"github.com/pylonproxy/pylon/internal/ratelimit"
)

// StatsHandler serves GET /stats: live rate-limit counters, wait-queue
// depth, and credential lifecycle counts, mirroring
// api_key_service.py's get_api_key_count combined with
// rate_limiter.py's get_stats.
type StatsHandler struct {
	Store   credential.Store
	Limiter *ratelimit.Limiter
	Queue   *queue.Queue // nil if no wait-queue is configured
}

type credentialCounts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
	Revoked int `json:"revoked"`
}

type statsResponse struct {
	Credentials credentialCounts `json:"credentials"`
	RateLimit   ratelimit.Stats  `json:"rateLimit"`
	Queue       *queue.Stats     `json:"queue,omitempty"`
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	creds, err := h.Store.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load credentials")
		return
	}

	var counts credentialCounts
	now := time.Now()
	for _, c := range creds {
		counts.Total++
		switch {
		case c.RevokedAt != nil:
			counts.Revoked++
		case c.ExpiresAt != nil && now.After(*c.ExpiresAt):
			counts.Expired++
		default:
			counts.Active++
		}
	}

	resp := statsResponse{
		Credentials: counts,
		RateLimit:   h.Limiter.Snapshot(),
	}
	if h.Queue != nil {
		s := h.Queue.Stats()
		resp.Queue = &s
	}
	writeJSON(w, http.StatusOK, resp)
}
