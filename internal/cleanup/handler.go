package cleanup

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/moapay/backend/internal/api"
)

// Handler exposes the sweeps to an external scheduler over HTTP.
type Handler struct {
	Service *Service
	Logger  *slog.Logger
}

// ExpiredDeposits handles POST /api/v1/admin/cleanup/deposits.
func (h *Handler) ExpiredDeposits(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.ExpiredDeposits(r.Context())
	if err != nil {
		h.Logger.Error("cleanup deposits", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// RateLimitLog handles POST /api/v1/admin/cleanup/rate-limits.
func (h *Handler) RateLimitLog(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.RateLimitLog(r.Context())
	if err != nil {
		h.Logger.Error("cleanup rate limits", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// Unmatched handles POST /api/v1/admin/cleanup/unmatched. An optional
// horizon_days query overrides the default retention.
func (h *Handler) Unmatched(w http.ResponseWriter, r *http.Request) {
	var horizon time.Duration
	if v := r.URL.Query().Get("horizon_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			api.WriteError(w, http.StatusBadRequest, "invalid horizon_days")
			return
		}
		horizon = time.Duration(days) * 24 * time.Hour
	}
	n, err := h.Service.UnmatchedOlderThan(r.Context(), horizon)
	if err != nil {
		h.Logger.Error("cleanup unmatched", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// RunAll handles POST /api/v1/admin/cleanup/run.
func (h *Handler) RunAll(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.RunAll(r.Context())
	if err != nil {
		h.Logger.Error("cleanup run all", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, sum)
}
