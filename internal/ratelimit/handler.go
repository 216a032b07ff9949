package ratelimit

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/moapay/backend/internal/api"
)

// Handler exposes the admin view of the limiter.
type Handler struct {
	Limiter *Limiter
	Repo    *Repository
	Logger  *slog.Logger
}

// Status handles GET /api/v1/admin/rate-limits/{user_id}: the live window
// state for every configured action.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	status, err := h.Limiter.Status(r.Context(), userID)
	if err != nil {
		h.Logger.Error("rate limit status", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "actions": status})
}

// Reset handles DELETE /api/v1/admin/rate-limits/{user_id}. An optional
// action query limits the reset to one action kind.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	action := r.URL.Query().Get("action")
	n, err := h.Repo.ResetUser(r.Context(), userID, action)
	if err != nil {
		h.Logger.Error("rate limit reset", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.Logger.Info("rate limit reset", "user_id", userID, "action", action, "removed", n)
	api.WriteJSON(w, http.StatusOK, map[string]int64{"removed": n})
}
