package matching

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/moapay/backend/internal/api"
	"github.com/moapay/backend/internal/models"
)

// Handler serves the manual-resolution endpoints.
type Handler struct {
	Service *Service
	Logger  *slog.Logger
}

type manualMatchRequest struct {
	UnmatchedID     string `json:"unmatched_id"`
	UserID          string `json:"user_id"`
	ConfirmedAmount int64  `json:"confirmed_amount"`
}

// ManualMatch handles POST /api/v1/admin/matches. Admin resolves a parked
// transaction to a user.
func (h *Handler) ManualMatch(w http.ResponseWriter, r *http.Request) {
	var req manualMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	unmatchedID, err := uuid.Parse(req.UnmatchedID)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid unmatched_id")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	charged, err := h.Service.ManualMatch(r.Context(), unmatchedID, userID, req.ConfirmedAmount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			api.WriteError(w, http.StatusNotFound, "unmatched transaction not found")
		case errors.Is(err, ErrAlreadyProcessed):
			api.WriteError(w, http.StatusConflict, "transaction already processed")
		case errors.Is(err, ErrAmountMismatch):
			api.WriteError(w, http.StatusBadRequest, "confirmed amount does not match")
		default:
			h.Logger.Error("manual match", "unmatched_id", unmatchedID, "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"charged_amount": charged})
}

type simpleMatchRequest struct {
	UserID    string `json:"user_id"`
	PayerName string `json:"payer_name"`
	Amount    int64  `json:"amount"`
}

// SimpleMatch handles POST /api/v1/matches/simple. Self-service claim: the
// caller must reproduce the payer name and amount exactly.
func (h *Handler) SimpleMatch(w http.ResponseWriter, r *http.Request) {
	var req simpleMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	charged, err := h.Service.SimpleMatch(r.Context(), userID, req.PayerName, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoMatch):
			api.WriteError(w, http.StatusNotFound, "no matching transaction found")
		case errors.Is(err, ErrAlreadyProcessed):
			api.WriteError(w, http.StatusConflict, "transaction already processed")
		default:
			h.Logger.Error("simple match", "user_id", userID, "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"charged_amount": charged})
}

// ListUnmatched handles GET /api/v1/admin/matches/unmatched.
func (h *Handler) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.UnmatchedStatusUnmatched, models.UnmatchedStatusMatched, models.UnmatchedStatusIgnored:
	default:
		api.WriteError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	limit, offset := api.Pagination(r)
	rows, err := h.Service.ListUnmatched(r.Context(), status, limit, offset)
	if err != nil {
		h.Logger.Error("list unmatched", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rows == nil {
		rows = []models.UnmatchedTransaction{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"unmatched": rows})
}
