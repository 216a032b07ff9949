package refund

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/moapay/backend/internal/api"
	"github.com/moapay/backend/internal/models"
	"github.com/moapay/backend/internal/ratelimit"
)

// Handler serves the refund endpoints.
type Handler struct {
	Service *Service
	Logger  *slog.Logger
}

type createRequest struct {
	UserID string             `json:"user_id"`
	Amount int64              `json:"amount"`
	Bank   models.BankDetails `json:"bank"`
	Reason string             `json:"reason"`
}

// Create handles POST /api/v1/refunds.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	created, err := h.Service.Create(r.Context(), userID, req.Amount, req.Bank, req.Reason)
	if err != nil {
		var rlErr *ratelimit.Error
		switch {
		case errors.Is(err, ErrBelowMinimum):
			api.WriteError(w, http.StatusBadRequest, "refund amount below minimum")
		case errors.Is(err, ErrInvalidBankDetails):
			api.WriteError(w, http.StatusBadRequest, "bank details incomplete")
		case errors.Is(err, ErrExceedsRefundable):
			api.WriteError(w, http.StatusConflict, "amount exceeds refundable balance")
		case errors.Is(err, ErrAlreadyPending):
			api.WriteError(w, http.StatusConflict, "a refund request is already pending")
		case errors.As(err, &rlErr):
			api.WriteRateLimited(w, rlErr.Result.RetryAfter(time.Now()), "too many refund requests")
		default:
			h.Logger.Error("create refund", "user_id", userID, "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	api.WriteJSON(w, http.StatusCreated, created)
}

type decideRequest struct {
	Approve bool   `json:"approve"`
	Memo    string `json:"memo"`
}

// Decide handles POST /api/v1/admin/refunds/{id}/decide.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var decided *models.RefundRequest
	if req.Approve {
		decided, err = h.Service.Approve(r.Context(), id, req.Memo)
	} else {
		decided, err = h.Service.Reject(r.Context(), id, req.Memo)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			api.WriteError(w, http.StatusNotFound, "refund request not found")
		case errors.Is(err, ErrAlreadyProcessed):
			api.WriteError(w, http.StatusConflict, "refund request already processed")
		case errors.Is(err, ErrMemoRequired):
			api.WriteError(w, http.StatusBadRequest, "memo is required for rejection")
		case errors.Is(err, ErrExceedsRefundable):
			api.WriteError(w, http.StatusConflict, "refundable balance no longer covers the amount")
		default:
			h.Logger.Error("decide refund", "request_id", id, "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, decided)
}

// Availability handles GET /api/v1/refunds/availability/{user_id}.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	avail, err := h.Service.CheckAvailability(r.Context(), userID)
	if err != nil {
		h.Logger.Error("refund availability", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, avail)
}

// Get handles GET /api/v1/refunds/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	req, err := h.Service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, "refund request not found")
			return
		}
		h.Logger.Error("get refund", "request_id", id, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, req)
}

// ListByUser handles GET /api/v1/refunds/user/{user_id}.
func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	limit, offset := api.Pagination(r)
	reqs, err := h.Service.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list refunds", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if reqs == nil {
		reqs = []models.RefundRequest{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"refunds": reqs})
}

// ListPending handles GET /api/v1/admin/refunds/pending.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := api.Pagination(r)
	reqs, err := h.Service.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.Logger.Error("list pending refunds", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if reqs == nil {
		reqs = []models.RefundRequest{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"refunds": reqs})
}
