package ledger

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

var timeNow = time.Now

// Handler serves the balance endpoints.
type Handler struct {
	Service Service
	Logger  *slog.Logger
}

type balanceResponse struct {
	UserID               uuid.UUID `json:"user_id"`
	TotalBalance         int64     `json:"total_balance"`
	RefundableBalance    int64     `json:"refundable_balance"`
	NonRefundableBalance int64     `json:"non_refundable_balance"`
}

func toBalanceResponse(b *models.LedgerBalance) balanceResponse {
	return balanceResponse{
		UserID:               b.UserID,
		TotalBalance:         b.TotalBalance,
		RefundableBalance:    b.RefundableBalance,
		NonRefundableBalance: b.NonRefundableBalance,
	}
}

// GetBalance handles GET /api/v1/balance/{user_id}.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	b, err := h.Service.Balance(r.Context(), userID)
	if err != nil {
		h.Logger.Error("get balance", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, toBalanceResponse(b))
}

type deductRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	ServiceType string `json:"service_type"`
	ServiceID   string `json:"service_id"`
	Description string `json:"description"`
}

// Deduct handles POST /api/v1/balance/deduct. Non-refundable funds are
// consumed before refundable ones.
func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	if req.ServiceType == "" {
		api.WriteError(w, http.StatusBadRequest, "service_type is required")
		return
	}
	b, err := h.Service.Deduct(r.Context(), userID, req.Amount, req.ServiceType, req.ServiceID, req.Description)
	if err != nil {
		var rlErr *ratelimit.Error
		switch {
		case errors.Is(err, ErrInvalidAmount):
			api.WriteError(w, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, ErrInsufficientBalance):
			api.WriteError(w, http.StatusConflict, "insufficient balance")
		case errors.As(err, &rlErr):
			api.WriteRateLimited(w, rlErr.Result.RetryAfter(timeNow()), "too many deductions, slow down")
		default:
			h.Logger.Error("deduct balance", "user_id", userID, "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, toBalanceResponse(b))
}

type creditRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Refundable  bool   `json:"refundable"`
	SourceKind  string `json:"source_kind"`
	Description string `json:"description"`
}

// AdminCredit handles POST /api/v1/admin/balance/credit. Manual top-ups:
// bonuses and rewards are non-refundable, admin deposits may be either.
func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	sourceKind := req.SourceKind
	if sourceKind == "" {
		sourceKind = models.ChargeSourceAdmin
	}
	switch sourceKind {
	case models.ChargeSourceAdmin, models.ChargeSourceBonus, models.ChargeSourceReward:
	default:
		api.WriteError(w, http.StatusBadRequest, "invalid source_kind")
		return
	}
	b, err := h.Service.Credit(r.Context(), userID, req.Amount, req.Refundable, sourceKind, req.Description, nil)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			api.WriteError(w, http.StatusBadRequest, "amount must be positive")
			return
		}
		h.Logger.Error("admin credit", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, toBalanceResponse(b))
}

// ListCharges handles GET /api/v1/balance/{user_id}/charges.
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	limit, offset := api.Pagination(r)
	charges, err := h.Service.Charges(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list charges", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if charges == nil {
		charges = []models.ChargeHistory{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"charges": charges})
}

// ListUsages handles GET /api/v1/balance/{user_id}/usages.
func (h *Handler) ListUsages(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	limit, offset := api.Pagination(r)
	usages, err := h.Service.Usages(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list usages", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if usages == nil {
		usages = []models.UsageHistory{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"usages": usages})
}

// ListChanges handles GET /api/v1/balance/{user_id}/changes.
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	limit, offset := api.Pagination(r)
	changes, err := h.Service.Changes(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list changes", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if changes == nil {
		changes = []models.BalanceChangeLog{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"changes": changes})
}
