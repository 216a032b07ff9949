package deposit

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

// Handler serves the deposit endpoints.
type Handler struct {
	Service *Service
	Logger  *slog.Logger
}

type generateRequest struct {
	UserID     string `json:"user_id"`
	Nickname   string `json:"nickname"`
	AmountHint int64  `json:"amount_hint"`
}

type depositResponse struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	VirtualName   string     `json:"virtual_name"`
	AmountHint    int64      `json:"amount_hint"`
	BankName      string     `json:"bank_name"`
	AccountNumber string     `json:"account_number"`
	Status        string     `json:"status"`
	ExpiresAt     time.Time  `json:"expires_at"`
	MatchedAt     *time.Time `json:"matched_at,omitempty"`
	Reused        bool       `json:"reused,omitempty"`
}

func toDepositResponse(d *models.DepositRequest, reused bool) depositResponse {
	return depositResponse{
		ID:            d.ID,
		UserID:        d.UserID,
		VirtualName:   d.VirtualName,
		AmountHint:    d.AmountHint,
		BankName:      d.BankName,
		AccountNumber: d.AccountNumber,
		Status:        d.Status,
		ExpiresAt:     d.ExpiresAt,
		MatchedAt:     d.MatchedAt,
		Reused:        reused,
	}
}

// Generate handles POST /api/v1/deposits/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	res, err := h.Service.Generate(r.Context(), userID, req.Nickname, req.AmountHint)
	if err != nil {
		var rlErr *ratelimit.Error
		switch {
		case errors.Is(err, ErrInvalidNickname):
			api.WriteError(w, http.StatusBadRequest, "nickname is required")
		case errors.As(err, &rlErr):
			api.WriteRateLimited(w, rlErr.Result.RetryAfter(time.Now()), "deposit already generated recently, try again later")
		case errors.Is(err, ErrNameExhausted):
			h.Logger.Error("virtual name space exhausted", "user_id", userID, "nickname", req.Nickname)
			api.WriteError(w, http.StatusConflict, "could not allocate a deposit name, try again")
		default:
			h.Logger.Error("generate deposit", "user_id", userID, "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	api.WriteJSON(w, status, toDepositResponse(res.Deposit, res.Reused))
}

// Get handles GET /api/v1/deposits/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	d, err := h.Service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, "deposit not found")
			return
		}
		h.Logger.Error("get deposit", "id", id, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, toDepositResponse(d, false))
}

// Search handles GET /api/v1/admin/deposits?name=&status=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.DepositStatusPending, models.DepositStatusCompleted, models.DepositStatusExpired, models.DepositStatusFailed:
	default:
		api.WriteError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	limit, offset := api.Pagination(r)
	deposits, err := h.Service.Search(r.Context(), r.URL.Query().Get("name"), status, limit, offset)
	if err != nil {
		h.Logger.Error("search deposits", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]depositResponse, 0, len(deposits))
	for i := range deposits {
		out = append(out, toDepositResponse(&deposits[i], false))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"deposits": out})
}

// ListByUser handles GET /api/v1/deposits/user/{user_id}.
func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	limit, offset := api.Pagination(r)
	deposits, err := h.Service.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list deposits", "user_id", userID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]depositResponse, 0, len(deposits))
	for i := range deposits {
		out = append(out, toDepositResponse(&deposits[i], false))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"deposits": out})
}
