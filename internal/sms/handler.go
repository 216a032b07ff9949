package sms

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/moapay/backend/internal/api"
	"github.com/moapay/backend/internal/models"
)

// Handler serves the SMS ingestion and log endpoints.
type Handler struct {
	Service *Service
	Logger  *slog.Logger
}

type ingestRequest struct {
	Message string `json:"message"`
}

// Ingest handles POST /api/v1/sms. The SMS relay fires this for every bank
// notification it forwards; duplicates get a 200 so the relay stops
// retrying.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Message == "" {
		api.WriteError(w, http.StatusBadRequest, "message is required")
		return
	}
	res, err := h.Service.Ingest(r.Context(), req.Message)
	if err != nil {
		h.Logger.Error("ingest sms", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusOK
	if res.Status == StatusParseFailed {
		status = http.StatusUnprocessableEntity
	}
	api.WriteJSON(w, status, res)
}

// Get handles GET /api/v1/sms/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	tx, err := h.Service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, "sms transaction not found")
			return
		}
		h.Logger.Error("get sms", "id", id, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, tx)
}

// List handles GET /api/v1/admin/sms?status=failed.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.SmsStatusReceived, models.SmsStatusProcessed, models.SmsStatusFailed, models.SmsStatusIgnored:
	default:
		api.WriteError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	limit, offset := api.Pagination(r)
	txs, err := h.Service.List(r.Context(), status, limit, offset)
	if err != nil {
		h.Logger.Error("list sms", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if txs == nil {
		txs = []models.SmsTransaction{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
