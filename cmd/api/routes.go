package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moapay/backend/internal/api"
	"github.com/moapay/backend/internal/cleanup"
	"github.com/moapay/backend/internal/deposit"
	"github.com/moapay/backend/internal/ledger"
	"github.com/moapay/backend/internal/matching"
	"github.com/moapay/backend/internal/metrics"
	"github.com/moapay/backend/internal/ratelimit"
	"github.com/moapay/backend/internal/refund"
	"github.com/moapay/backend/internal/sms"
)

type application struct {
	logger   *slog.Logger
	deposits *deposit.Handler
	sms      *sms.Handler
	matches  *matching.Handler
	balance  *ledger.Handler
	refunds  *refund.Handler
	rates    *ratelimit.Handler
	cleanup  *cleanup.Handler
}

// routes builds the full route table. Admin endpoints sit under
// /api/v1/admin/ behind the adminOnly gate; the upstream gateway is
// responsible for authenticating the caller and setting X-Admin.
func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Deposits
	mux.HandleFunc("POST /api/v1/deposits/generate", app.deposits.Generate)
	mux.HandleFunc("GET /api/v1/deposits/{id}", app.deposits.Get)
	mux.HandleFunc("GET /api/v1/deposits/user/{user_id}", app.deposits.ListByUser)

	// SMS ingestion (relay webhook) and lookup
	mux.HandleFunc("POST /api/v1/sms", app.sms.Ingest)
	mux.HandleFunc("GET /api/v1/sms/{id}", app.sms.Get)

	// Balance
	mux.HandleFunc("GET /api/v1/balance/{user_id}", app.balance.GetBalance)
	mux.HandleFunc("POST /api/v1/balance/deduct", app.balance.Deduct)
	mux.HandleFunc("GET /api/v1/balance/{user_id}/charges", app.balance.ListCharges)
	mux.HandleFunc("GET /api/v1/balance/{user_id}/usages", app.balance.ListUsages)
	mux.HandleFunc("GET /api/v1/balance/{user_id}/changes", app.balance.ListChanges)

	// Self-service claim of a parked transaction
	mux.HandleFunc("POST /api/v1/matches/simple", app.matches.SimpleMatch)

	// Refunds
	mux.HandleFunc("POST /api/v1/refunds", app.refunds.Create)
	mux.HandleFunc("GET /api/v1/refunds/availability/{user_id}", app.refunds.Availability)
	mux.HandleFunc("GET /api/v1/refunds/{id}", app.refunds.Get)
	mux.HandleFunc("GET /api/v1/refunds/user/{user_id}", app.refunds.ListByUser)

	// Admin
	mux.Handle("GET /api/v1/admin/deposits", adminOnly(app.deposits.Search))
	mux.Handle("GET /api/v1/admin/sms", adminOnly(app.sms.List))
	mux.Handle("POST /api/v1/admin/matches", adminOnly(app.matches.ManualMatch))
	mux.Handle("GET /api/v1/admin/matches/unmatched", adminOnly(app.matches.ListUnmatched))
	mux.Handle("POST /api/v1/admin/balance/credit", adminOnly(app.balance.AdminCredit))
	mux.Handle("POST /api/v1/admin/refunds/{id}/decide", adminOnly(app.refunds.Decide))
	mux.Handle("GET /api/v1/admin/refunds/pending", adminOnly(app.refunds.ListPending))
	mux.Handle("GET /api/v1/admin/rate-limits/{user_id}", adminOnly(app.rates.Status))
	mux.Handle("DELETE /api/v1/admin/rate-limits/{user_id}", adminOnly(app.rates.Reset))
	mux.Handle("POST /api/v1/admin/cleanup/deposits", adminOnly(app.cleanup.ExpiredDeposits))
	mux.Handle("POST /api/v1/admin/cleanup/rate-limits", adminOnly(app.cleanup.RateLimitLog))
	mux.Handle("POST /api/v1/admin/cleanup/unmatched", adminOnly(app.cleanup.Unmatched))
	mux.Handle("POST /api/v1/admin/cleanup/run", adminOnly(app.cleanup.RunAll))

	return instrument(mux)
}

// adminOnly rejects requests the gateway has not flagged as admin traffic.
func adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin") != "true" {
			api.WriteError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route pattern.
func instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}
