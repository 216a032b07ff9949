// Package metrics declares the Prometheus instruments for the deposit
// pipeline. All collectors register on the default registry via promauto;
// cmd/api exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moapay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moapay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	DepositsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moapay_deposits_generated_total",
		Help: "Deposit requests created with a fresh virtual name",
	})

	DepositsReused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moapay_deposits_reused_total",
		Help: "Generate calls answered with an existing active deposit",
	})

	SmsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moapay_sms_ingested_total",
		Help: "Inbound bank notifications, labeled by outcome",
	}, []string{"outcome"})

	MatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moapay_match_results_total",
		Help: "Automatic matching outcomes (matched, unmatched)",
	}, []string{"result"})

	BalanceCredits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moapay_balance_credits_total",
		Help: "Ledger credits, labeled by charge source",
	}, []string{"source"})

	BalanceCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moapay_balance_credited_won_total",
		Help: "Sum of credited amounts in won",
	})

	BalanceDebits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moapay_balance_debits_total",
		Help: "Successful ledger deductions",
	})

	RefundDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moapay_refund_decisions_total",
		Help: "Refund request lifecycle events (created, approved, rejected)",
	}, []string{"decision"})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moapay_rate_limit_denials_total",
		Help: "Actions denied by the sliding-window limiter",
	}, []string{"action"})

	CleanupSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moapay_cleanup_swept_total",
		Help: "Rows transitioned or removed by cleanup sweeps",
	}, []string{"sweep"})
)
