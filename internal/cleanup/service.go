// Package cleanup bundles the idempotent sweeps: expiring stale deposits,
// purging spent rate-limit entries, and retiring old unmatched
// transactions. Every sweep is safe to run repeatedly and concurrently; an
// external scheduler (or the embedded periodic jobs) just fires them on an
// interval.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moapay/backend/internal/metrics"
)

// DepositSweeper expires overdue pending deposits.
type DepositSweeper interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// RateLimitStore purges expired limiter entries.
type RateLimitStore interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// UnmatchedSweeper retires old parked transactions.
type UnmatchedSweeper interface {
	PurgeUnmatchedOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// Summary reports one full sweep round.
type Summary struct {
	ExpiredDeposits  int64 `json:"expired_deposits"`
	RateLimitEntries int64 `json:"rate_limit_entries"`
	UnmatchedPurged  int64 `json:"unmatched_purged"`
}

type Service struct {
	deposits  DepositSweeper
	rates     RateLimitStore
	unmatched UnmatchedSweeper
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(deposits DepositSweeper, rates RateLimitStore, unmatched UnmatchedSweeper, logger *slog.Logger) *Service {
	return &Service{
		deposits:  deposits,
		rates:     rates,
		unmatched: unmatched,
		logger:    logger,
		now:       time.Now,
	}
}

// ExpiredDeposits transitions overdue pending deposits to expired.
func (s *Service) ExpiredDeposits(ctx context.Context) (int64, error) {
	n, err := s.deposits.ExpireStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire deposits: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired stale deposits", "count", n)
	}
	return n, nil
}

// RateLimitLog deletes limiter entries past retention plus audit grace.
func (s *Service) RateLimitLog(ctx context.Context) (int64, error) {
	n, err := s.rates.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge rate limit log: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged rate limit entries", "count", n)
		metrics.CleanupSwept.WithLabelValues("rate_limit_entries").Add(float64(n))
	}
	return n, nil
}

// UnmatchedOlderThan retires unresolved parked transactions older than the
// horizon to ignored; zero means the default retention.
func (s *Service) UnmatchedOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	n, err := s.unmatched.PurgeUnmatchedOlderThan(ctx, horizon)
	if err != nil {
		return 0, fmt.Errorf("purge unmatched: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged unmatched transactions", "count", n)
		metrics.CleanupSwept.WithLabelValues("unmatched_transactions").Add(float64(n))
	}
	return n, nil
}

// RunAll executes every sweep and keeps going past individual failures so
// one broken sweep doesn't starve the others.
func (s *Service) RunAll(ctx context.Context) (*Summary, error) {
	var sum Summary
	var firstErr error

	if n, err := s.ExpiredDeposits(ctx); err != nil {
		firstErr = err
	} else {
		sum.ExpiredDeposits = n
	}
	if n, err := s.RateLimitLog(ctx); err != nil && firstErr == nil {
		firstErr = err
	} else {
		sum.RateLimitEntries = n
	}
	if n, err := s.UnmatchedOlderThan(ctx, 0); err != nil && firstErr == nil {
		firstErr = err
	} else {
		sum.UnmatchedPurged = n
	}
	return &sum, firstErr
}
