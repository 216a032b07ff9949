package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type stubDeposits struct {
	count int64
	err   error
	calls int
}

func (s *stubDeposits) ExpireStale(context.Context) (int64, error) {
	s.calls++
	return s.count, s.err
}

type stubRates struct {
	count int64
	err   error
	calls int
}

func (s *stubRates) PurgeExpired(context.Context, time.Time) (int64, error) {
	s.calls++
	return s.count, s.err
}

type stubUnmatched struct {
	count   int64
	err     error
	horizon time.Duration
	calls   int
}

func (s *stubUnmatched) PurgeUnmatchedOlderThan(_ context.Context, horizon time.Duration) (int64, error) {
	s.calls++
	s.horizon = horizon
	return s.count, s.err
}

func newTestService(d *stubDeposits, r *stubRates, u *stubUnmatched) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(d, r, u, logger)
}

func TestRunAllAggregatesCounts(t *testing.T) {
	d := &stubDeposits{count: 3}
	r := &stubRates{count: 7}
	u := &stubUnmatched{count: 2}
	svc := newTestService(d, r, u)

	sum, err := svc.RunAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.ExpiredDeposits != 3 || sum.RateLimitEntries != 7 || sum.UnmatchedPurged != 2 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if d.calls != 1 || r.calls != 1 || u.calls != 1 {
		t.Error("each sweep should run exactly once")
	}
}

func TestRunAllContinuesPastFailure(t *testing.T) {
	failure := errors.New("db down")
	d := &stubDeposits{err: failure}
	r := &stubRates{count: 5}
	u := &stubUnmatched{count: 1}
	svc := newTestService(d, r, u)

	sum, err := svc.RunAll(context.Background())
	if !errors.Is(err, failure) {
		t.Errorf("expected the sweep failure to surface, got %v", err)
	}
	if r.calls != 1 || u.calls != 1 {
		t.Error("remaining sweeps should still run after a failure")
	}
	if sum.RateLimitEntries != 5 || sum.UnmatchedPurged != 1 {
		t.Errorf("surviving counts should be reported: %+v", sum)
	}
}

func TestUnmatchedDefaultHorizon(t *testing.T) {
	u := &stubUnmatched{}
	svc := newTestService(&stubDeposits{}, &stubRates{}, u)

	if _, err := svc.UnmatchedOlderThan(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.horizon != 0 {
		t.Errorf("zero horizon passes through for the sweeper's default, got %v", u.horizon)
	}
}
