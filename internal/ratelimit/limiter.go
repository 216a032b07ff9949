package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action kinds throttled by the limiter.
const (
	ActionDepositGenerate  = "deposit_generate"
	ActionRefundRequest    = "refund_request"
	ActionLedgerDeduct     = "ledger_deduct"
	ActionReviewValidation = "review_validation"
)

// Retention for recorded entries: rows expire after EntryRetention and are
// kept for AuditRetention before the cleanup sweep deletes them outright.
const (
	EntryRetention = 24 * time.Hour
	AuditRetention = 48 * time.Hour
)

// ErrUnknownAction is returned for an action kind with no configured policy.
var ErrUnknownAction = errors.New("unknown rate limit action")

// Error is what services return when a throttled action is denied. Carries
// the denial result so handlers can set Retry-After.
type Error struct {
	Action string
	Result Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Action)
}

// Policy is a sliding-window rule: at most MaxAttempts within the trailing
// Period.
type Policy struct {
	MaxAttempts int
	Period      time.Duration
}

// Config maps action kinds to policies. It is built once at startup and
// never mutated afterwards.
type Config map[string]Policy

// DefaultConfig returns the standard policy table.
func DefaultConfig() Config {
	return Config{
		ActionDepositGenerate:  {MaxAttempts: 1, Period: time.Minute},
		ActionRefundRequest:    {MaxAttempts: 3, Period: time.Hour},
		ActionLedgerDeduct:     {MaxAttempts: 10, Period: time.Minute},
		ActionReviewValidation: {MaxAttempts: 1, Period: time.Minute},
	}
}

// Result reports the outcome of a check or record attempt.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitzero"`
}

// RetryAfter returns the seconds until the window admits another attempt,
// or 0 when the result was allowed.
func (r Result) RetryAfter(now time.Time) int {
	if r.Allowed || r.ResetAt.IsZero() || !r.ResetAt.After(now) {
		return 0
	}
	return int(r.ResetAt.Sub(now).Seconds()) + 1
}

// Store is the persistence surface the limiter needs. RecordIfUnder must
// perform the window count and the insert in a single statement or
// transaction so concurrent recorders cannot both observe the same count.
// Small over-admission under concurrency is acceptable; ledger correctness
// does not depend on the limiter being exact.
type Store interface {
	CountSince(ctx context.Context, userID uuid.UUID, action string, since time.Time) (int, error)
	OldestSince(ctx context.Context, userID uuid.UUID, action string, since time.Time) (time.Time, bool, error)
	RecordIfUnder(ctx context.Context, userID uuid.UUID, action string, since time.Time, limit int, expiresAt time.Time) (bool, error)
}

// Limiter is a sliding-window rate limiter over a persistent entry store.
type Limiter struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// New returns a limiter with the given policy table.
func New(store Store, cfg Config) *Limiter {
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

// Check reports whether the user may perform the action right now, without
// recording an attempt.
func (l *Limiter) Check(ctx context.Context, userID uuid.UUID, action string) (Result, error) {
	policy, ok := l.cfg[action]
	if !ok {
		return Result{}, ErrUnknownAction
	}
	now := l.now()
	since := now.Add(-policy.Period)
	count, err := l.store.CountSince(ctx, userID, action, since)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Allowed:   count < policy.MaxAttempts,
		Remaining: max(0, policy.MaxAttempts-count),
	}
	if !res.Allowed {
		res.ResetAt, err = l.resetAt(ctx, userID, action, since, policy)
		if err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// Record re-validates allowance and records the attempt in one store
// operation. Callers should have called Check first; Record alone is still
// safe, it just cannot say which attempt in the window blocked it.
func (l *Limiter) Record(ctx context.Context, userID uuid.UUID, action string) (Result, error) {
	policy, ok := l.cfg[action]
	if !ok {
		return Result{}, ErrUnknownAction
	}
	now := l.now()
	since := now.Add(-policy.Period)
	inserted, err := l.store.RecordIfUnder(ctx, userID, action, since, policy.MaxAttempts, now.Add(EntryRetention))
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		resetAt, err := l.resetAt(ctx, userID, action, since, policy)
		if err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	count, err := l.store.CountSince(ctx, userID, action, since)
	if err != nil {
		return Result{}, err
	}
	return Result{Allowed: true, Remaining: max(0, policy.MaxAttempts-count)}, nil
}

// Allow is Check followed by Record when allowed; the common path for
// workflows that gate a mutation.
func (l *Limiter) Allow(ctx context.Context, userID uuid.UUID, action string) (Result, error) {
	res, err := l.Check(ctx, userID, action)
	if err != nil || !res.Allowed {
		return res, err
	}
	return l.Record(ctx, userID, action)
}

// Status returns the current window state for every configured action.
func (l *Limiter) Status(ctx context.Context, userID uuid.UUID) (map[string]Result, error) {
	out := make(map[string]Result, len(l.cfg))
	for action := range l.cfg {
		res, err := l.Check(ctx, userID, action)
		if err != nil {
			return nil, err
		}
		out[action] = res
	}
	return out, nil
}

// resetAt derives the next admission time from the oldest entry still inside
// the window.
func (l *Limiter) resetAt(ctx context.Context, userID uuid.UUID, action string, since time.Time, policy Policy) (time.Time, error) {
	oldest, ok, err := l.store.OldestSince(ctx, userID, action, since)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return l.now(), nil
	}
	return oldest.Add(policy.Period), nil
}
