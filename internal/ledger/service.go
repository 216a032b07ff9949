package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/moapay/backend/internal/metrics"
	"github.com/moapay/backend/internal/models"
	"github.com/moapay/backend/internal/ratelimit"
)

// ErrInsufficientBalance is returned when a debit exceeds the available pool.
var ErrInsufficientBalance = errInsufficientBalance

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// Store is the repository subset the service needs.
type Store interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.LedgerBalance, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int64, refundable bool, sourceKind, description string, ref *Reference) (*models.LedgerBalance, error)
	Deduct(ctx context.Context, userID uuid.UUID, amount int64, serviceType, serviceID, description string) (*models.LedgerBalance, error)
	ListCharges(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ChargeHistory, error)
	ListUsages(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UsageHistory, error)
	ListChanges(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceChangeLog, error)
}

// Limiter gates the deduct path.
type Limiter interface {
	Allow(ctx context.Context, userID uuid.UUID, action string) (ratelimit.Result, error)
}

// Service is the balance API: reads, admin credits, and rate-limited debits.
type Service interface {
	Balance(ctx context.Context, userID uuid.UUID) (*models.LedgerBalance, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int64, refundable bool, sourceKind, description string, ref *Reference) (*models.LedgerBalance, error)
	Deduct(ctx context.Context, userID uuid.UUID, amount int64, serviceType, serviceID, description string) (*models.LedgerBalance, error)
	Charges(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ChargeHistory, error)
	Usages(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UsageHistory, error)
	Changes(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceChangeLog, error)
}

type service struct {
	store   Store
	limiter Limiter
}

func NewService(store Store, limiter Limiter) Service {
	return &service{store: store, limiter: limiter}
}

var _ Service = (*service)(nil)

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (*models.LedgerBalance, error) {
	return s.store.GetOrCreate(ctx, userID)
}

func (s *service) Credit(ctx context.Context, userID uuid.UUID, amount int64, refundable bool, sourceKind, description string, ref *Reference) (*models.LedgerBalance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	b, err := s.store.Credit(ctx, userID, amount, refundable, sourceKind, description, ref)
	if err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	metrics.BalanceCredits.WithLabelValues(sourceKind).Inc()
	metrics.BalanceCreditedTotal.Add(float64(amount))
	return b, nil
}

// Deduct is the external spend path: rate limited per user, non-refundable
// pool consumed first.
func (s *service) Deduct(ctx context.Context, userID uuid.UUID, amount int64, serviceType, serviceID, description string) (*models.LedgerBalance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	res, err := s.limiter.Allow(ctx, userID, ratelimit.ActionLedgerDeduct)
	if err != nil {
		return nil, fmt.Errorf("deduct rate limit: %w", err)
	}
	if !res.Allowed {
		metrics.RateLimitDenials.WithLabelValues(ratelimit.ActionLedgerDeduct).Inc()
		return nil, &ratelimit.Error{Action: ratelimit.ActionLedgerDeduct, Result: res}
	}
	b, err := s.store.Deduct(ctx, userID, amount, serviceType, serviceID, description)
	if err != nil {
		return nil, err
	}
	metrics.BalanceDebits.Inc()
	return b, nil
}

func (s *service) Charges(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ChargeHistory, error) {
	return s.store.ListCharges(ctx, userID, limit, offset)
}

func (s *service) Usages(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UsageHistory, error) {
	return s.store.ListUsages(ctx, userID, limit, offset)
}

func (s *service) Changes(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceChangeLog, error) {
	return s.store.ListChanges(ctx, userID, limit, offset)
}
