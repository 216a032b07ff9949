package refund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/moapay/backend/internal/ledger"
	"github.com/moapay/backend/internal/metrics"
	"github.com/moapay/backend/internal/models"
	"github.com/moapay/backend/internal/ratelimit"
)

var (
	// ErrAlreadyPending is returned when the user already has an open request.
	ErrAlreadyPending = errAlreadyPending
	// ErrNotFound is returned for an unknown request id.
	ErrNotFound = errNotFound
	// ErrAlreadyProcessed is returned when a decision races or repeats.
	ErrAlreadyProcessed = errors.New("refund request already processed")
	// ErrBelowMinimum is returned for amounts under the refund floor.
	ErrBelowMinimum = errors.New("refund amount below minimum")
	// ErrExceedsRefundable is returned when the amount outruns the user's
	// refundable balance, at creation or at approval time.
	ErrExceedsRefundable = errors.New("refund amount exceeds refundable balance")
	// ErrMemoRequired is returned when a rejection carries no memo.
	ErrMemoRequired = errors.New("admin memo is required")
	// ErrInvalidBankDetails is returned for missing payout fields.
	ErrInvalidBankDetails = errors.New("bank details incomplete")
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the repository subset the service needs.
type Store interface {
	Create(ctx context.Context, req *models.RefundRequest) error
	Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	HasPending(ctx context.Context, userID uuid.UUID) (bool, error)
	LockByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RefundRequest, error)
	MarkDecidedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, memo string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.RefundRequest, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.RefundRequest, error)
}

// LedgerStore is the balance surface: refundable check at creation, the
// refundable-pool debit plus charge allocation at approval.
type LedgerStore interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.LedgerBalance, error)
	DebitRefundableTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, ref *ledger.Reference, description string) (*models.LedgerBalance, error)
	AllocateRefundTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
}

// Limiter gates request creation.
type Limiter interface {
	Allow(ctx context.Context, userID uuid.UUID, action string) (ratelimit.Result, error)
}

// Service drives the refund state machine: pending → approved/rejected,
// each request decided exactly once, the ledger debited only on approval.
type Service struct {
	pool    TxBeginner
	store   Store
	ledger  LedgerStore
	limiter Limiter
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(pool TxBeginner, store Store, ledgerStore LedgerStore, limiter Limiter, logger *slog.Logger) *Service {
	return &Service{
		pool:    pool,
		store:   store,
		ledger:  ledgerStore,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// Create reserves refund intent. The ledger is untouched; the refundable
// check here is advisory, approval re-validates against the live balance.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, amount int64, bank models.BankDetails, reason string) (*models.RefundRequest, error) {
	if amount < models.MinRefundAmount {
		return nil, ErrBelowMinimum
	}
	if strings.TrimSpace(bank.BankName) == "" ||
		strings.TrimSpace(bank.AccountNumber) == "" ||
		strings.TrimSpace(bank.AccountHolder) == "" {
		return nil, ErrInvalidBankDetails
	}

	res, err := s.limiter.Allow(ctx, userID, ratelimit.ActionRefundRequest)
	if err != nil {
		return nil, fmt.Errorf("refund rate limit: %w", err)
	}
	if !res.Allowed {
		metrics.RateLimitDenials.WithLabelValues(ratelimit.ActionRefundRequest).Inc()
		return nil, &ratelimit.Error{Action: ratelimit.ActionRefundRequest, Result: res}
	}

	balance, err := s.ledger.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check refundable balance: %w", err)
	}
	if amount > balance.RefundableBalance {
		return nil, ErrExceedsRefundable
	}

	req := &models.RefundRequest{
		ID:           uuid.New(),
		UserID:       userID,
		RefundAmount: amount,
		Bank:         bank,
		Reason:       reason,
		Status:       models.RefundRequestPending,
	}
	if err := s.store.Create(ctx, req); err != nil {
		if errors.Is(err, ErrAlreadyPending) {
			return nil, ErrAlreadyPending
		}
		return nil, fmt.Errorf("create refund request: %w", err)
	}
	metrics.RefundDecisions.WithLabelValues("created").Inc()
	s.logger.Info("refund request created", "request_id", req.ID, "user_id", userID, "amount", amount)
	return req, nil
}

// Approve decides pending → approved and debits the refundable pool, all in
// one transaction. The status CAS makes a concurrent second approval fail
// with ErrAlreadyProcessed instead of double-debiting.
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID, memo string) (*models.RefundRequest, error) {
	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := s.store.LockByIDTx(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Pending() {
		return nil, ErrAlreadyProcessed
	}
	ok, err := s.store.MarkDecidedTx(ctx, tx, requestID, models.RefundRequestApproved, memo, now)
	if err != nil {
		return nil, fmt.Errorf("approve refund: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyProcessed
	}
	// Balance may have shrunk since creation; the conditional debit is the
	// authoritative re-validation.
	if _, err := s.ledger.DebitRefundableTx(ctx, tx, req.UserID, req.RefundAmount,
		&ledger.Reference{Kind: "refund_request", ID: req.ID},
		"refund approved"); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, ErrExceedsRefundable
		}
		return nil, fmt.Errorf("debit refundable pool: %w", err)
	}
	if err := s.ledger.AllocateRefundTx(ctx, tx, req.UserID, req.RefundAmount); err != nil {
		return nil, fmt.Errorf("allocate refund: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = models.RefundRequestApproved
	req.AdminMemo = memo
	req.ProcessedAt = &now
	metrics.RefundDecisions.WithLabelValues("approved").Inc()
	s.logger.Info("refund approved", "request_id", requestID, "user_id", req.UserID, "amount", req.RefundAmount)
	return req, nil
}

// Reject decides pending → rejected. No ledger effect; the memo telling the
// user why is mandatory.
func (s *Service) Reject(ctx context.Context, requestID uuid.UUID, memo string) (*models.RefundRequest, error) {
	if strings.TrimSpace(memo) == "" {
		return nil, ErrMemoRequired
	}
	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := s.store.LockByIDTx(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Pending() {
		return nil, ErrAlreadyProcessed
	}
	ok, err := s.store.MarkDecidedTx(ctx, tx, requestID, models.RefundRequestRejected, memo, now)
	if err != nil {
		return nil, fmt.Errorf("reject refund: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyProcessed
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = models.RefundRequestRejected
	req.AdminMemo = memo
	req.ProcessedAt = &now
	metrics.RefundDecisions.WithLabelValues("rejected").Inc()
	s.logger.Info("refund rejected", "request_id", requestID, "user_id", req.UserID)
	return req, nil
}

// Availability is the pre-flight summary a client shows before offering the
// refund form.
type Availability struct {
	RefundableBalance int64 `json:"refundable_balance"`
	MinAmount         int64 `json:"min_amount"`
	HasPending        bool  `json:"has_pending"`
	CanRequest        bool  `json:"can_request"`
}

// CheckAvailability reports whether the user could open a refund request
// right now and how much is refundable. Advisory; Create re-validates.
func (s *Service) CheckAvailability(ctx context.Context, userID uuid.UUID) (*Availability, error) {
	balance, err := s.ledger.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check refundable balance: %w", err)
	}
	pending, err := s.store.HasPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check pending refund: %w", err)
	}
	return &Availability{
		RefundableBalance: balance.RefundableBalance,
		MinAmount:         models.MinRefundAmount,
		HasPending:        pending,
		CanRequest:        !pending && balance.RefundableBalance >= models.MinRefundAmount,
	}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.RefundRequest, error) {
	return s.store.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]models.RefundRequest, error) {
	return s.store.ListByStatus(ctx, models.RefundRequestPending, limit, offset)
}
