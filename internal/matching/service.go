package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/moapay/backend/internal/deposit"
	"github.com/moapay/backend/internal/ledger"
	"github.com/moapay/backend/internal/models"
	"github.com/moapay/backend/internal/sms"
)

// UnmatchedTTL is how long a parked transaction stays eligible for manual
// resolution.
const UnmatchedTTL = 180 * 24 * time.Hour

var (
	// ErrNotFound is returned for an unknown unmatched transaction.
	ErrNotFound = errUnmatchedNotFound
	// ErrAlreadyProcessed is returned when the row was resolved by a
	// concurrent or earlier action.
	ErrAlreadyProcessed = errors.New("unmatched transaction already processed")
	// ErrAmountMismatch is returned when the admin's confirmation amount
	// disagrees with the parked row.
	ErrAmountMismatch = errors.New("confirmed amount does not match transaction")
	// ErrNoMatch is the deliberately uninformative self-service failure:
	// it must not reveal whether the name or the amount was wrong.
	ErrNoMatch = errors.New("no matching transaction found")
	// ErrDepositConflict is returned when a pending deposit vanished between
	// lookup and completion.
	ErrDepositConflict = errors.New("deposit request no longer pending")
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DepositStore is the deposit-side surface the matcher needs.
type DepositStore interface {
	FindPendingByNameTx(ctx context.Context, tx pgx.Tx, name string, now time.Time) (*models.DepositRequest, error)
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, matchedAt time.Time) (bool, error)
}

// LedgerStore credits inside the matcher's transaction.
type LedgerStore interface {
	CreditTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, refundable bool, sourceKind, description string, ref *ledger.Reference) (*models.LedgerBalance, error)
}

// SmsStore finalizes the ingested transaction's state.
type SmsStore interface {
	MarkProcessedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, matchedDepositID *uuid.UUID) error
}

// UnmatchedStore is the parking-lot surface.
type UnmatchedStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, u *models.UnmatchedTransaction) error
	LockByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.UnmatchedTransaction, error)
	LockByNameAmountTx(ctx context.Context, tx pgx.Tx, payerName string, amount int64) (*models.UnmatchedTransaction, error)
	MarkMatchedTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, status string, limit, offset int) ([]models.UnmatchedTransaction, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service is the matching engine. Every mutating path is one transaction:
// either the whole credit sequence lands, or nothing does.
type Service struct {
	pool      TxBeginner
	deposits  DepositStore
	ledger    LedgerStore
	sms       SmsStore
	unmatched UnmatchedStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(pool TxBeginner, deposits DepositStore, ledgerStore LedgerStore, smsStore SmsStore, unmatched UnmatchedStore, logger *slog.Logger) *Service {
	return &Service{
		pool:      pool,
		deposits:  deposits,
		ledger:    ledgerStore,
		sms:       smsStore,
		unmatched: unmatched,
		logger:    logger,
		now:       time.Now,
	}
}

var _ sms.Matcher = (*Service)(nil)

// MatchAndApply consumes a freshly ingested transaction. The lookup is by
// payer name only: the user may deposit any amount they choose, so the
// credited amount is what the bank reported, never the request's hint.
func (s *Service) MatchAndApply(ctx context.Context, smsTx *models.SmsTransaction) (*sms.MatchOutcome, error) {
	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	dep, err := s.deposits.FindPendingByNameTx(ctx, tx, smsTx.ParsedPayerName, now)
	if err != nil {
		if errors.Is(err, deposit.ErrNotFound) {
			return s.parkUnmatched(ctx, tx, smsTx, now)
		}
		return nil, fmt.Errorf("find pending deposit: %w", err)
	}

	ok, err := s.deposits.MarkCompletedTx(ctx, tx, dep.ID, now)
	if err != nil {
		return nil, fmt.Errorf("complete deposit: %w", err)
	}
	if !ok {
		// The row was locked pending, so this only happens if something
		// else mutated it out of band.
		return nil, ErrDepositConflict
	}
	if _, err := s.ledger.CreditTx(ctx, tx, dep.UserID, smsTx.ParsedAmount, true,
		models.ChargeSourceDeposit, "deposit matched: "+dep.VirtualName,
		&ledger.Reference{Kind: "deposit_request", ID: dep.ID}); err != nil {
		return nil, fmt.Errorf("credit matched deposit: %w", err)
	}
	if err := s.sms.MarkProcessedTx(ctx, tx, smsTx.ID, &dep.ID); err != nil {
		return nil, fmt.Errorf("finalize sms: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &sms.MatchOutcome{
		Matched:        true,
		UserID:         dep.UserID,
		DepositID:      dep.ID,
		CreditedAmount: smsTx.ParsedAmount,
	}, nil
}

func (s *Service) parkUnmatched(ctx context.Context, tx pgx.Tx, smsTx *models.SmsTransaction, now time.Time) (*sms.MatchOutcome, error) {
	parked := &models.UnmatchedTransaction{
		ID:              uuid.New(),
		RawText:         smsTx.RawText,
		ParsedAmount:    smsTx.ParsedAmount,
		ParsedPayerName: smsTx.ParsedPayerName,
		ParsedTime:      smsTx.ParsedTime,
		Status:          models.UnmatchedStatusUnmatched,
		ExpiresAt:       now.Add(UnmatchedTTL),
	}
	if err := s.unmatched.InsertTx(ctx, tx, parked); err != nil {
		return nil, fmt.Errorf("park unmatched: %w", err)
	}
	if err := s.sms.MarkProcessedTx(ctx, tx, smsTx.ID, nil); err != nil {
		return nil, fmt.Errorf("finalize sms: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &sms.MatchOutcome{Matched: false, UnmatchedID: parked.ID}, nil
}

// ManualMatch resolves a parked transaction to a user by admin decision.
// confirmedAmount, when non-zero, must equal the parked amount; the credit
// is always the parked amount.
func (s *Service) ManualMatch(ctx context.Context, unmatchedID, userID uuid.UUID, confirmedAmount int64) (int64, error) {
	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	parked, err := s.unmatched.LockByIDTx(ctx, tx, unmatchedID)
	if err != nil {
		return 0, err
	}
	if parked.Status != models.UnmatchedStatusUnmatched {
		return 0, ErrAlreadyProcessed
	}
	if confirmedAmount != 0 && confirmedAmount != parked.ParsedAmount {
		return 0, ErrAmountMismatch
	}
	credited, err := s.resolveTx(ctx, tx, parked, userID, now)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	s.logger.Info("manual match applied",
		"unmatched_id", unmatchedID, "user_id", userID, "amount", credited)
	return credited, nil
}

// SimpleMatch is the self-service variant: the caller must reproduce the
// exact payer name and amount of a parked row. A miss of either field
// returns ErrNoMatch with no further detail, so one user cannot probe
// another's transactions.
func (s *Service) SimpleMatch(ctx context.Context, userID uuid.UUID, payerName string, amount int64) (int64, error) {
	if payerName == "" || amount <= 0 {
		return 0, ErrNoMatch
	}
	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	parked, err := s.unmatched.LockByNameAmountTx(ctx, tx, payerName, amount)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNoMatch
		}
		return 0, err
	}
	credited, err := s.resolveTx(ctx, tx, parked, userID, now)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	s.logger.Info("simple match applied", "user_id", userID, "amount", credited)
	return credited, nil
}

// resolveTx runs the shared crediting sequence for a locked unmatched row.
func (s *Service) resolveTx(ctx context.Context, tx pgx.Tx, parked *models.UnmatchedTransaction, userID uuid.UUID, now time.Time) (int64, error) {
	ok, err := s.unmatched.MarkMatchedTx(ctx, tx, parked.ID, userID, now)
	if err != nil {
		return 0, fmt.Errorf("resolve unmatched: %w", err)
	}
	if !ok {
		return 0, ErrAlreadyProcessed
	}
	if _, err := s.ledger.CreditTx(ctx, tx, userID, parked.ParsedAmount, true,
		models.ChargeSourceDeposit, "manual match: "+parked.ParsedPayerName,
		&ledger.Reference{Kind: "unmatched_transaction", ID: parked.ID}); err != nil {
		return 0, fmt.Errorf("credit manual match: %w", err)
	}
	return parked.ParsedAmount, nil
}

// ListUnmatched serves the admin review queue.
func (s *Service) ListUnmatched(ctx context.Context, status string, limit, offset int) ([]models.UnmatchedTransaction, error) {
	return s.unmatched.List(ctx, status, limit, offset)
}

// PurgeUnmatchedOlderThan is the cleanup entry point for the parking lot:
// unresolved rows past the horizon are retired to ignored.
func (s *Service) PurgeUnmatchedOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		horizon = UnmatchedTTL
	}
	return s.unmatched.PurgeOlderThan(ctx, s.now().Add(-horizon))
}
