package refund

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/moapay/backend/internal/ledger"
	"github.com/moapay/backend/internal/models"
	"github.com/moapay/backend/internal/ratelimit"
)

// noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called.
type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- refund store mock ---

type mockStore struct {
	requests map[uuid.UUID]*models.RefundRequest
}

func newMockStore() *mockStore {
	return &mockStore{requests: make(map[uuid.UUID]*models.RefundRequest)}
}

func (m *mockStore) Create(_ context.Context, req *models.RefundRequest) error {
	for _, existing := range m.requests {
		if existing.UserID == req.UserID && existing.Pending() {
			return errAlreadyPending
		}
	}
	req.CreatedAt = time.Now()
	copied := *req
	m.requests[req.ID] = &copied
	return nil
}

func (m *mockStore) HasPending(_ context.Context, userID uuid.UUID) (bool, error) {
	for _, req := range m.requests {
		if req.UserID == userID && req.Pending() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) Get(_ context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, errNotFound
	}
	copied := *req
	return &copied, nil
}

func (m *mockStore) LockByIDTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.RefundRequest, error) {
	return m.Get(ctx, id)
}

func (m *mockStore) MarkDecidedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status, memo string, at time.Time) (bool, error) {
	req, ok := m.requests[id]
	if !ok || !req.Pending() {
		return false, nil
	}
	req.Status = status
	req.AdminMemo = memo
	req.ProcessedAt = &at
	return true, nil
}

func (m *mockStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.RefundRequest, error) {
	var out []models.RefundRequest
	for _, req := range m.requests {
		if req.UserID == userID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (m *mockStore) ListByStatus(_ context.Context, status string, limit, offset int) ([]models.RefundRequest, error) {
	var out []models.RefundRequest
	for _, req := range m.requests {
		if req.Status == status {
			out = append(out, *req)
		}
	}
	return out, nil
}

// --- ledger mock ---

type mockLedger struct {
	balances  map[uuid.UUID]*models.LedgerBalance
	allocated []int64
	allocErr  error
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[uuid.UUID]*models.LedgerBalance)}
}

func (m *mockLedger) GetOrCreate(_ context.Context, userID uuid.UUID) (*models.LedgerBalance, error) {
	b, ok := m.balances[userID]
	if !ok {
		b = &models.LedgerBalance{UserID: userID}
		m.balances[userID] = b
	}
	copied := *b
	return &copied, nil
}

func (m *mockLedger) DebitRefundableTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount int64, _ *ledger.Reference, _ string) (*models.LedgerBalance, error) {
	b, ok := m.balances[userID]
	if !ok || b.RefundableBalance < amount {
		return nil, ledger.ErrInsufficientBalance
	}
	b.RefundableBalance -= amount
	b.TotalBalance -= amount
	copied := *b
	return &copied, nil
}

func (m *mockLedger) AllocateRefundTx(_ context.Context, _ pgx.Tx, _ uuid.UUID, amount int64) error {
	if m.allocErr != nil {
		return m.allocErr
	}
	m.allocated = append(m.allocated, amount)
	return nil
}

func (m *mockLedger) fund(userID uuid.UUID, refundable, nonRefundable int64) {
	m.balances[userID] = &models.LedgerBalance{
		UserID:               userID,
		TotalBalance:         refundable + nonRefundable,
		RefundableBalance:    refundable,
		NonRefundableBalance: nonRefundable,
	}
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, uuid.UUID, string) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: true, Remaining: 1}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, uuid.UUID, string) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: false, ResetAt: time.Now().Add(time.Hour)}, nil
}

var testBank = models.BankDetails{BankName: "국민은행", AccountNumber: "123-456", AccountHolder: "홍길동"}

type fixture struct {
	svc    *Service
	store  *mockStore
	ledger *mockLedger
}

func newFixture(limiter Limiter) *fixture {
	f := &fixture{store: newMockStore(), ledger: newMockLedger()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(mockPool{}, f.store, f.ledger, limiter, logger)
	return f
}

func TestCreateRefundRequest(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 0)

	req, err := f.svc.Create(context.Background(), userID, 4000, testBank, "change of mind")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Status != models.RefundRequestPending {
		t.Errorf("expected pending, got %q", req.Status)
	}
	// Creation reserves intent only.
	b, _ := f.ledger.GetOrCreate(context.Background(), userID)
	if b.RefundableBalance != 5000 {
		t.Errorf("create must not touch the ledger, refundable is %d", b.RefundableBalance)
	}
}

func TestCreateBelowMinimum(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 0)

	if _, err := f.svc.Create(context.Background(), userID, 999, testBank, ""); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestCreateExceedsRefundable(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	// Non-refundable funds don't count toward the refundable pool.
	f.ledger.fund(userID, 2000, 10000)

	if _, err := f.svc.Create(context.Background(), userID, 3000, testBank, ""); !errors.Is(err, ErrExceedsRefundable) {
		t.Errorf("expected ErrExceedsRefundable, got %v", err)
	}
}

func TestCreateSecondPendingRejected(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 10000, 0)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, userID, 2000, testBank, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Create(ctx, userID, 2000, testBank, ""); !errors.Is(err, ErrAlreadyPending) {
		t.Errorf("expected ErrAlreadyPending, got %v", err)
	}
}

func TestCreateRateLimited(t *testing.T) {
	f := newFixture(denyLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 10000, 0)

	_, err := f.svc.Create(context.Background(), userID, 2000, testBank, "")
	var rlErr *ratelimit.Error
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected ratelimit.Error, got %v", err)
	}
	if rlErr.Action != ratelimit.ActionRefundRequest {
		t.Errorf("expected refund_request action, got %q", rlErr.Action)
	}
}

func TestCreateIncompleteBankDetails(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 10000, 0)

	bank := testBank
	bank.AccountHolder = " "
	if _, err := f.svc.Create(context.Background(), userID, 2000, bank, ""); !errors.Is(err, ErrInvalidBankDetails) {
		t.Errorf("expected ErrInvalidBankDetails, got %v", err)
	}
}

func TestApproveDebitsRefundablePool(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, userID, 4000, testBank, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decided, err := f.svc.Approve(ctx, req.ID, "verified")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decided.Status != models.RefundRequestApproved {
		t.Errorf("expected approved, got %q", decided.Status)
	}
	if decided.ProcessedAt == nil {
		t.Error("approval should set processed_at")
	}
	b, _ := f.ledger.GetOrCreate(ctx, userID)
	if b.RefundableBalance != 1000 || b.TotalBalance != 1000 {
		t.Errorf("expected refundable and total 1000, got %d/%d", b.RefundableBalance, b.TotalBalance)
	}
	if len(f.ledger.allocated) != 1 || f.ledger.allocated[0] != 4000 {
		t.Error("approval should allocate the refund across charges")
	}
}

func TestApproveTwiceAlreadyProcessed(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, userID, 4000, testBank, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Approve(ctx, req.ID, "ok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Approve(ctx, req.ID, "again"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
	// Single debit only.
	b, _ := f.ledger.GetOrCreate(ctx, userID)
	if b.RefundableBalance != 1000 {
		t.Errorf("second approve must not debit again, refundable is %d", b.RefundableBalance)
	}
}

func TestApproveAfterBalanceShrank(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, userID, 4000, testBank, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Refundable pool shrank between creation and decision.
	f.ledger.fund(userID, 1000, 0)

	if _, err := f.svc.Approve(ctx, req.ID, "ok"); !errors.Is(err, ErrExceedsRefundable) {
		t.Errorf("expected ErrExceedsRefundable, got %v", err)
	}
}

func TestApproveAllocationFailureSurfaces(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, userID, 4000, testBank, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A pool/charge-row divergence surfaces as an allocation error; approval
	// must fail rather than commit a refund the charges cannot absorb.
	f.ledger.allocErr = errors.New("refund allocation short by 4000: refundable charges do not cover the debited amount")
	if _, err := f.svc.Approve(ctx, req.ID, "ok"); err == nil {
		t.Fatal("expected approval to fail when allocation fails")
	}
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 20000)
	ctx := context.Background()

	avail, err := f.svc.CheckAvailability(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avail.CanRequest {
		t.Error("funded user with no pending request should be able to request")
	}
	if avail.RefundableBalance != 5000 {
		t.Errorf("only the refundable pool counts, got %d", avail.RefundableBalance)
	}

	if _, err := f.svc.Create(ctx, userID, 2000, testBank, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	avail, err = f.svc.CheckAvailability(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avail.CanRequest || !avail.HasPending {
		t.Error("an open request should block a new one")
	}
}

func TestCheckAvailabilityBelowMinimum(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 500, 0)

	avail, err := f.svc.CheckAvailability(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avail.CanRequest {
		t.Error("refundable balance under the minimum cannot be requested")
	}
}

func TestRejectRequiresMemo(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, userID, 2000, testBank, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Reject(ctx, req.ID, "  "); !errors.Is(err, ErrMemoRequired) {
		t.Errorf("expected ErrMemoRequired, got %v", err)
	}

	decided, err := f.svc.Reject(ctx, req.ID, "account holder mismatch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decided.Status != models.RefundRequestRejected {
		t.Errorf("expected rejected, got %q", decided.Status)
	}
	// No ledger effect.
	b, _ := f.ledger.GetOrCreate(ctx, userID)
	if b.RefundableBalance != 5000 {
		t.Errorf("rejection must not touch the ledger, refundable is %d", b.RefundableBalance)
	}
}

func TestRejectThenApproveFails(t *testing.T) {
	f := newFixture(allowAllLimiter{})
	userID := uuid.New()
	f.ledger.fund(userID, 5000, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, userID, 2000, testBank, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Reject(ctx, req.ID, "no"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Approve(ctx, req.ID, "yes"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
}
