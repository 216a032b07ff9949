package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/moapay/backend/internal/models"
	"github.com/moapay/backend/internal/ratelimit"
)

// memStore keeps balances in memory and applies the same debit policy as the
// SQL: non-refundable first, conditional on sufficient total.
type memStore struct {
	balances map[uuid.UUID]*models.LedgerBalance
	charges  []models.ChargeHistory
	usages   []models.UsageHistory
	changes  []models.BalanceChangeLog
}

func newMemStore() *memStore {
	return &memStore{balances: make(map[uuid.UUID]*models.LedgerBalance)}
}

func (m *memStore) GetOrCreate(_ context.Context, userID uuid.UUID) (*models.LedgerBalance, error) {
	b, ok := m.balances[userID]
	if !ok {
		b = &models.LedgerBalance{UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		m.balances[userID] = b
	}
	copied := *b
	return &copied, nil
}

func (m *memStore) Credit(ctx context.Context, userID uuid.UUID, amount int64, refundable bool, sourceKind, description string, ref *Reference) (*models.LedgerBalance, error) {
	if _, err := m.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	b := m.balances[userID]
	before := b.TotalBalance
	b.TotalBalance += amount
	if refundable {
		b.RefundableBalance += amount
	} else {
		b.NonRefundableBalance += amount
	}
	m.charges = append(m.charges, models.ChargeHistory{
		ID: uuid.New(), UserID: userID, Amount: amount,
		IsRefundable: refundable, SourceKind: sourceKind,
	})
	m.changes = append(m.changes, models.BalanceChangeLog{
		UserID: userID, ChangeType: models.BalanceChangeCharge, Amount: amount,
		BalanceBefore: before, BalanceAfter: b.TotalBalance,
	})
	copied := *b
	return &copied, nil
}

func (m *memStore) Deduct(_ context.Context, userID uuid.UUID, amount int64, serviceType, serviceID, description string) (*models.LedgerBalance, error) {
	b, ok := m.balances[userID]
	if !ok || b.TotalBalance < amount {
		return nil, ErrInsufficientBalance
	}
	before := b.TotalBalance
	fromNonRefundable := min(b.NonRefundableBalance, amount)
	b.NonRefundableBalance -= fromNonRefundable
	b.RefundableBalance -= amount - fromNonRefundable
	b.TotalBalance -= amount
	m.usages = append(m.usages, models.UsageHistory{UserID: userID, Amount: amount, ServiceType: serviceType})
	m.changes = append(m.changes, models.BalanceChangeLog{
		UserID: userID, ChangeType: models.BalanceChangeUsage, Amount: amount,
		BalanceBefore: before, BalanceAfter: b.TotalBalance,
	})
	copied := *b
	return &copied, nil
}

func (m *memStore) ListCharges(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.ChargeHistory, error) {
	var out []models.ChargeHistory
	for _, c := range m.charges {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) ListUsages(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.UsageHistory, error) {
	var out []models.UsageHistory
	for _, u := range m.usages {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) ListChanges(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceChangeLog, error) {
	var out []models.BalanceChangeLog
	for _, l := range m.changes {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

// allowAllLimiter admits everything.
type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, uuid.UUID, string) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: true, Remaining: 1}, nil
}

// denyLimiter rejects everything with a fixed reset.
type denyLimiter struct{ resetAt time.Time }

func (d denyLimiter) Allow(context.Context, uuid.UUID, string) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: false, ResetAt: d.resetAt}, nil
}

func TestBalanceCreatesZeroRowOnFirstTouch(t *testing.T) {
	svc := NewService(newMemStore(), allowAllLimiter{})

	b, err := svc.Balance(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.TotalBalance != 0 || b.RefundableBalance != 0 || b.NonRefundableBalance != 0 {
		t.Errorf("fresh balance should be zero, got %+v", b)
	}
}

func TestCreditRoutesPools(t *testing.T) {
	svc := NewService(newMemStore(), allowAllLimiter{})
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, userID, 50000, true, models.ChargeSourceDeposit, "deposit", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := svc.Credit(ctx, userID, 3000, false, models.ChargeSourceBonus, "signup bonus", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.TotalBalance != 53000 {
		t.Errorf("expected total 53000, got %d", b.TotalBalance)
	}
	if b.RefundableBalance != 50000 {
		t.Errorf("expected refundable 50000, got %d", b.RefundableBalance)
	}
	if b.NonRefundableBalance != 3000 {
		t.Errorf("expected non-refundable 3000, got %d", b.NonRefundableBalance)
	}
	if b.TotalBalance != b.RefundableBalance+b.NonRefundableBalance {
		t.Error("pool invariant violated")
	}
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(newMemStore(), allowAllLimiter{})

	for _, amount := range []int64{0, -100} {
		if _, err := svc.Credit(context.Background(), uuid.New(), amount, true, models.ChargeSourceDeposit, "", nil); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestDeductConsumesNonRefundableFirst(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, allowAllLimiter{})
	userID := uuid.New()
	ctx := context.Background()

	// 10000 refundable + 5000 non-refundable.
	if _, err := svc.Credit(ctx, userID, 10000, true, models.ChargeSourceDeposit, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Credit(ctx, userID, 5000, false, models.ChargeSourceBonus, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, err := svc.Deduct(ctx, userID, 7000, "chat", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.NonRefundableBalance != 0 {
		t.Errorf("non-refundable pool should be drained first, got %d", b.NonRefundableBalance)
	}
	if b.RefundableBalance != 8000 {
		t.Errorf("expected refundable 8000 after spill, got %d", b.RefundableBalance)
	}
	if b.TotalBalance != 8000 {
		t.Errorf("expected total 8000, got %d", b.TotalBalance)
	}
}

func TestDeductInsufficientBalance(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, allowAllLimiter{})
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, userID, 1000, true, models.ChargeSourceDeposit, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Deduct(ctx, userID, 1001, "chat", "", ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	// Balance untouched by the failed debit.
	b, _ := svc.Balance(ctx, userID)
	if b.TotalBalance != 1000 {
		t.Errorf("failed debit must not change balance, got %d", b.TotalBalance)
	}
}

func TestDeductRateLimited(t *testing.T) {
	resetAt := time.Now().Add(30 * time.Second)
	svc := NewService(newMemStore(), denyLimiter{resetAt: resetAt})

	_, err := svc.Deduct(context.Background(), uuid.New(), 100, "chat", "", "")
	var rlErr *ratelimit.Error
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected ratelimit.Error, got %v", err)
	}
	if rlErr.Action != ratelimit.ActionLedgerDeduct {
		t.Errorf("expected deduct action, got %q", rlErr.Action)
	}
	if rlErr.Result.RetryAfter(time.Now()) <= 0 {
		t.Error("expected positive retry-after")
	}
}

func TestAuditTrailWritten(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, allowAllLimiter{})
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, userID, 20000, true, models.ChargeSourceDeposit, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Deduct(ctx, userID, 500, "chat", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	charges, _ := svc.Charges(ctx, userID, 50, 0)
	if len(charges) != 1 {
		t.Errorf("expected 1 charge record, got %d", len(charges))
	}
	usages, _ := svc.Usages(ctx, userID, 50, 0)
	if len(usages) != 1 {
		t.Errorf("expected 1 usage record, got %d", len(usages))
	}
	changes, _ := svc.Changes(ctx, userID, 50, 0)
	if len(changes) != 2 {
		t.Fatalf("expected 2 change log entries, got %d", len(changes))
	}
	for _, c := range changes {
		var want int64
		switch c.ChangeType {
		case models.BalanceChangeCharge:
			want = c.BalanceBefore + c.Amount
		case models.BalanceChangeUsage:
			want = c.BalanceBefore - c.Amount
		}
		if c.BalanceAfter != want {
			t.Errorf("change %s: before %d amount %d after %d", c.ChangeType, c.BalanceBefore, c.Amount, c.BalanceAfter)
		}
	}
}
