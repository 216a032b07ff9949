package models

import (
	"time"

	"github.com/google/uuid"
)

// Charge source kinds. Deposits and refund-origin credits land in the
// refundable pool; bonuses and rewards are spend-only.
const (
	ChargeSourceDeposit      = "deposit"
	ChargeSourceBonus        = "bonus"
	ChargeSourceRefundOrigin = "refund_origin"
	ChargeSourceAdmin        = "admin"
	ChargeSourceReward       = "reward"
)

// Refund bookkeeping states on a charge history row.
const (
	RefundStatusAvailable         = "available"
	RefundStatusPartiallyRefunded = "partially_refunded"
	RefundStatusFullyRefunded     = "fully_refunded"
	RefundStatusUnavailable       = "unavailable"
)

// Audit log change types.
const (
	BalanceChangeCharge      = "charge"
	BalanceChangeUsage       = "usage"
	BalanceChangeRefund      = "refund"
	BalanceChangeAdminAdjust = "admin_adjust"
)

// LedgerBalance is one user's balance record. Invariant, enforced both here
// and by a CHECK constraint: TotalBalance = RefundableBalance +
// NonRefundableBalance, all three >= 0.
type LedgerBalance struct {
	UserID               uuid.UUID `json:"user_id"`
	TotalBalance         int64     `json:"total_balance"`
	RefundableBalance    int64     `json:"refundable_balance"`
	NonRefundableBalance int64     `json:"non_refundable_balance"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ChargeHistory is an immutable record of a single credit.
// RefundedAmount <= Amount always.
type ChargeHistory struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	DepositRequestID *uuid.UUID `json:"deposit_request_id,omitempty"`
	Amount           int64      `json:"amount"`
	RefundedAmount   int64      `json:"refunded_amount"`
	IsRefundable     bool       `json:"is_refundable"`
	SourceKind       string     `json:"source_kind"`
	RefundStatus     string     `json:"refund_status"`
	Description      string     `json:"description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// RefundableAmount returns how much of this charge can still be refunded.
func (c *ChargeHistory) RefundableAmount() int64 {
	if !c.IsRefundable || c.RefundStatus == RefundStatusUnavailable {
		return 0
	}
	return c.Amount - c.RefundedAmount
}

// UsageHistory records a debit taken from the ledger.
type UsageHistory struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      int64     `json:"amount"`
	ServiceType string    `json:"service_type"`
	ServiceID   string    `json:"service_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BalanceChangeLog is an append-only audit entry; one per credit or debit,
// carrying the balance before and after. Never mutated.
type BalanceChangeLog struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	ChangeType    string    `json:"change_type"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	ReferenceKind string    `json:"reference_kind,omitempty"`
	ReferenceID   *uuid.UUID `json:"reference_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
