package models

import (
	"time"

	"github.com/google/uuid"
)

// Refund request states. A pending request is terminal-transitioned exactly
// once by an admin decision. Completed is reserved for a later external
// payout confirmation and is never set by this service.
const (
	RefundRequestPending   = "pending"
	RefundRequestApproved  = "approved"
	RefundRequestRejected  = "rejected"
	RefundRequestCompleted = "completed"
)

// MinRefundAmount is the smallest refund a user may request.
const MinRefundAmount int64 = 1000

// BankDetails is the payout destination supplied with a refund request.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
	Contact       string `json:"contact,omitempty"`
}

// RefundRequest reserves refund intent; the ledger is only debited on
// approval. At most one pending request per user.
type RefundRequest struct {
	ID           uuid.UUID   `json:"id"`
	UserID       uuid.UUID   `json:"user_id"`
	RefundAmount int64       `json:"refund_amount"`
	Bank         BankDetails `json:"bank"`
	Reason       string      `json:"reason"`
	Status       string      `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	ProcessedAt  *time.Time  `json:"processed_at,omitempty"`
	AdminMemo    string      `json:"admin_memo,omitempty"`
}

// Pending reports whether the request still awaits a decision.
func (r *RefundRequest) Pending() bool { return r.Status == RefundRequestPending }
