package models

import (
	"time"

	"github.com/google/uuid"
)

// Deposit request lifecycle.
const (
	DepositStatusPending   = "pending"
	DepositStatusCompleted = "completed"
	DepositStatusExpired   = "expired"
	DepositStatusFailed    = "failed"
)

// DepositRequest is a virtual deposit identity. The user wires money with
// VirtualName as the transfer memo; the matching engine keys on that name
// alone. At most one pending, non-expired request exists per user.
type DepositRequest struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	VirtualName   string     `json:"virtual_name"`
	AmountHint    int64      `json:"amount_hint"`
	BankName      string     `json:"bank_name"`
	AccountNumber string     `json:"account_number"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	MatchedAt     *time.Time `json:"matched_at,omitempty"`
}

// Active reports whether the request can still be matched.
func (d *DepositRequest) Active(now time.Time) bool {
	return d.Status == DepositStatusPending && now.Before(d.ExpiresAt)
}
