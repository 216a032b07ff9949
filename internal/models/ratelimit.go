package models

import (
	"time"

	"github.com/google/uuid"
)

// RateLimitEntry is one recorded attempt, used purely as a sliding-window
// counter. Purged after its window plus an audit grace period.
type RateLimitEntry struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	ActionKind string    `json:"action_kind"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
