package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the postgres-backed entry store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) CountSince(ctx context.Context, userID uuid.UUID, action string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM rate_limit_entries
		WHERE user_id = $1 AND action_kind = $2 AND created_at >= $3
	`, userID, action, since).Scan(&count)
	return count, err
}

func (r *Repository) OldestSince(ctx context.Context, userID uuid.UUID, action string, since time.Time) (time.Time, bool, error) {
	var oldest *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT min(created_at) FROM rate_limit_entries
		WHERE user_id = $1 AND action_kind = $2 AND created_at >= $3
	`, userID, action, since).Scan(&oldest)
	if err != nil {
		return time.Time{}, false, err
	}
	if oldest == nil {
		return time.Time{}, false, nil
	}
	return *oldest, true, nil
}

// RecordIfUnder inserts guarded by the window count in a single statement,
// so two concurrent recorders cannot both read the same pre-insert count.
func (r *Repository) RecordIfUnder(ctx context.Context, userID uuid.UUID, action string, since time.Time, limit int, expiresAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO rate_limit_entries (id, user_id, action_kind, expires_at)
		SELECT $1, $2, $3, $4
		WHERE (
			SELECT count(*) FROM rate_limit_entries
			WHERE user_id = $2 AND action_kind = $3 AND created_at >= $5
		) < $6
	`, uuid.New(), userID, action, expiresAt, since, limit)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeExpired deletes entries past their expiry plus the audit grace
// period. Idempotent; invoked by the cleanup sweep.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	grace := AuditRetention - EntryRetention
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM rate_limit_entries WHERE expires_at <= $1
	`, now.Add(-grace))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetUser deletes a user's entries for one action, or all actions when
// action is empty. Admin override path.
func (r *Repository) ResetUser(ctx context.Context, userID uuid.UUID, action string) (int64, error) {
	if action == "" {
		tag, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_entries WHERE user_id = $1`, userID)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM rate_limit_entries WHERE user_id = $1 AND action_kind = $2
	`, userID, action)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
