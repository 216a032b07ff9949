package deposit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moapay/backend/internal/models"
)

var (
	errDuplicateName = errors.New("virtual name already active")
	errNotFound      = errors.New("deposit request not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const depositColumns = `id, user_id, virtual_name, amount_hint, bank_name, account_number, status, created_at, expires_at, matched_at`

func scanDeposit(row pgx.Row) (*models.DepositRequest, error) {
	var d models.DepositRequest
	err := row.Scan(&d.ID, &d.UserID, &d.VirtualName, &d.AmountHint, &d.BankName,
		&d.AccountNumber, &d.Status, &d.CreatedAt, &d.ExpiresAt, &d.MatchedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ExpireStaleForUser retires the user's overdue pending rows before a new
// deposit is created, freeing their virtual names immediately instead of
// waiting for the next sweep.
func (r *Repository) ExpireStaleForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deposit_requests
		SET status = $1
		WHERE user_id = $2 AND status = $3 AND expires_at <= $4
	`, models.DepositStatusExpired, userID, models.DepositStatusPending, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Create inserts a pending deposit. A partial unique index guards the
// virtual name among pending rows; a collision surfaces as errDuplicateName
// so the caller can retry with a fresh suffix.
func (r *Repository) Create(ctx context.Context, d *models.DepositRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deposit_requests (id, user_id, virtual_name, amount_hint, bank_name, account_number, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.UserID, d.VirtualName, d.AmountHint, d.BankName, d.AccountNumber, d.Status, d.ExpiresAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errDuplicateName
	}
	return err
}

// FindActive returns the user's pending, unexpired deposit, or errNotFound.
func (r *Repository) FindActive(ctx context.Context, userID uuid.UUID, now time.Time) (*models.DepositRequest, error) {
	d, err := scanDeposit(r.pool.QueryRow(ctx, `
		SELECT `+depositColumns+` FROM deposit_requests
		WHERE user_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, models.DepositStatusPending, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	return d, err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.DepositRequest, error) {
	d, err := scanDeposit(r.pool.QueryRow(ctx, `
		SELECT `+depositColumns+` FROM deposit_requests WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	return d, err
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.DepositRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+depositColumns+` FROM deposit_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DepositRequest
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Search serves the admin screen: filter by virtual-name prefix and/or
// status, newest first. Empty filters match everything.
func (r *Repository) Search(ctx context.Context, name, status string, limit, offset int) ([]models.DepositRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+depositColumns+` FROM deposit_requests
		WHERE ($1 = '' OR virtual_name LIKE $1 || '%')
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, name, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DepositRequest
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// FindPendingByNameTx locks the pending, unexpired deposit carrying the
// virtual name, inside the caller's transaction. The row lock serializes
// competing matchers on the same name.
func (r *Repository) FindPendingByNameTx(ctx context.Context, tx pgx.Tx, name string, now time.Time) (*models.DepositRequest, error) {
	d, err := scanDeposit(tx.QueryRow(ctx, `
		SELECT `+depositColumns+` FROM deposit_requests
		WHERE virtual_name = $1 AND status = $2 AND expires_at > $3
		FOR UPDATE
	`, name, models.DepositStatusPending, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	return d, err
}

// MarkCompletedTx flips pending → completed inside the caller's transaction.
// Returns false when the row was no longer pending (already matched or
// expired); the caller decides whether that is a conflict.
func (r *Repository) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, matchedAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE deposit_requests
		SET status = $1, matched_at = $2
		WHERE id = $3 AND status = $4
	`, models.DepositStatusCompleted, matchedAt, id, models.DepositStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireStale transitions pending rows past their deadline to expired.
// Idempotent; the cleanup sweep calls it on a schedule.
func (r *Repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deposit_requests
		SET status = $1
		WHERE status = $2 AND expires_at <= $3
	`, models.DepositStatusExpired, models.DepositStatusPending, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
