package matching

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moapay/backend/internal/models"
)

var errUnmatchedNotFound = errors.New("unmatched transaction not found")

// Repository owns the unmatched_transactions table: the parking lot for
// parsed deposits that found no pending request.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const unmatchedColumns = `id, raw_text, parsed_amount, parsed_payer_name, parsed_time, status, created_at, expires_at, matched_user_id, matched_at`

func scanUnmatched(row pgx.Row) (*models.UnmatchedTransaction, error) {
	var u models.UnmatchedTransaction
	err := row.Scan(&u.ID, &u.RawText, &u.ParsedAmount, &u.ParsedPayerName, &u.ParsedTime,
		&u.Status, &u.CreatedAt, &u.ExpiresAt, &u.MatchedUserID, &u.MatchedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// InsertTx parks a transaction inside the caller's transaction.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, u *models.UnmatchedTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO unmatched_transactions (id, raw_text, parsed_amount, parsed_payer_name, parsed_time, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.RawText, u.ParsedAmount, u.ParsedPayerName, u.ParsedTime, u.Status, u.ExpiresAt)
	return err
}

// LockByIDTx locks one row for a manual-resolution decision.
func (r *Repository) LockByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.UnmatchedTransaction, error) {
	u, err := scanUnmatched(tx.QueryRow(ctx, `
		SELECT `+unmatchedColumns+` FROM unmatched_transactions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errUnmatchedNotFound
	}
	return u, err
}

// LockByNameAmountTx locks the oldest unmatched row with exactly this payer
// name and amount. Used by the self-service path; anything short of an
// exact pair is a miss.
func (r *Repository) LockByNameAmountTx(ctx context.Context, tx pgx.Tx, payerName string, amount int64) (*models.UnmatchedTransaction, error) {
	u, err := scanUnmatched(tx.QueryRow(ctx, `
		SELECT `+unmatchedColumns+` FROM unmatched_transactions
		WHERE parsed_payer_name = $1 AND parsed_amount = $2 AND status = $3
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE
	`, payerName, amount, models.UnmatchedStatusUnmatched))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errUnmatchedNotFound
	}
	return u, err
}

// MarkMatchedTx flips unmatched → matched. Returns false when the row was
// already resolved; crediting must not proceed in that case.
func (r *Repository) MarkMatchedTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE unmatched_transactions
		SET status = $1, matched_user_id = $2, matched_at = $3
		WHERE id = $4 AND status = $5
	`, models.UnmatchedStatusMatched, userID, at, id, models.UnmatchedStatusUnmatched)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// List returns unmatched-queue rows newest-first, optionally filtered.
func (r *Repository) List(ctx context.Context, status string, limit, offset int) ([]models.UnmatchedTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+unmatchedColumns+` FROM unmatched_transactions
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.UnmatchedTransaction
	for rows.Next() {
		u, err := scanUnmatched(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// PurgeOlderThan retires unresolved rows created before the cutoff by
// flipping them to ignored. Rows are never deleted; ignored and matched
// rows stay as audit history.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE unmatched_transactions
		SET status = $1
		WHERE status = $2 AND created_at < $3
	`, models.UnmatchedStatusIgnored, models.UnmatchedStatusUnmatched, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
