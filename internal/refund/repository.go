package refund

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
	errAlreadyPending = errors.New("refund request already pending")
	errNotFound       = errors.New("refund request not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const refundColumns = `id, user_id, refund_amount, bank_name, account_number, account_holder, contact, reason, status, created_at, processed_at, admin_memo`

func scanRefund(row pgx.Row) (*models.RefundRequest, error) {
	var r models.RefundRequest
	var contact, memo *string
	err := row.Scan(&r.ID, &r.UserID, &r.RefundAmount, &r.Bank.BankName, &r.Bank.AccountNumber,
		&r.Bank.AccountHolder, &contact, &r.Reason, &r.Status, &r.CreatedAt, &r.ProcessedAt, &memo)
	if err != nil {
		return nil, err
	}
	if contact != nil {
		r.Bank.Contact = *contact
	}
	if memo != nil {
		r.AdminMemo = *memo
	}
	return &r, nil
}

// Create inserts a pending request. The partial unique index on
// (user_id) WHERE status='pending' enforces one open request per user; a
// violation surfaces as errAlreadyPending.
func (r *Repository) Create(ctx context.Context, req *models.RefundRequest) error {
	var contact *string
	if req.Bank.Contact != "" {
		contact = &req.Bank.Contact
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO refund_requests (id, user_id, refund_amount, bank_name, account_number, account_holder, contact, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, req.ID, req.UserID, req.RefundAmount, req.Bank.BankName, req.Bank.AccountNumber,
		req.Bank.AccountHolder, contact, req.Reason, req.Status).Scan(&req.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errAlreadyPending
	}
	return err
}

// HasPending reports whether the user already has an open request.
func (r *Repository) HasPending(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refund_requests WHERE user_id = $1 AND status = $2
		)
	`, userID, models.RefundRequestPending).Scan(&exists)
	return exists, err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	req, err := scanRefund(r.pool.QueryRow(ctx, `
		SELECT `+refundColumns+` FROM refund_requests WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	return req, err
}

// LockByIDTx locks one request for an admin decision.
func (r *Repository) LockByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RefundRequest, error) {
	req, err := scanRefund(tx.QueryRow(ctx, `
		SELECT `+refundColumns+` FROM refund_requests WHERE id = $1 FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	return req, err
}

// MarkDecidedTx is the compare-and-set pending → approved/rejected. Returns
// false when the request was no longer pending.
func (r *Repository) MarkDecidedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, memo string, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE refund_requests
		SET status = $1, admin_memo = $2, processed_at = $3
		WHERE id = $4 AND status = $5
	`, status, memo, at, id, models.RefundRequestPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.RefundRequest, error) {
	return r.list(ctx, `WHERE user_id = $1`, userID, limit, offset)
}

// ListByStatus serves the admin review queue, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.RefundRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+refundColumns+` FROM refund_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRefunds(rows)
}

func (r *Repository) list(ctx context.Context, where string, arg any, limit, offset int) ([]models.RefundRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+refundColumns+` FROM refund_requests
		`+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, arg, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRefunds(rows)
}

func collectRefunds(rows pgx.Rows) ([]models.RefundRequest, error) {
	defer rows.Close()
	var out []models.RefundRequest
	for rows.Next() {
		req, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}
