package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moapay/backend/internal/models"
)

var errInsufficientBalance = errors.New("insufficient balance")

// Reference ties a balance change to the row that caused it.
type Reference struct {
	Kind string
	ID   uuid.UUID
}

// Repository owns the user_balances table plus its audit trail
// (charge_histories, usage_histories, balance_change_logs).
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreate returns the user's balance row, creating a zero row on first
// touch. The insert is ON CONFLICT DO NOTHING so concurrent first touches
// converge on one row.
func (r *Repository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.LedgerBalance, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_balances (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (*models.LedgerBalance, error) {
	var b models.LedgerBalance
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, total_balance, refundable_balance, non_refundable_balance, created_at, updated_at
		FROM user_balances WHERE user_id = $1
	`, userID).Scan(&b.UserID, &b.TotalBalance, &b.RefundableBalance, &b.NonRefundableBalance, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreditTx runs inside the caller's transaction. It:
// a) Ensures the balance row exists
// b) Adds amount to the total and to the refundable or non-refundable pool
// c) Inserts a charge_histories record
// d) Inserts a balance_change_logs record
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, refundable bool, sourceKind, description string, ref *Reference) (*models.LedgerBalance, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_balances (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, err
	}
	var b models.LedgerBalance
	err := tx.QueryRow(ctx, `
		UPDATE user_balances
		SET total_balance = total_balance + $1,
		    refundable_balance = refundable_balance + CASE WHEN $2 THEN $1 ELSE 0 END,
		    non_refundable_balance = non_refundable_balance + CASE WHEN $2 THEN 0 ELSE $1 END,
		    updated_at = now()
		WHERE user_id = $3
		RETURNING user_id, total_balance, refundable_balance, non_refundable_balance, created_at, updated_at
	`, amount, refundable, userID).Scan(&b.UserID, &b.TotalBalance, &b.RefundableBalance, &b.NonRefundableBalance, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var depositID *uuid.UUID
	refKind, refID := refColumns(ref)
	if ref != nil && ref.Kind == "deposit_request" {
		depositID = refID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO charge_histories (id, user_id, deposit_request_id, amount, is_refundable, source_kind, refund_status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), userID, depositID, amount, refundable, sourceKind,
		chargeRefundStatus(refundable), description); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO balance_change_logs (id, user_id, change_type, amount, balance_before, balance_after, reference_kind, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New(), userID, models.BalanceChangeCharge, amount,
		b.TotalBalance-amount, b.TotalBalance, refKind, refID, description); err != nil {
		return nil, err
	}
	return &b, nil
}

// DebitTx deducts amount from the non-refundable pool first, spilling the
// remainder into the refundable pool, all in one conditional UPDATE so a
// concurrent debit cannot overdraw. Zero rows means insufficient funds (or
// no balance row, which is the same thing).
func (r *Repository) DebitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, serviceType, serviceID, description string) (*models.LedgerBalance, error) {
	var b models.LedgerBalance
	err := tx.QueryRow(ctx, `
		UPDATE user_balances
		SET non_refundable_balance = non_refundable_balance - LEAST(non_refundable_balance, $1),
		    refundable_balance = refundable_balance - GREATEST($1 - non_refundable_balance, 0),
		    total_balance = total_balance - $1,
		    updated_at = now()
		WHERE user_id = $2 AND total_balance >= $1
		RETURNING user_id, total_balance, refundable_balance, non_refundable_balance, created_at, updated_at
	`, amount, userID).Scan(&b.UserID, &b.TotalBalance, &b.RefundableBalance, &b.NonRefundableBalance, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errInsufficientBalance
	}
	if err != nil {
		return nil, err
	}

	var sid *string
	if serviceID != "" {
		sid = &serviceID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_histories (id, user_id, amount, service_type, service_id, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), userID, amount, serviceType, sid, description); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO balance_change_logs (id, user_id, change_type, amount, balance_before, balance_after, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), userID, models.BalanceChangeUsage, amount,
		b.TotalBalance+amount, b.TotalBalance, description); err != nil {
		return nil, err
	}
	return &b, nil
}

// DebitRefundableTx removes amount from the refundable pool only. Used by
// refund approval; insufficient refundable funds is a hard failure, never a
// spill into the non-refundable pool.
func (r *Repository) DebitRefundableTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, ref *Reference, description string) (*models.LedgerBalance, error) {
	var b models.LedgerBalance
	err := tx.QueryRow(ctx, `
		UPDATE user_balances
		SET refundable_balance = refundable_balance - $1,
		    total_balance = total_balance - $1,
		    updated_at = now()
		WHERE user_id = $2 AND refundable_balance >= $1
		RETURNING user_id, total_balance, refundable_balance, non_refundable_balance, created_at, updated_at
	`, amount, userID).Scan(&b.UserID, &b.TotalBalance, &b.RefundableBalance, &b.NonRefundableBalance, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errInsufficientBalance
	}
	if err != nil {
		return nil, err
	}
	refKind, refID := refColumns(ref)
	if _, err := tx.Exec(ctx, `
		INSERT INTO balance_change_logs (id, user_id, change_type, amount, balance_before, balance_after, reference_kind, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New(), userID, models.BalanceChangeRefund, amount,
		b.TotalBalance+amount, b.TotalBalance, refKind, refID, description); err != nil {
		return nil, err
	}
	return &b, nil
}

// AllocateRefundTx spreads a refunded amount across the user's refundable
// charges, oldest first, updating refunded_amount and refund_status on each.
// Runs inside the caller's transaction; the charge rows are locked so
// concurrent approvals cannot double-allocate.
func (r *Repository) AllocateRefundTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	rows, err := tx.Query(ctx, `
		SELECT id, amount, refunded_amount FROM charge_histories
		WHERE user_id = $1 AND is_refundable = true AND refund_status IN ($2, $3)
		ORDER BY created_at ASC
		FOR UPDATE
	`, userID, models.RefundStatusAvailable, models.RefundStatusPartiallyRefunded)
	if err != nil {
		return err
	}
	type slice struct {
		id        uuid.UUID
		take      int64
		exhausted bool
	}
	var plan []slice
	remaining := amount
	for rows.Next() {
		var id uuid.UUID
		var total, refunded int64
		if err := rows.Scan(&id, &total, &refunded); err != nil {
			rows.Close()
			return err
		}
		if remaining <= 0 {
			break
		}
		available := total - refunded
		if available <= 0 {
			continue
		}
		take := min(available, remaining)
		remaining -= take
		plan = append(plan, slice{id: id, take: take, exhausted: take == available})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	// The refundable pool was already debited by the full amount; if the
	// charge rows cannot absorb it the two have diverged. Abort the
	// transaction rather than let the shortfall vanish.
	if remaining > 0 {
		return fmt.Errorf("refund allocation short by %d: refundable charges do not cover the debited amount", remaining)
	}
	for _, p := range plan {
		status := models.RefundStatusPartiallyRefunded
		if p.exhausted {
			status = models.RefundStatusFullyRefunded
		}
		if _, err := tx.Exec(ctx, `
			UPDATE charge_histories
			SET refunded_amount = refunded_amount + $1, refund_status = $2
			WHERE id = $3
		`, p.take, status, p.id); err != nil {
			return err
		}
	}
	return nil
}

// Credit runs CreditTx in its own transaction.
func (r *Repository) Credit(ctx context.Context, userID uuid.UUID, amount int64, refundable bool, sourceKind, description string, ref *Reference) (*models.LedgerBalance, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	b, err := r.CreditTx(ctx, tx, userID, amount, refundable, sourceKind, description, ref)
	if err != nil {
		return nil, err
	}
	return b, tx.Commit(ctx)
}

// Deduct runs DebitTx in its own transaction.
func (r *Repository) Deduct(ctx context.Context, userID uuid.UUID, amount int64, serviceType, serviceID, description string) (*models.LedgerBalance, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	b, err := r.DebitTx(ctx, tx, userID, amount, serviceType, serviceID, description)
	if err != nil {
		return nil, err
	}
	return b, tx.Commit(ctx)
}

func (r *Repository) ListCharges(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ChargeHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, deposit_request_id, amount, refunded_amount, is_refundable, source_kind, refund_status, description, created_at
		FROM charge_histories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ChargeHistory
	for rows.Next() {
		var c models.ChargeHistory
		var desc *string
		if err := rows.Scan(&c.ID, &c.UserID, &c.DepositRequestID, &c.Amount, &c.RefundedAmount, &c.IsRefundable, &c.SourceKind, &c.RefundStatus, &desc, &c.CreatedAt); err != nil {
			return nil, err
		}
		if desc != nil {
			c.Description = *desc
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) ListUsages(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UsageHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, service_type, service_id, description, created_at
		FROM usage_histories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.UsageHistory
	for rows.Next() {
		var u models.UsageHistory
		var sid, desc *string
		if err := rows.Scan(&u.ID, &u.UserID, &u.Amount, &u.ServiceType, &sid, &desc, &u.CreatedAt); err != nil {
			return nil, err
		}
		if sid != nil {
			u.ServiceID = *sid
		}
		if desc != nil {
			u.Description = *desc
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) ListChanges(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceChangeLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, change_type, amount, balance_before, balance_after, reference_kind, reference_id, description, created_at
		FROM balance_change_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.BalanceChangeLog
	for rows.Next() {
		var l models.BalanceChangeLog
		var refKind, desc *string
		if err := rows.Scan(&l.ID, &l.UserID, &l.ChangeType, &l.Amount, &l.BalanceBefore, &l.BalanceAfter, &refKind, &l.ReferenceID, &desc, &l.CreatedAt); err != nil {
			return nil, err
		}
		if refKind != nil {
			l.ReferenceKind = *refKind
		}
		if desc != nil {
			l.Description = *desc
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func refColumns(ref *Reference) (*string, *uuid.UUID) {
	if ref == nil {
		return nil, nil
	}
	return &ref.Kind, &ref.ID
}

func chargeRefundStatus(refundable bool) string {
	if refundable {
		return models.RefundStatusAvailable
	}
	return models.RefundStatusUnavailable
}
