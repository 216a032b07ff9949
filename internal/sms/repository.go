package sms

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
	errDuplicateTransaction = errors.New("duplicate sms transaction")
	errNotFound             = errors.New("sms transaction not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertParsed stores a successfully parsed notification in the received
// state. The unique index on the (amount, payer, time) triple closes the
// duplicate-delivery race; a violation surfaces as errDuplicateTransaction.
func (r *Repository) InsertParsed(ctx context.Context, rawText string, p *Parsed) (*models.SmsTransaction, error) {
	tx := &models.SmsTransaction{
		ID:              uuid.New(),
		RawText:         rawText,
		ParsedAmount:    p.Amount,
		ParsedPayerName: p.PayerName,
		ParsedTime:      p.Time,
		Status:          models.SmsStatusReceived,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sms_transactions (id, raw_text, parsed_amount, parsed_payer_name, parsed_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, tx.ID, tx.RawText, tx.ParsedAmount, tx.ParsedPayerName, tx.ParsedTime, tx.Status).Scan(&tx.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, errDuplicateTransaction
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// InsertFailed records an unparseable notification. Raw text is kept so
// operators can inspect what the bank actually sent.
func (r *Repository) InsertFailed(ctx context.Context, rawText, errMsg string) (*models.SmsTransaction, error) {
	tx := &models.SmsTransaction{
		ID:           uuid.New(),
		RawText:      rawText,
		Status:       models.SmsStatusFailed,
		ErrorMessage: errMsg,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sms_transactions (id, raw_text, status, error_message)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, tx.ID, tx.RawText, tx.Status, tx.ErrorMessage).Scan(&tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// MarkProcessedTx flips received → processed inside the caller's
// transaction, recording the deposit the notification matched (nil when it
// was parked unmatched).
func (r *Repository) MarkProcessedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, matchedDepositID *uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE sms_transactions
		SET status = $1, matched_deposit_id = $2
		WHERE id = $3 AND status = $4
	`, models.SmsStatusProcessed, matchedDepositID, id, models.SmsStatusReceived)
	return err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.SmsTransaction, error) {
	t, err := scanSms(r.pool.QueryRow(ctx, `
		SELECT id, raw_text, parsed_amount, parsed_payer_name, parsed_time, status, matched_deposit_id, error_message, created_at
		FROM sms_transactions WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	return t, err
}

// List returns transactions newest-first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status string, limit, offset int) ([]models.SmsTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, raw_text, parsed_amount, parsed_payer_name, parsed_time, status, matched_deposit_id, error_message, created_at
		FROM sms_transactions
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SmsTransaction
	for rows.Next() {
		t, err := scanSms(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanSms(row pgx.Row) (*models.SmsTransaction, error) {
	var t models.SmsTransaction
	var amount *int64
	var payer, errMsg *string
	var parsedTime *time.Time
	err := row.Scan(&t.ID, &t.RawText, &amount, &payer, &parsedTime, &t.Status, &t.MatchedDepositID, &errMsg, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if amount != nil {
		t.ParsedAmount = *amount
	}
	if payer != nil {
		t.ParsedPayerName = *payer
	}
	if parsedTime != nil {
		t.ParsedTime = *parsedTime
	}
	if errMsg != nil {
		t.ErrorMessage = *errMsg
	}
	return &t, nil
}
