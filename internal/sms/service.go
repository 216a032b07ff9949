package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/moapay/backend/internal/metrics"
	"github.com/moapay/backend/internal/models"
)

// Ingestion outcomes.
const (
	StatusMatched     = "matched"
	StatusUnmatched   = "unmatched"
	StatusDuplicate   = "duplicate"
	StatusParseFailed = "parse_failed"
)

// ErrDuplicateTransaction is returned when the same notification triple was
// already ingested. Callers should treat it as a silent success.
var ErrDuplicateTransaction = errDuplicateTransaction

// ErrNotFound is returned for an unknown transaction id.
var ErrNotFound = errNotFound

// MatchOutcome is what the matching engine reports back after consuming a
// parsed transaction.
type MatchOutcome struct {
	Matched        bool
	UserID         uuid.UUID
	DepositID      uuid.UUID
	CreditedAmount int64
	UnmatchedID    uuid.UUID
}

// Matcher consumes a freshly ingested transaction and either credits a
// pending deposit or parks the transaction for manual resolution.
type Matcher interface {
	MatchAndApply(ctx context.Context, tx *models.SmsTransaction) (*MatchOutcome, error)
}

// Store is the repository subset the service needs.
type Store interface {
	InsertParsed(ctx context.Context, rawText string, p *Parsed) (*models.SmsTransaction, error)
	InsertFailed(ctx context.Context, rawText, errMsg string) (*models.SmsTransaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SmsTransaction, error)
	List(ctx context.Context, status string, limit, offset int) ([]models.SmsTransaction, error)
}

// IngestResult is the boundary response for one raw notification.
type IngestResult struct {
	Status         string     `json:"status"`
	TransactionID  uuid.UUID  `json:"transaction_id,omitzero"`
	UserID         uuid.UUID  `json:"user_id,omitzero"`
	CreditedAmount int64      `json:"credited_amount,omitempty"`
	UnmatchedID    uuid.UUID  `json:"unmatched_id,omitzero"`
	Error          string     `json:"error,omitempty"`
}

// Service drives ingestion: parse, dedupe, then hand off to the matcher.
type Service struct {
	parser  *Parser
	store   Store
	matcher Matcher
	logger  *slog.Logger
}

func NewService(parser *Parser, store Store, matcher Matcher, logger *slog.Logger) *Service {
	return &Service{parser: parser, store: store, matcher: matcher, logger: logger}
}

// Ingest processes one raw notification end to end. Unparseable input is
// persisted as a failed row, never dropped. A duplicate triple is reported
// as such with no side effects.
func (s *Service) Ingest(ctx context.Context, rawText string) (*IngestResult, error) {
	parsed, err := s.parser.Parse(rawText)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedFormat) {
			return nil, fmt.Errorf("parse sms: %w", err)
		}
		failed, insErr := s.store.InsertFailed(ctx, rawText, err.Error())
		if insErr != nil {
			return nil, fmt.Errorf("record parse failure: %w", insErr)
		}
		s.logger.Warn("sms parse failed", "transaction_id", failed.ID, "error", err)
		metrics.SmsIngested.WithLabelValues(StatusParseFailed).Inc()
		return &IngestResult{Status: StatusParseFailed, TransactionID: failed.ID, Error: err.Error()}, nil
	}

	tx, err := s.store.InsertParsed(ctx, rawText, parsed)
	if errors.Is(err, ErrDuplicateTransaction) {
		s.logger.Info("duplicate sms ignored", "payer", parsed.PayerName, "amount", parsed.Amount)
		metrics.SmsIngested.WithLabelValues(StatusDuplicate).Inc()
		return &IngestResult{Status: StatusDuplicate}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist sms: %w", err)
	}

	outcome, err := s.matcher.MatchAndApply(ctx, tx)
	if err != nil {
		// The transaction stays in received state; an operator can replay
		// matching once the underlying failure is resolved.
		return nil, fmt.Errorf("match sms %s: %w", tx.ID, err)
	}
	if outcome.Matched {
		s.logger.Info("sms matched",
			"transaction_id", tx.ID, "user_id", outcome.UserID, "amount", outcome.CreditedAmount)
		metrics.SmsIngested.WithLabelValues(StatusMatched).Inc()
		metrics.MatchResults.WithLabelValues("matched").Inc()
		return &IngestResult{
			Status:         StatusMatched,
			TransactionID:  tx.ID,
			UserID:         outcome.UserID,
			CreditedAmount: outcome.CreditedAmount,
		}, nil
	}
	s.logger.Info("sms unmatched", "transaction_id", tx.ID, "payer", parsed.PayerName)
	metrics.SmsIngested.WithLabelValues(StatusUnmatched).Inc()
	metrics.MatchResults.WithLabelValues("unmatched").Inc()
	return &IngestResult{
		Status:        StatusUnmatched,
		TransactionID: tx.ID,
		UnmatchedID:   outcome.UnmatchedID,
	}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.SmsTransaction, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]models.SmsTransaction, error) {
	return s.store.List(ctx, status, limit, offset)
}
