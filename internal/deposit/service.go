package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/moapay/backend/internal/metrics"
	"github.com/moapay/backend/internal/models"
	"github.com/moapay/backend/internal/ratelimit"
)

// TTL is how long a generated virtual name stays matchable.
const TTL = time.Hour

// maxNameAttempts bounds the random-suffix retry loop.
const maxNameAttempts = 100

var (
	// ErrNotFound is returned for an unknown deposit id.
	ErrNotFound = errNotFound
	// ErrNameExhausted is returned when no free virtual name could be found.
	ErrNameExhausted = errors.New("virtual name space exhausted for nickname")
	// ErrInvalidNickname is returned for an empty or oversized nickname.
	ErrInvalidNickname = errors.New("invalid nickname")
)

// ReceivingAccount is the bank account users wire money into. One shared
// account; the virtual name is what distinguishes depositors.
type ReceivingAccount struct {
	BankName      string
	AccountNumber string
}

// Store is the repository subset the service needs.
type Store interface {
	Create(ctx context.Context, d *models.DepositRequest) error
	FindActive(ctx context.Context, userID uuid.UUID, now time.Time) (*models.DepositRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.DepositRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.DepositRequest, error)
	Search(ctx context.Context, name, status string, limit, offset int) ([]models.DepositRequest, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	ExpireStaleForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

// Limiter gates deposit generation.
type Limiter interface {
	Allow(ctx context.Context, userID uuid.UUID, action string) (ratelimit.Result, error)
}

// GenerateResult is a deposit plus whether it was freshly created or an
// existing active one handed back.
type GenerateResult struct {
	Deposit *models.DepositRequest
	Reused  bool
}

// Service issues virtual deposit names and serves deposit lookups.
type Service struct {
	store   Store
	limiter Limiter
	account ReceivingAccount
	now     func() time.Time
	suffix  func() string
}

func NewService(store Store, limiter Limiter, account ReceivingAccount) *Service {
	return &Service{
		store:   store,
		limiter: limiter,
		account: account,
		now:     time.Now,
		suffix:  randomSuffix,
	}
}

func randomSuffix() string {
	return fmt.Sprintf("%04d", rand.IntN(10000))
}

// Generate returns the user's deposit instructions. An active deposit is
// reused as-is; only creating a fresh one consumes the rate limit. The
// virtual name is nickname plus a random 4-digit suffix, retried on
// collision with other active names.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, nickname string, amountHint int64) (*GenerateResult, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > 32 {
		return nil, ErrInvalidNickname
	}
	if amountHint < 0 {
		amountHint = 0
	}

	now := s.now()
	if existing, err := s.store.FindActive(ctx, userID, now); err == nil {
		metrics.DepositsReused.Inc()
		return &GenerateResult{Deposit: existing, Reused: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find active deposit: %w", err)
	}

	res, err := s.limiter.Allow(ctx, userID, ratelimit.ActionDepositGenerate)
	if err != nil {
		return nil, fmt.Errorf("deposit rate limit: %w", err)
	}
	if !res.Allowed {
		metrics.RateLimitDenials.WithLabelValues(ratelimit.ActionDepositGenerate).Inc()
		return nil, &ratelimit.Error{Action: ratelimit.ActionDepositGenerate, Result: res}
	}

	// Retire the user's timed-out pending rows before creating a fresh one,
	// so their virtual names stop being matchable (and stop occupying the
	// active-name index) right away.
	if _, err := s.store.ExpireStaleForUser(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("expire stale deposits: %w", err)
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		d := &models.DepositRequest{
			ID:            uuid.New(),
			UserID:        userID,
			VirtualName:   nickname + s.suffix(),
			AmountHint:    amountHint,
			BankName:      s.account.BankName,
			AccountNumber: s.account.AccountNumber,
			Status:        models.DepositStatusPending,
			CreatedAt:     now,
			ExpiresAt:     now.Add(TTL),
		}
		err := s.store.Create(ctx, d)
		if errors.Is(err, errDuplicateName) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create deposit: %w", err)
		}
		metrics.DepositsGenerated.Inc()
		return &GenerateResult{Deposit: d}, nil
	}
	return nil, ErrNameExhausted
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.DepositRequest, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.DepositRequest, error) {
	return s.store.ListByUser(ctx, userID, limit, offset)
}

// Search is the admin lookup across all users.
func (s *Service) Search(ctx context.Context, name, status string, limit, offset int) ([]models.DepositRequest, error) {
	return s.store.Search(ctx, strings.TrimSpace(name), status, limit, offset)
}

// ExpireStale is the cleanup entry point: flips overdue pending deposits to
// expired, freeing their virtual names.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.CleanupSwept.WithLabelValues("expired_deposits").Add(float64(n))
	}
	return n, nil
}
