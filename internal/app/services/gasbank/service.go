// Package gasbank implements the prepaid gas-credit ledger: account
// balances, reservations, and settlement.
//
// All mutations run under one coarse mutex per Service instance so
// check-then-mutate-then-persist is a single critical section. Persistence
// happens inside the lock; a storage failure leaves no partial state visible
// to subsequent callers because the in-memory mutation is built on copies and
// only applied through the store.
package gasbank

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/gasbank"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/metrics"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

// Options carries the ledger's allocation policy.
type Options struct {
	// MinAllocationAmount and MaxAllocationPerUser bound reservation
	// amounts inclusively.
	MinAllocationAmount  *big.Int
	MaxAllocationPerUser *big.Int
	// DefaultTTL applies when ReserveGas is called with a zero TTL.
	DefaultTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.MinAllocationAmount == nil {
		o.MinAllocationAmount = big.NewInt(1)
	}
	if o.MaxAllocationPerUser == nil {
		o.MaxAllocationPerUser = new(big.Int).Lsh(big.NewInt(1), 62)
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 10 * time.Minute
	}
}

// Service is the gas ledger. One instance serializes all reserve, release,
// and cleanup operations.
type Service struct {
	mu    sync.Mutex
	store *Store
	opts  Options
	log   *logger.Logger

	// now is swapped by tests to drive TTL expiry deterministically.
	now func() time.Time
}

// New creates a ledger over the given object store.
func New(objects storage.ObjectStore, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("gasbank")
	}
	opts.withDefaults()
	return &Service{
		store: NewStore(objects),
		opts:  opts,
		log:   log,
		now:   time.Now,
	}
}

// CreateAccount creates an active account with a zero balance. Owners have
// at most one account.
func (s *Service) CreateAccount(ctx context.Context, owner string) (*gasbank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetAccountByOwner(ctx, owner); err == nil {
		return nil, ErrAccountExists
	}

	now := s.now().UTC()
	acct := &gasbank.Account{
		ID:          uuid.New().String(),
		Owner:       owner,
		Balance:     big.NewInt(0),
		ReservedGas: big.NewInt(0),
		TotalUsed:   big.NewInt(0),
		Status:      gasbank.AccountStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return nil, err
	}
	s.log.Infof("gas account %s created for %s", acct.ID, owner)
	return acct, nil
}

// GetAccount returns the account by ID.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*gasbank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetAccount(ctx, accountID)
}

// GetAccountByOwner returns the account owned by the given identity.
func (s *Service) GetAccountByOwner(ctx context.Context, owner string) (*gasbank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetAccountByOwner(ctx, owner)
}

// GetBalance returns the current and available balance for an account.
func (s *Service) GetBalance(ctx context.Context, accountID string) (balance, available *big.Int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(acct.Balance), acct.Available(), nil
}

// Deposit credits the account balance.
func (s *Service) Deposit(ctx context.Context, accountID string, amount *big.Int) (*gasbank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	acct.Balance = new(big.Int).Add(acct.Balance, amount)
	acct.UpdatedAt = s.now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		metrics.RecordGasOperation("deposit", err)
		return nil, err
	}
	metrics.RecordGasOperation("deposit", nil)
	return acct, nil
}

// Withdraw debits the available balance. Funds committed to active
// reservations cannot be withdrawn.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount *big.Int) (*gasbank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Status == gasbank.AccountStatusLocked {
		return nil, ErrAccountLocked
	}
	if amount.Cmp(acct.Available()) > 0 {
		return nil, ErrInsufficientBalance
	}

	acct.Balance = new(big.Int).Sub(acct.Balance, amount)
	acct.UpdatedAt = s.now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		metrics.RecordGasOperation("withdraw", err)
		return nil, err
	}
	metrics.RecordGasOperation("withdraw", nil)
	return acct, nil
}

// SetLocked locks or unlocks an account. Locked accounts reject new
// reservations; existing reservations still settle or expire normally.
func (s *Service) SetLocked(ctx context.Context, accountID string, locked bool) (*gasbank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if locked {
		acct.Status = gasbank.AccountStatusLocked
	} else {
		acct.Status = gasbank.AccountStatusActive
	}
	acct.UpdatedAt = s.now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// ReserveGas pre-commits gas credit to a pending operation. Preconditions
// are checked in order and the first violation wins: the account must exist
// and be active, the amount must be positive, covered by the available
// balance, and within the configured allocation bounds.
//
// The eligibility check uses balance minus reservedGas, so concurrent
// reservations can never commit more than the account holds.
func (s *Service) ReserveGas(ctx context.Context, accountID string, amount *big.Int, ttl time.Duration) (*gasbank.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.reserveLocked(ctx, accountID, amount, ttl)
	metrics.RecordGasOperation("reserve", err)
	return res, err
}

func (s *Service) reserveLocked(ctx context.Context, accountID string, amount *big.Int, ttl time.Duration) (*gasbank.Reservation, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Status == gasbank.AccountStatusLocked {
		return nil, ErrAccountLocked
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(acct.Available()) > 0 {
		return nil, ErrInsufficientBalance
	}
	if amount.Cmp(s.opts.MinAllocationAmount) < 0 || amount.Cmp(s.opts.MaxAllocationPerUser) > 0 {
		return nil, ErrAmountOutOfBounds
	}

	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}
	now := s.now().UTC()
	res := &gasbank.Reservation{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Amount:     new(big.Int).Set(amount),
		AmountUsed: big.NewInt(0),
		Status:     gasbank.ReservationActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	acct.ReservedGas = new(big.Int).Add(acct.ReservedGas, amount)
	acct.UpdatedAt = now

	// Reservation first, account second. If the account write fails the
	// orphaned Active reservation is reclaimed by the expiry sweep.
	if err := s.store.PutReservation(ctx, res); err != nil {
		return nil, err
	}
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return nil, err
	}

	s.log.Debugf("reserved %s gas for account %s (reservation %s)", amount, accountID, res.ID)
	return res, nil
}

// ReleaseGas settles a reservation. The full reserved amount returns to
// availability; totalUsed grows by only the consumed amount.
func (s *Service) ReleaseGas(ctx context.Context, reservationID, accountID string, amountUsed *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.releaseLocked(ctx, reservationID, accountID, amountUsed)
	metrics.RecordGasOperation("release", err)
	return err
}

func (s *Service) releaseLocked(ctx context.Context, reservationID, accountID string, amountUsed *big.Int) error {
	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.Status != gasbank.ReservationActive {
		return ErrReservationNotActive
	}
	if res.AccountID != accountID {
		return ErrAccountMismatch
	}
	if amountUsed == nil || amountUsed.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amountUsed.Cmp(res.Amount) > 0 {
		return ErrInvalidUsage
	}

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	res.Status = gasbank.ReservationReleased
	res.AmountUsed = new(big.Int).Set(amountUsed)
	res.ReleasedAt = now

	acct.ReservedGas = new(big.Int).Sub(acct.ReservedGas, res.Amount)
	acct.TotalUsed = new(big.Int).Add(acct.TotalUsed, amountUsed)
	acct.LastUsedAt = now
	acct.UpdatedAt = now

	if err := s.store.PutReservation(ctx, res); err != nil {
		return err
	}
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return err
	}

	s.log.Debugf("released reservation %s (used %s of %s)", res.ID, amountUsed, res.Amount)
	return nil
}

// GetReservation returns the reservation by ID.
func (s *Service) GetReservation(ctx context.Context, reservationID string) (*gasbank.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetReservation(ctx, reservationID)
}

// ListReservations returns reservations, optionally filtered by account.
func (s *Service) ListReservations(ctx context.Context, accountID string) ([]*gasbank.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ListReservations(ctx, accountID)
}

// CleanupExpiredReservations scans all reservations and expires every
// Active one whose TTL has elapsed, returning its full amount to
// availability. A per-item storage failure is logged and skipped so one bad
// record never aborts the sweep. The sweep is idempotent.
func (s *Service) CleanupExpiredReservations(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations, err := s.store.ListReservations(ctx, "")
	if err != nil {
		metrics.RecordExpiredReservations(0, err)
		return 0, err
	}

	now := s.now().UTC()
	expired := 0
	for _, res := range reservations {
		if res.Status != gasbank.ReservationActive || !res.Expired(now) {
			continue
		}

		acct, err := s.store.GetAccount(ctx, res.AccountID)
		if err != nil {
			s.log.WithError(err).Warnf("sweep: load account %s for reservation %s", res.AccountID, res.ID)
			continue
		}

		res.Status = gasbank.ReservationExpired
		res.ReleasedAt = now
		acct.ReservedGas = new(big.Int).Sub(acct.ReservedGas, res.Amount)
		acct.UpdatedAt = now

		if err := s.store.PutReservation(ctx, res); err != nil {
			s.log.WithError(err).Warnf("sweep: persist reservation %s", res.ID)
			continue
		}
		if err := s.store.PutAccount(ctx, acct); err != nil {
			s.log.WithError(err).Warnf("sweep: persist account %s", acct.ID)
			continue
		}

		metrics.RecordGasOperation("expire", nil)
		expired++
	}

	if expired > 0 {
		s.log.Infof("expired %d gas reservations", expired)
	}
	metrics.RecordExpiredReservations(expired, nil)
	return expired, nil
}
