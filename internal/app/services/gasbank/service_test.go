package gasbank

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	domain "github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/gasbank"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(memory.New(), Options{
		MinAllocationAmount:  big.NewInt(10),
		MaxAllocationPerUser: big.NewInt(1000),
		DefaultTTL:           time.Minute,
	}, nil)
}

func fundedAccount(t *testing.T, svc *Service, amount int64) *domain.Account {
	t.Helper()
	acct, err := svc.CreateAccount(context.Background(), "owner")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := svc.Deposit(context.Background(), acct.ID, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return acct
}

func TestService_ReserveRelease(t *testing.T) {
	svc := newTestService(t)
	acct := fundedAccount(t, svc, 500)

	res, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(100), time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != domain.ReservationActive {
		t.Fatalf("unexpected status: %s", res.Status)
	}

	updated, err := svc.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.ReservedGas.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("reserved gas not tracked: %s", updated.ReservedGas)
	}

	if err := svc.ReleaseGas(context.Background(), res.ID, acct.ID, big.NewInt(60)); err != nil {
		t.Fatalf("release: %v", err)
	}

	updated, err = svc.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.ReservedGas.Sign() != 0 {
		t.Fatalf("reserved gas not returned in full: %s", updated.ReservedGas)
	}
	if updated.TotalUsed.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("total used not settled: %s", updated.TotalUsed)
	}
	if updated.LastUsedAt.IsZero() {
		t.Fatal("last used not refreshed")
	}

	settled, err := svc.GetReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if settled.Status != domain.ReservationReleased {
		t.Fatalf("unexpected status: %s", settled.Status)
	}
	if settled.AmountUsed.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("amount used not recorded: %s", settled.AmountUsed)
	}
}

func TestService_ReservePreconditions(t *testing.T) {
	svc := newTestService(t)
	acct := fundedAccount(t, svc, 500)

	if _, err := svc.ReserveGas(context.Background(), "missing", big.NewInt(100), 0); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}

	if _, err := svc.SetLocked(context.Background(), acct.ID, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(100), 0); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	if _, err := svc.SetLocked(context.Background(), acct.ID, false); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(0), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(501), 0); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestService_ReserveBounds(t *testing.T) {
	svc := newTestService(t)
	acct := fundedAccount(t, svc, 5000)

	// Min boundary: exactly min succeeds, one below fails.
	if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(10), 0); err != nil {
		t.Fatalf("reserve at min: %v", err)
	}
	if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(9), 0); !errors.Is(err, ErrAmountOutOfBounds) {
		t.Fatalf("expected out of bounds below min, got %v", err)
	}

	// Max boundary: exactly max succeeds, one above fails.
	if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(1000), 0); err != nil {
		t.Fatalf("reserve at max: %v", err)
	}
	if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(1001), 0); !errors.Is(err, ErrAmountOutOfBounds) {
		t.Fatalf("expected out of bounds above max, got %v", err)
	}
}

func TestService_ReleaseValidation(t *testing.T) {
	svc := newTestService(t)
	acct := fundedAccount(t, svc, 500)

	res, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(100), time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := svc.ReleaseGas(context.Background(), "missing", acct.ID, big.NewInt(0)); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected reservation not found, got %v", err)
	}
	if err := svc.ReleaseGas(context.Background(), res.ID, "other-account", big.NewInt(0)); !errors.Is(err, ErrAccountMismatch) {
		t.Fatalf("expected account mismatch, got %v", err)
	}
	if err := svc.ReleaseGas(context.Background(), res.ID, acct.ID, big.NewInt(101)); !errors.Is(err, ErrInvalidUsage) {
		t.Fatalf("expected invalid usage, got %v", err)
	}

	if err := svc.ReleaseGas(context.Background(), res.ID, acct.ID, big.NewInt(100)); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Terminal states are immutable: a second release must fail.
	if err := svc.ReleaseGas(context.Background(), res.ID, acct.ID, big.NewInt(0)); !errors.Is(err, ErrReservationNotActive) {
		t.Fatalf("expected not active on double release, got %v", err)
	}
}

func TestService_CleanupExpiredReservations(t *testing.T) {
	svc := newTestService(t)
	acct := fundedAccount(t, svc, 500)

	current := time.Now().UTC()
	svc.now = func() time.Time { return current }

	res, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(200), time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Not expired yet: sweep is a no-op.
	expired, err := svc.CleanupExpiredReservations(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("premature expiry: %d", expired)
	}

	current = current.Add(2 * time.Minute)

	expired, err = svc.CleanupExpiredReservations(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected one expiry, got %d", expired)
	}

	updated, err := svc.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.ReservedGas.Sign() != 0 {
		t.Fatalf("reserved gas not reclaimed: %s", updated.ReservedGas)
	}

	swept, err := svc.GetReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if swept.Status != domain.ReservationExpired {
		t.Fatalf("unexpected status: %s", swept.Status)
	}

	// Idempotence: a second run with no state change does nothing.
	expired, err = svc.CleanupExpiredReservations(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("sweep not idempotent: %d", expired)
	}

	// Expired reservations cannot be released afterwards.
	if err := svc.ReleaseGas(context.Background(), res.ID, acct.ID, big.NewInt(0)); !errors.Is(err, ErrReservationNotActive) {
		t.Fatalf("expected not active after expiry, got %v", err)
	}
}

func TestService_ConcurrentReservations(t *testing.T) {
	svc := newTestService(t)
	acct := fundedAccount(t, svc, 100)

	var wg sync.WaitGroup
	succeeded := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(30), time.Minute); err == nil {
				succeeded <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	wins := 0
	for range succeeded {
		wins++
	}
	// A 100 balance supports at most three 30-unit reservations.
	if wins > 3 {
		t.Fatalf("overcommitted: %d reservations succeeded", wins)
	}

	updated, err := svc.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.ReservedGas.Cmp(updated.Balance) > 0 {
		t.Fatalf("reserved gas %s exceeds balance %s", updated.ReservedGas, updated.Balance)
	}
	if updated.ReservedGas.Sign() < 0 {
		t.Fatalf("reserved gas negative: %s", updated.ReservedGas)
	}
}

func TestService_WithdrawRespectsReservations(t *testing.T) {
	svc := newTestService(t)
	acct := fundedAccount(t, svc, 100)

	if _, err := svc.ReserveGas(context.Background(), acct.ID, big.NewInt(80), time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.Withdraw(context.Background(), acct.ID, big.NewInt(50)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := svc.Withdraw(context.Background(), acct.ID, big.NewInt(20)); err != nil {
		t.Fatalf("withdraw within available: %v", err)
	}
}

func TestService_DuplicateOwner(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateAccount(context.Background(), "owner"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateAccount(context.Background(), "owner"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected duplicate owner error, got %v", err)
	}

	acct, err := svc.GetAccountByOwner(context.Background(), "OWNER")
	if err != nil {
		t.Fatalf("lookup by owner: %v", err)
	}
	if acct.Owner != "owner" {
		t.Fatalf("unexpected owner: %s", acct.Owner)
	}
}
