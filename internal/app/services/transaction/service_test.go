package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/transaction"
	gasbanksvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/gasbank"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(memory.New(), nil, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestService_Lifecycle(t *testing.T) {
	svc := newTestService(t)

	tx, err := svc.Create(context.Background(), "alice", "addr-from", "addr-to", big.NewInt(100), []byte("payload"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.Status != transaction.StatusCreated {
		t.Fatalf("unexpected status: %s", tx.Status)
	}
	if tx.Fee.Sign() <= 0 {
		t.Fatalf("fee not estimated: %s", tx.Fee)
	}

	// Send before sign must fail.
	if _, err := svc.Send(context.Background(), tx.ID, "alice", ""); err == nil {
		t.Fatal("expected send of unsigned transaction to fail")
	}

	signed, err := svc.Sign(context.Background(), tx.ID, "alice")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signed.Status != transaction.StatusSigned || len(signed.Signature) == 0 {
		t.Fatalf("not signed: %s", signed.Status)
	}

	// Double sign must fail.
	if _, err := svc.Sign(context.Background(), tx.ID, "alice"); err == nil {
		t.Fatal("expected second sign to fail")
	}

	sent, err := svc.Send(context.Background(), tx.ID, "alice", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Status != transaction.StatusSent || sent.Hash == "" {
		t.Fatalf("not sent: %s hash=%q", sent.Status, sent.Hash)
	}

	got, err := svc.Get(context.Background(), tx.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Hash != sent.Hash {
		t.Fatalf("hash mismatch: %s != %s", got.Hash, sent.Hash)
	}

	list, err := svc.List(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one transaction, got %d", len(list))
	}
}

func TestService_Ownership(t *testing.T) {
	svc := newTestService(t)

	tx, err := svc.Create(context.Background(), "alice", "from", "to", big.NewInt(1), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Sign(context.Background(), tx.ID, "bob"); err == nil {
		t.Fatal("expected ownership error on sign")
	}
	if _, err := svc.Get(context.Background(), tx.ID, "bob"); err == nil {
		t.Fatal("expected ownership error on get")
	}
	if _, err := svc.Get(context.Background(), "missing", "alice"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_SendSettlesFee(t *testing.T) {
	objects := memory.New()
	ledger := gasbanksvc.New(objects, gasbanksvc.Options{
		MinAllocationAmount:  big.NewInt(1),
		MaxAllocationPerUser: big.NewInt(1_000_000_000),
		DefaultTTL:           time.Minute,
	}, nil)

	acct, err := ledger.CreateAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("create gas account: %v", err)
	}
	if _, err := ledger.Deposit(context.Background(), acct.ID, big.NewInt(10_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	svc, err := New(objects, ledger, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	tx, err := svc.Create(context.Background(), "alice", "from", "to", big.NewInt(5), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Sign(context.Background(), tx.ID, "alice"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Send(context.Background(), tx.ID, "alice", acct.ID); err != nil {
		t.Fatalf("send: %v", err)
	}

	updated, err := ledger.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.TotalUsed.Cmp(tx.Fee) != 0 {
		t.Fatalf("fee not settled: used %s want %s", updated.TotalUsed, tx.Fee)
	}
	if updated.ReservedGas.Sign() != 0 {
		t.Fatalf("reservation not released: %s", updated.ReservedGas)
	}
}

func TestService_SendFailureReturnsFee(t *testing.T) {
	objects := memory.New()
	ledger := gasbanksvc.New(objects, gasbanksvc.Options{
		MinAllocationAmount:  big.NewInt(1),
		MaxAllocationPerUser: big.NewInt(1_000_000_000),
		DefaultTTL:           time.Minute,
	}, nil)

	acct, err := ledger.CreateAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("create gas account: %v", err)
	}
	if _, err := ledger.Deposit(context.Background(), acct.ID, big.NewInt(10_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	svc, err := New(objects, ledger, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.WithSubmitter(SubmitterFunc(func(context.Context, *transaction.Transaction) (string, error) {
		return "", fmt.Errorf("network down")
	}))

	tx, err := svc.Create(context.Background(), "alice", "from", "to", big.NewInt(5), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Sign(context.Background(), tx.ID, "alice"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Send(context.Background(), tx.ID, "alice", acct.ID); err == nil {
		t.Fatal("expected send failure")
	}

	updated, err := ledger.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if updated.TotalUsed.Sign() != 0 {
		t.Fatalf("fee charged on failure: %s", updated.TotalUsed)
	}
	if updated.ReservedGas.Sign() != 0 {
		t.Fatalf("reservation leaked: %s", updated.ReservedGas)
	}

	failed, err := svc.Get(context.Background(), tx.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Status != transaction.StatusFailed || failed.Error == "" {
		t.Fatalf("failure not recorded: %s %q", failed.Status, failed.Error)
	}
}

func TestService_EstimateFee(t *testing.T) {
	svc := newTestService(t)

	flat := svc.EstimateFee(nil)
	withData := svc.EstimateFee(make([]byte, 100))
	if withData.Cmp(flat) <= 0 {
		t.Fatalf("payload fee not applied: %s <= %s", withData, flat)
	}
}
