package app

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/gasbank"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/pricefeed"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/transaction"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/trigger"
	gasbanksvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/gasbank"
	pricefeedsvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/pricefeed"
	transactionsvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/transaction"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/triggers"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
	"github.com/r3e-network/neo-service-layer-sub007/internal/runtime/sandbox"
)

// Capability client adapters. The sandbox binds scripts to narrow
// owner-scoped interfaces; these adapters resolve the owner to ledger
// accounts and delegate to the real services.

type gasBankClient struct {
	svc *gasbanksvc.Service
}

var _ sandbox.GasBankClient = gasBankClient{}

func (c gasBankClient) account(ctx context.Context, owner string) (*gasbank.Account, error) {
	acct, err := c.svc.GetAccountByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("resolve gas account for %s: %w", owner, err)
	}
	return acct, nil
}

func (c gasBankClient) GetBalance(ctx context.Context, owner string) (balance, available *big.Int, err error) {
	acct, err := c.account(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	return c.svc.GetBalance(ctx, acct.ID)
}

// Deposit credits the owner's account, creating it on first funding.
func (c gasBankClient) Deposit(ctx context.Context, owner string, amount *big.Int) error {
	acct, err := c.svc.GetAccountByOwner(ctx, owner)
	if errors.Is(err, gasbanksvc.ErrAccountNotFound) {
		acct, err = c.svc.CreateAccount(ctx, owner)
	}
	if err != nil {
		return err
	}
	_, err = c.svc.Deposit(ctx, acct.ID, amount)
	return err
}

func (c gasBankClient) Withdraw(ctx context.Context, owner string, amount *big.Int) error {
	acct, err := c.account(ctx, owner)
	if err != nil {
		return err
	}
	_, err = c.svc.Withdraw(ctx, acct.ID, amount)
	return err
}

func (c gasBankClient) Reserve(ctx context.Context, owner string, amount *big.Int) (string, error) {
	acct, err := c.account(ctx, owner)
	if err != nil {
		return "", err
	}
	res, err := c.svc.ReserveGas(ctx, acct.ID, amount, 0)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c gasBankClient) Release(ctx context.Context, owner, reservationID string, amountUsed *big.Int) error {
	acct, err := c.account(ctx, owner)
	if err != nil {
		return err
	}
	return c.svc.ReleaseGas(ctx, reservationID, acct.ID, amountUsed)
}

type priceFeedClient struct {
	svc *pricefeedsvc.Service
}

var _ sandbox.PriceFeedClient = priceFeedClient{}

func (c priceFeedClient) GetPrice(ctx context.Context, pair string) (*pricefeed.Price, error) {
	return c.svc.GetPrice(ctx, pair)
}

func (c priceFeedClient) ListPrices(ctx context.Context) ([]*pricefeed.Price, error) {
	return c.svc.ListPrices(ctx)
}

type triggerClient struct {
	svc *triggers.Service
}

var _ sandbox.TriggerClient = triggerClient{}

func (c triggerClient) Create(ctx context.Context, trg trigger.Trigger) (*trigger.Trigger, error) {
	return c.svc.Register(ctx, trg)
}

func (c triggerClient) Delete(ctx context.Context, id, owner string) error {
	return c.svc.Delete(ctx, id, owner)
}

func (c triggerClient) List(ctx context.Context, owner string) ([]*trigger.Trigger, error) {
	return c.svc.List(ctx, owner)
}

type transactionClient struct {
	svc    *transactionsvc.Service
	ledger *gasbanksvc.Service
}

var _ sandbox.TransactionClient = transactionClient{}

func (c transactionClient) Create(ctx context.Context, owner, from, to string, amount *big.Int, data []byte) (*transaction.Transaction, error) {
	return c.svc.Create(ctx, owner, from, to, amount, data)
}

func (c transactionClient) Sign(ctx context.Context, id, owner string) (*transaction.Transaction, error) {
	return c.svc.Sign(ctx, id, owner)
}

// Send resolves the owner's gas account so the network fee settles against
// the ledger.
func (c transactionClient) Send(ctx context.Context, id, owner string) (*transaction.Transaction, error) {
	acct, err := c.ledger.GetAccountByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("resolve gas account for %s: %w", owner, err)
	}
	return c.svc.Send(ctx, id, owner, acct.ID)
}

func (c transactionClient) Get(ctx context.Context, id, owner string) (*transaction.Transaction, error) {
	return c.svc.Get(ctx, id, owner)
}

func (c transactionClient) List(ctx context.Context, owner string) ([]*transaction.Transaction, error) {
	return c.svc.List(ctx, owner)
}

func (c transactionClient) EstimateFee(_ context.Context, data []byte) (*big.Int, error) {
	return c.svc.EstimateFee(data), nil
}

// walletClient derives script-facing addresses and signatures from the
// worker's signing key. It stands in for a per-tenant wallet custodian.
type walletClient struct {
	key ed25519.PrivateKey
}

var _ sandbox.WalletClient = walletClient{}

func (c walletClient) GetAddress(_ context.Context, owner string) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("owner is required")
	}
	pub := c.key.Public().(ed25519.PublicKey)
	digest := sha256.Sum256(append(pub, []byte(strings.ToLower(owner))...))
	return "N" + hex.EncodeToString(digest[:20]), nil
}

func (c walletClient) SignMessage(_ context.Context, owner, message string) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("owner is required")
	}
	digest := sha256.Sum256([]byte(owner + "|" + message))
	return hex.EncodeToString(ed25519.Sign(c.key, digest[:])), nil
}

// storageClient gives scripts a private keyspace per owner.
type storageClient struct {
	objects storage.ObjectStore
}

var _ sandbox.StorageClient = storageClient{}

const scriptDataPrefix = "appdata/"

func scriptKey(owner, key string) string {
	return scriptDataPrefix + owner + "/" + key
}

func (c storageClient) Get(ctx context.Context, owner, key string) ([]byte, error) {
	return c.objects.Get(ctx, scriptKey(owner, key))
}

func (c storageClient) Put(ctx context.Context, owner, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	return c.objects.Put(ctx, scriptKey(owner, key), value)
}

func (c storageClient) Delete(ctx context.Context, owner, key string) error {
	return c.objects.Delete(ctx, scriptKey(owner, key))
}

func (c storageClient) List(ctx context.Context, owner, prefix string) ([]string, error) {
	scoped := scriptDataPrefix + owner + "/"
	keys, err := c.objects.ListByPrefix(ctx, scoped+prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, scoped))
	}
	return names, nil
}

// oracleClient answers data queries from the price book. The query source
// names a trading pair.
type oracleClient struct {
	prices *pricefeedsvc.Service
}

var _ sandbox.OracleClient = oracleClient{}

func (c oracleClient) GetData(ctx context.Context, _ string, source string) (map[string]any, error) {
	price, err := c.prices.GetPrice(ctx, source)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"pair":      price.Pair,
		"value":     price.Value,
		"source":    price.Source,
		"updatedAt": price.UpdatedAt.Format(time.RFC3339),
	}, nil
}
