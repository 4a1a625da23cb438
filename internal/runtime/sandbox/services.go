package sandbox

import (
	"context"
	"math/big"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/pricefeed"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/transaction"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/trigger"
)

// Capability client interfaces. Each is the narrow surface one script
// binding needs; the application wires them to the real services. A nil
// client surfaces to the script as a "service not available" error, never a
// nil dereference.

// GasBankClient backs the gasbank binding.
type GasBankClient interface {
	GetBalance(ctx context.Context, owner string) (balance, available *big.Int, err error)
	Deposit(ctx context.Context, owner string, amount *big.Int) error
	Withdraw(ctx context.Context, owner string, amount *big.Int) error
	Reserve(ctx context.Context, owner string, amount *big.Int) (string, error)
	Release(ctx context.Context, owner, reservationID string, amountUsed *big.Int) error
}

// PriceFeedClient backs the pricefeed binding.
type PriceFeedClient interface {
	GetPrice(ctx context.Context, pair string) (*pricefeed.Price, error)
	ListPrices(ctx context.Context) ([]*pricefeed.Price, error)
}

// TriggerClient backs the trigger binding.
type TriggerClient interface {
	Create(ctx context.Context, trg trigger.Trigger) (*trigger.Trigger, error)
	Delete(ctx context.Context, id, owner string) error
	List(ctx context.Context, owner string) ([]*trigger.Trigger, error)
}

// TransactionClient backs the transaction binding.
type TransactionClient interface {
	Create(ctx context.Context, owner, from, to string, amount *big.Int, data []byte) (*transaction.Transaction, error)
	Sign(ctx context.Context, id, owner string) (*transaction.Transaction, error)
	Send(ctx context.Context, id, owner string) (*transaction.Transaction, error)
	Get(ctx context.Context, id, owner string) (*transaction.Transaction, error)
	List(ctx context.Context, owner string) ([]*transaction.Transaction, error)
	EstimateFee(ctx context.Context, data []byte) (*big.Int, error)
}

// WalletClient backs the wallet binding.
type WalletClient interface {
	GetAddress(ctx context.Context, owner string) (string, error)
	SignMessage(ctx context.Context, owner, message string) (string, error)
}

// StorageClient backs the storage binding. Keys are scoped to the owner by
// the implementation.
type StorageClient interface {
	Get(ctx context.Context, owner, key string) ([]byte, error)
	Put(ctx context.Context, owner, key string, value []byte) error
	Delete(ctx context.Context, owner, key string) error
	List(ctx context.Context, owner, prefix string) ([]string, error)
}

// OracleClient backs the oracle binding.
type OracleClient interface {
	GetData(ctx context.Context, owner, source string) (map[string]any, error)
}

// Services bundles the capability clients attached to one execution.
// Unset fields leave the corresponding binding unavailable.
type Services struct {
	GasBank     GasBankClient
	PriceFeed   PriceFeedClient
	Trigger     TriggerClient
	Transaction TransactionClient
	Wallet      WalletClient
	Storage     StorageClient
	Oracle      OracleClient
}
