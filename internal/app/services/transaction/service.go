// Package transaction prepares, signs, and submits transfers for sandboxed
// functions. Submission settles its fee against the gas ledger when one is
// attached.
package transaction

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/transaction"
	gasbanksvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/gasbank"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

const txPrefix = "transactions/"

// Fee model: flat base plus a per-byte charge on the payload.
var (
	baseFee    = big.NewInt(1_000_000)
	feePerByte = big.NewInt(1_000)
)

// ErrTransactionNotFound is returned when no transaction has the given ID.
var ErrTransactionNotFound = fmt.Errorf("transaction not found")

// Submitter delivers a signed transaction to the network and returns its
// hash. The default submitter only simulates delivery.
type Submitter interface {
	Submit(ctx context.Context, tx *transaction.Transaction) (string, error)
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, tx *transaction.Transaction) (string, error)

func (f SubmitterFunc) Submit(ctx context.Context, tx *transaction.Transaction) (string, error) {
	return f(ctx, tx)
}

// Service manages the transaction lifecycle.
type Service struct {
	objects   storage.ObjectStore
	ledger    *gasbanksvc.Service
	submitter Submitter
	signKey   ed25519.PrivateKey
	log       *logger.Logger
}

// New constructs a transaction service. ledger may be nil, in which case
// Send does not meter gas. A fresh signing key is generated when none is
// supplied.
func New(objects storage.ObjectStore, ledger *gasbanksvc.Service, signKey ed25519.PrivateKey, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("transactions")
	}
	if signKey == nil {
		_, generated, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		signKey = generated
	}
	return &Service{
		objects: objects,
		ledger:  ledger,
		signKey: signKey,
		log:     log,
	}, nil
}

// WithSubmitter attaches a network submitter. Call before Send is used.
func (s *Service) WithSubmitter(sub Submitter) *Service {
	s.submitter = sub
	return s
}

// SigningKey returns the service's private signing key so sibling
// components (the wallet surface) can derive addresses and signatures from
// the same identity.
func (s *Service) SigningKey() ed25519.PrivateKey {
	return s.signKey
}

// Create records a new transaction in the created state.
func (s *Service) Create(ctx context.Context, owner, from, to string, amount *big.Int, data []byte) (*transaction.Transaction, error) {
	owner = strings.TrimSpace(owner)
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if owner == "" || from == "" || to == "" {
		return nil, fmt.Errorf("owner, from, and to are required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	now := time.Now().UTC()
	tx := &transaction.Transaction{
		ID:        uuid.New().String(),
		Owner:     owner,
		From:      from,
		To:        to,
		Amount:    new(big.Int).Set(amount),
		Data:      append([]byte(nil), data...),
		Status:    transaction.StatusCreated,
		Fee:       s.EstimateFee(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(ctx, tx); err != nil {
		return nil, err
	}
	s.log.Debugf("transaction %s created for %s", tx.ID, owner)
	return tx, nil
}

// Sign signs the transaction digest. Only created transactions can be
// signed; the owner must match.
func (s *Service) Sign(ctx context.Context, id, owner string) (*transaction.Transaction, error) {
	tx, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Owner != owner {
		return nil, fmt.Errorf("transaction %s does not belong to %s", id, owner)
	}
	if tx.Status != transaction.StatusCreated {
		return nil, fmt.Errorf("transaction %s is %s, expected created", id, tx.Status)
	}

	tx.Signature = ed25519.Sign(s.signKey, s.digest(tx))
	tx.Status = transaction.StatusSigned
	tx.UpdatedAt = time.Now().UTC()
	if err := s.put(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Send submits a signed transaction. When a ledger and gas account are
// attached, the fee is reserved before submission and settled afterwards; a
// failed submission settles with zero usage so the reserved fee returns to
// availability.
func (s *Service) Send(ctx context.Context, id, owner, gasAccountID string) (*transaction.Transaction, error) {
	tx, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Owner != owner {
		return nil, fmt.Errorf("transaction %s does not belong to %s", id, owner)
	}
	if tx.Status != transaction.StatusSigned {
		return nil, fmt.Errorf("transaction %s is %s, expected signed", id, tx.Status)
	}

	var reservationID string
	if s.ledger != nil && gasAccountID != "" {
		res, err := s.ledger.ReserveGas(ctx, gasAccountID, tx.Fee, 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("reserve fee: %w", err)
		}
		reservationID = res.ID
	}

	hash, submitErr := s.submit(ctx, tx)

	if reservationID != "" {
		used := tx.Fee
		if submitErr != nil {
			used = big.NewInt(0)
		}
		if err := s.ledger.ReleaseGas(ctx, reservationID, gasAccountID, used); err != nil {
			s.log.WithError(err).Warnf("settle fee for transaction %s", tx.ID)
		}
	}

	tx.UpdatedAt = time.Now().UTC()
	if submitErr != nil {
		tx.Status = transaction.StatusFailed
		tx.Error = submitErr.Error()
		if err := s.put(ctx, tx); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("submit transaction %s: %w", tx.ID, submitErr)
	}

	tx.Status = transaction.StatusSent
	tx.Hash = hash
	if err := s.put(ctx, tx); err != nil {
		return nil, err
	}
	s.log.Infof("transaction %s sent (hash %s)", tx.ID, hash)
	return tx, nil
}

// Get returns a transaction owned by the caller.
func (s *Service) Get(ctx context.Context, id, owner string) (*transaction.Transaction, error) {
	tx, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Owner != owner {
		return nil, fmt.Errorf("transaction %s does not belong to %s", id, owner)
	}
	return tx, nil
}

// List returns transactions, optionally filtered by owner.
func (s *Service) List(ctx context.Context, owner string) ([]*transaction.Transaction, error) {
	keys, err := s.objects.ListByPrefix(ctx, txPrefix)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	txs := make([]*transaction.Transaction, 0, len(keys))
	for _, key := range keys {
		tx, err := s.get(ctx, strings.TrimPrefix(key, txPrefix))
		if err != nil {
			return nil, err
		}
		if owner == "" || tx.Owner == owner {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

// EstimateFee prices a payload.
func (s *Service) EstimateFee(data []byte) *big.Int {
	fee := new(big.Int).Set(baseFee)
	if len(data) > 0 {
		byteFee := new(big.Int).Mul(feePerByte, big.NewInt(int64(len(data))))
		fee.Add(fee, byteFee)
	}
	return fee
}

func (s *Service) submit(ctx context.Context, tx *transaction.Transaction) (string, error) {
	if s.submitter != nil {
		return s.submitter.Submit(ctx, tx)
	}
	// Simulated delivery: the hash is the digest of the signed payload.
	sum := sha256.Sum256(append(s.digest(tx), tx.Signature...))
	return hex.EncodeToString(sum[:]), nil
}

func (s *Service) digest(tx *transaction.Transaction) []byte {
	payload := fmt.Sprintf("%s|%s|%s|%s", tx.From, tx.To, tx.Amount, tx.Data)
	sum := sha256.Sum256([]byte(payload))
	return sum[:]
}

func (s *Service) get(ctx context.Context, id string) (*transaction.Transaction, error) {
	data, err := s.objects.Get(ctx, txPrefix+id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load transaction %s: %w", id, err)
	}
	var tx transaction.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", id, err)
	}
	return &tx, nil
}

func (s *Service) put(ctx context.Context, tx *transaction.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction %s: %w", tx.ID, err)
	}
	if err := s.objects.Put(ctx, txPrefix+tx.ID, data); err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}
	return nil
}
