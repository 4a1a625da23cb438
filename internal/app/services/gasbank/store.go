package gasbank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/gasbank"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
)

// Key layout in the object store. Accounts and reservations are one JSON
// record per key; the owner index maps an owner identity to its account ID.
const (
	accountPrefix     = "gasbank/accounts/"
	ownerIndexPrefix  = "gasbank/owners/"
	reservationPrefix = "gasbank/reservations/"
)

// Store is the typed persistence layer for the ledger, built on the
// key-value object store.
type Store struct {
	objects storage.ObjectStore
}

// NewStore wraps an object store.
func NewStore(objects storage.ObjectStore) *Store {
	return &Store{objects: objects}
}

// PutAccount persists an account record and its owner index entry.
func (s *Store) PutAccount(ctx context.Context, acct *gasbank.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal gas account %s: %w", acct.ID, err)
	}
	if err := s.objects.Put(ctx, accountPrefix+acct.ID, data); err != nil {
		return fmt.Errorf("persist gas account %s: %w", acct.ID, err)
	}
	if acct.Owner != "" {
		if err := s.objects.Put(ctx, ownerIndexPrefix+strings.ToLower(acct.Owner), []byte(acct.ID)); err != nil {
			return fmt.Errorf("persist owner index for %s: %w", acct.Owner, err)
		}
	}
	return nil
}

// GetAccount loads an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*gasbank.Account, error) {
	data, err := s.objects.Get(ctx, accountPrefix+id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load gas account %s: %w", id, err)
	}
	var acct gasbank.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("decode gas account %s: %w", id, err)
	}
	return &acct, nil
}

// GetAccountByOwner resolves the owner index and loads the account.
func (s *Store) GetAccountByOwner(ctx context.Context, owner string) (*gasbank.Account, error) {
	id, err := s.objects.Get(ctx, ownerIndexPrefix+strings.ToLower(owner))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load owner index for %s: %w", owner, err)
	}
	return s.GetAccount(ctx, string(id))
}

// ListAccounts loads every account record.
func (s *Store) ListAccounts(ctx context.Context) ([]*gasbank.Account, error) {
	keys, err := s.objects.ListByPrefix(ctx, accountPrefix)
	if err != nil {
		return nil, fmt.Errorf("list gas accounts: %w", err)
	}
	accounts := make([]*gasbank.Account, 0, len(keys))
	for _, key := range keys {
		acct, err := s.GetAccount(ctx, strings.TrimPrefix(key, accountPrefix))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// PutReservation persists a reservation record.
func (s *Store) PutReservation(ctx context.Context, res *gasbank.Reservation) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal reservation %s: %w", res.ID, err)
	}
	if err := s.objects.Put(ctx, reservationPrefix+res.ID, data); err != nil {
		return fmt.Errorf("persist reservation %s: %w", res.ID, err)
	}
	return nil
}

// GetReservation loads a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, id string) (*gasbank.Reservation, error) {
	data, err := s.objects.Get(ctx, reservationPrefix+id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("load reservation %s: %w", id, err)
	}
	var res gasbank.Reservation
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return &res, nil
}

// ListReservations loads every reservation, optionally filtered by account.
func (s *Store) ListReservations(ctx context.Context, accountID string) ([]*gasbank.Reservation, error) {
	keys, err := s.objects.ListByPrefix(ctx, reservationPrefix)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	reservations := make([]*gasbank.Reservation, 0, len(keys))
	for _, key := range keys {
		res, err := s.GetReservation(ctx, strings.TrimPrefix(key, reservationPrefix))
		if err != nil {
			return nil, err
		}
		if accountID == "" || res.AccountID == accountID {
			reservations = append(reservations, res)
		}
	}
	return reservations, nil
}
