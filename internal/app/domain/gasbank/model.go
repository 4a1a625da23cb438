// Package gasbank defines the gas ledger domain model.
package gasbank

import (
	"math/big"
	"time"
)

// AccountStatus represents the status of a gas account.
type AccountStatus string

const (
	// AccountStatusActive indicates the account can reserve and settle gas.
	AccountStatusActive AccountStatus = "active"
	// AccountStatusLocked forbids new reservations.
	AccountStatusLocked AccountStatus = "locked"
)

// Account is a prepaid gas-credit account. Accounts are created on first
// funding and never physically deleted; they are retained for audit.
type Account struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner"`
	Balance     *big.Int      `json:"balance"`
	ReservedGas *big.Int      `json:"reserved_gas"`
	TotalUsed   *big.Int      `json:"total_used"`
	Status      AccountStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LastUsedAt  time.Time     `json:"last_used_at,omitempty"`
}

// Available returns the balance not committed to active reservations.
func (a *Account) Available() *big.Int {
	return new(big.Int).Sub(a.Balance, a.ReservedGas)
}

// ReservationStatus represents the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationReleased ReservationStatus = "released"
	ReservationExpired  ReservationStatus = "expired"
)

// Reservation pre-commits gas credit to a pending operation. Exactly one
// terminal transition happens: Active→Released on settlement or
// Active→Expired via the periodic sweep. Terminal reservations are
// immutable.
type Reservation struct {
	ID         string            `json:"id"`
	AccountID  string            `json:"account_id"`
	Amount     *big.Int          `json:"amount"`
	AmountUsed *big.Int          `json:"amount_used"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	ReleasedAt time.Time         `json:"released_at,omitempty"`
}

// Expired reports whether the reservation's TTL has elapsed.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
