package gasbank

import "errors"

// Ledger operations reject invalid mutations synchronously with one of these
// typed errors. Callers branch on them to distinguish retryable conditions
// (insufficient balance) from terminal ones (account mismatch).
var (
	ErrAccountNotFound      = errors.New("gas account not found")
	ErrAccountExists        = errors.New("gas account already exists for owner")
	ErrAccountLocked        = errors.New("gas account is locked")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrAmountOutOfBounds    = errors.New("amount outside allocation bounds")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReservationNotActive = errors.New("reservation is not active")
	ErrAccountMismatch      = errors.New("reservation does not belong to account")
	ErrInvalidUsage         = errors.New("amount used exceeds reserved amount")
)
