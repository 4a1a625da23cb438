// Package transaction defines the blockchain transaction records managed on
// behalf of sandboxed functions.
package transaction

import (
	"math/big"
	"time"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusCreated Status = "created"
	StatusSigned  Status = "signed"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Transaction is a transfer prepared for submission. Create, Sign, and Send
// advance the status strictly forward.
type Transaction struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    *big.Int  `json:"amount"`
	Data      []byte    `json:"data,omitempty"`
	Status    Status    `json:"status"`
	Signature []byte    `json:"signature,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Fee       *big.Int  `json:"fee,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
