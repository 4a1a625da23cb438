// Package storage defines the persistence surface consumed by the worker.
//
// All persistence is a key-value object store holding one serialized record
// per key. Typed repositories (for example the gas ledger store) are built
// on top of ObjectStore and own their key layout.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored record.
var ErrNotFound = errors.New("storage: key not found")

// ObjectStore is the abstract key-value persistence backend.
type ObjectStore interface {
	// Get returns the record stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value at key, overwriting any existing record.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes the record at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
	// ListByPrefix returns all keys beginning with prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
