package sandbox

import (
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/function"
)

// Input carries one execution request into the sandbox.
type Input struct {
	// Code is the script body. It is evaluated once to register its
	// functions, then the entry function "main" is invoked.
	Code string

	// Args are passed to the entry function.
	Args []any

	// Secrets maps secret names to base64-encoded ciphertext. Decryption
	// happens on demand inside secrets.get, never eagerly.
	Secrets map[string]string

	// Context identifies the execution. A nil context gets an anonymous
	// one.
	Context *function.Context

	// Services are the capability clients exposed to the script when
	// interoperability is enabled.
	Services *Services
}

// Output is the outcome of one execution.
type Output = function.ExecutionResult
