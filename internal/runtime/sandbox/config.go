package sandbox

import (
	"time"

	"go.uber.org/zap"
)

// Resource constraints for the sandbox.
const (
	DefaultMemoryLimit   = 128 * 1024 * 1024 // 128 MB
	DefaultTimeoutMillis = 5000              // 5 seconds
	DefaultStackSize     = 8 * 1024 * 1024   // 8 MB
	MemoryCheckInterval  = 100 * time.Millisecond
)

// Config holds configuration for the script sandbox.
type Config struct {
	// MemoryLimit bounds interpreter memory in bytes.
	MemoryLimit int64

	// TimeoutMillis bounds wall-clock execution time.
	TimeoutMillis int64

	// StackSize bounds the interpreter call stack in bytes.
	StackSize int32

	// ServiceLayerURL points interoperability bindings at a service layer
	// endpoint.
	ServiceLayerURL string

	// EnableInteroperability attaches service bindings to executions when
	// clients are available.
	EnableInteroperability bool

	// Logger receives sandbox diagnostics.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MemoryLimit:            DefaultMemoryLimit,
		TimeoutMillis:          DefaultTimeoutMillis,
		StackSize:              DefaultStackSize,
		EnableInteroperability: true,
	}
}

// WithLogger adds a logger to the configuration.
func (c Config) WithLogger(logger *zap.Logger) Config {
	c.Logger = logger
	return c
}

// WithMemoryLimit sets the memory limit.
func (c Config) WithMemoryLimit(limit int64) Config {
	c.MemoryLimit = limit
	return c
}

// WithTimeout sets the execution timeout in milliseconds.
func (c Config) WithTimeout(timeoutMs int64) Config {
	c.TimeoutMillis = timeoutMs
	return c
}

// WithStackSize sets the interpreter stack size.
func (c Config) WithStackSize(size int32) Config {
	c.StackSize = size
	return c
}

// WithServiceLayerURL sets the interoperability endpoint.
func (c Config) WithServiceLayerURL(url string) Config {
	c.ServiceLayerURL = url
	return c
}

// WithInteroperability toggles service bindings.
func (c Config) WithInteroperability(enabled bool) Config {
	c.EnableInteroperability = enabled
	return c
}
