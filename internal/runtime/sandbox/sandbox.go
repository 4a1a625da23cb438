// Package sandbox executes untrusted scripts in an isolated interpreter
// bounded by timeout and memory limits.
//
// One Sandbox instance runs one execution at a time; the mutex makes
// sequential reuse safe, it does not parallelize a single instance. Callers
// needing concurrency use separate instances.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/function"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/secrets"
)

var (
	// ErrTimeout is returned when script execution exceeds the time limit.
	ErrTimeout = errors.New("script execution timed out")

	// ErrMemoryLimit is returned when the script exceeds the memory limit.
	ErrMemoryLimit = errors.New("script exceeded memory limit")

	// ErrNoEntryFunction is returned when the script defines no main
	// function.
	ErrNoEntryFunction = errors.New("main function not found in script")
)

// Sandbox is a script execution environment. The interpreter is rebuilt at
// the start of every call so no state leaks between executions.
type Sandbox struct {
	vm     *goja.Runtime
	config Config

	memoryMonitor *MemoryMonitor

	mutex       sync.RWMutex
	interrupted bool

	logger   *zap.Logger
	provider secrets.SecurityProvider

	// Per-execution state, set at call start and cleared at call end.
	currentSecrets  map[string]string
	currentServices *Services
}

// New creates a sandbox. provider may be nil; secrets.get then raises a
// script-visible error on any access.
func New(config Config, provider secrets.SecurityProvider) *Sandbox {
	if config.MemoryLimit <= 0 {
		config.MemoryLimit = DefaultMemoryLimit
	}
	if config.TimeoutMillis <= 0 {
		config.TimeoutMillis = DefaultTimeoutMillis
	}
	if config.StackSize <= 0 {
		config.StackSize = DefaultStackSize
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if provider == nil {
		logger.Warn("sandbox created without a security provider; secret decryption unavailable")
	}

	s := &Sandbox{
		config:   config,
		logger:   logger,
		provider: provider,
	}

	s.memoryMonitor = NewMemoryMonitor(uint64(config.MemoryLimit), logger, func() {
		s.interrupt(ErrMemoryLimit)
	})

	s.resetVM()
	return s
}

// resetVM replaces the interpreter with a fresh instance.
func (s *Sandbox) resetVM() {
	s.vm = goja.New()
	s.vm.SetMaxCallStackSize(int(s.config.StackSize) / 1024)
}

// Close releases sandbox resources.
func (s *Sandbox) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.memoryMonitor != nil {
		s.memoryMonitor.Stop()
	}
	s.vm = nil
}

// IsInterrupted reports whether the current execution was flagged for
// interruption.
func (s *Sandbox) IsInterrupted() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.interrupted
}

func (s *Sandbox) setInterrupted(v bool) {
	s.mutex.Lock()
	s.interrupted = v
	s.mutex.Unlock()
}

// interrupt flags the execution and signals the interpreter to stop at its
// next safe point. Timeout, cancellation, and memory breach all converge
// here.
func (s *Sandbox) interrupt(cause error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.interrupted = true
	if s.vm != nil {
		s.vm.Interrupt(cause)
	}
}

type executionResult struct {
	value goja.Value
	err   error
}

// Execute runs one script under the configured limits. The worker goroutine
// evaluates the script body and invokes main; the calling goroutine waits on
// whichever finishes first: the worker, the deadline, or cancellation. The
// caller is never blocked past the timeout, even if the worker ignores the
// interruption signal.
func (s *Sandbox) Execute(ctx context.Context, input Input) Output {
	startTime := time.Now()

	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if s.config.TimeoutMillis > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	s.setInterrupted(false)

	s.mutex.Lock()
	s.currentSecrets = input.Secrets
	s.currentServices = input.Services
	s.mutex.Unlock()
	defer func() {
		s.mutex.Lock()
		s.currentSecrets = nil
		s.currentServices = nil
		s.mutex.Unlock()
	}()

	output := Output{Logs: []string{}}

	if s.memoryMonitor != nil {
		s.memoryMonitor.Start()
		defer s.memoryMonitor.Stop()
	}

	s.mutex.Lock()
	s.resetVM()

	fnCtx := input.Context
	if fnCtx == nil {
		fnCtx = function.NewContext("anonymous")
	}

	if err := s.setupExecutionEnvironment(ctx, fnCtx, &output); err != nil {
		s.mutex.Unlock()
		output.Error = fmt.Sprintf("set up execution environment: %v", err)
		output.Duration = time.Since(startTime)
		if s.memoryMonitor != nil {
			output.MemoryUsed = s.memoryMonitor.GetCurrentUsage()
		}
		return output
	}

	vm := s.vm
	resultCh := make(chan *executionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- &executionResult{err: fmt.Errorf("script execution panicked: %v", r)}
			}
		}()

		// Evaluate the body to register functions, then call main.
		if _, err := vm.RunString(input.Code); err != nil {
			resultCh <- &executionResult{err: err}
			return
		}

		mainFn, ok := goja.AssertFunction(vm.Get("main"))
		if !ok {
			resultCh <- &executionResult{err: ErrNoEntryFunction}
			return
		}

		jsArgs := make([]goja.Value, len(input.Args))
		for i, arg := range input.Args {
			jsArgs[i] = vm.ToValue(arg)
		}

		value, err := mainFn(goja.Undefined(), jsArgs...)
		resultCh <- &executionResult{value: value, err: err}
	}()
	s.mutex.Unlock()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			output.Error = ErrTimeout.Error()
		} else {
			output.Error = fmt.Sprintf("script execution cancelled: %v", ctx.Err())
		}
		s.interrupt(ctx.Err())

	case execResult := <-resultCh:
		switch {
		case s.IsInterrupted():
			// The memory breach races the worker's own completion; the
			// breach outcome wins even over a successful result.
			output.Error = ErrMemoryLimit.Error()
		case execResult.err != nil:
			output.Error = execResult.err.Error()
		case execResult.value != nil:
			output.Result = exportValue(execResult.value)
		}
	}

	output.Duration = time.Since(startTime)
	if s.memoryMonitor != nil {
		output.MemoryUsed = s.memoryMonitor.GetCurrentUsage()
	}
	return output
}

// exportValue converts an interpreter value to a host value. Conversion is
// total: when structural export fails the string representation is used.
func exportValue(v goja.Value) (out any) {
	defer func() {
		if recover() != nil {
			out = v.String()
		}
	}()
	out = v.Export()
	if out == nil && !goja.IsNull(v) && !goja.IsUndefined(v) {
		out = v.String()
	}
	return out
}
