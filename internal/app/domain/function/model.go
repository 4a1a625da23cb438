// Package function defines the function execution domain model.
package function

import (
	"time"

	"github.com/google/uuid"
)

// Context carries per-execution identity and data into the sandbox. It is
// built fresh for every execution request and discarded afterwards; the
// With* builders configure it before execution starts.
type Context struct {
	FunctionID  string            `json:"function_id"`
	ExecutionID string            `json:"execution_id"`
	Owner       string            `json:"owner"`
	Caller      string            `json:"caller"`
	Parameters  map[string]any    `json:"parameters"`
	Environment map[string]string `json:"environment"`
	TraceID     string            `json:"trace_id"`

	// ServiceLayerURL points the interoperability bindings at a service
	// layer endpoint, when one is known.
	ServiceLayerURL string `json:"service_layer_url,omitempty"`
}

// NewContext creates a context with a fresh execution ID.
func NewContext(functionID string) *Context {
	return &Context{
		FunctionID:  functionID,
		ExecutionID: uuid.New().String(),
		Parameters:  make(map[string]any),
		Environment: make(map[string]string),
	}
}

// WithOwner sets the function owner.
func (c *Context) WithOwner(owner string) *Context {
	c.Owner = owner
	return c
}

// WithCaller sets the caller identity.
func (c *Context) WithCaller(caller string) *Context {
	c.Caller = caller
	return c
}

// WithParameters sets the parameter map.
func (c *Context) WithParameters(params map[string]any) *Context {
	c.Parameters = params
	return c
}

// WithEnvironment sets the environment map.
func (c *Context) WithEnvironment(env map[string]string) *Context {
	c.Environment = env
	return c
}

// WithTraceID sets the distributed trace identifier.
func (c *Context) WithTraceID(traceID string) *Context {
	c.TraceID = traceID
	return c
}

// WithServiceLayerURL sets the service layer endpoint.
func (c *Context) WithServiceLayerURL(url string) *Context {
	c.ServiceLayerURL = url
	return c
}

// ExecutionResult is the outcome of one sandboxed execution. It is produced
// exactly once per call and immutable afterwards. A failed execution still
// carries logs, duration and memory so diagnostics are never lost.
type ExecutionResult struct {
	Result     any           `json:"result,omitempty"`
	Logs       []string      `json:"logs"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	MemoryUsed uint64        `json:"memory_used"`
}
