package enclave

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/metrics"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

// HandlerFunc processes one envelope payload and returns the response body.
// A returned error becomes a structured failure envelope.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Router dispatches request envelopes to registered handlers. Every
// dispatch produces exactly one response: validation failures, unknown
// targets, handler errors, and handler panics all yield a failure envelope
// echoing the request ID.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burst     int

	log *logger.Logger
}

// NewRouter creates a router with rate limiting disabled.
func NewRouter(log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault("enclave")
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		limiters: make(map[string]*rate.Limiter),
		log:      log,
	}
}

// WithRateLimit enables a per-caller token bucket.
func (r *Router) WithRateLimit(requestsPerSecond float64, burst int) *Router {
	r.rate = rate.Limit(requestsPerSecond)
	r.burst = burst
	return r
}

// Handle registers a handler for (serviceType, operation).
func (r *Router) Handle(serviceType, operation string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[routeKey(serviceType, operation)] = h
}

func routeKey(serviceType, operation string) string {
	return serviceType + "/" + operation
}

func (r *Router) limiter(caller string) *rate.Limiter {
	r.limiterMu.Lock()
	defer r.limiterMu.Unlock()

	lim, ok := r.limiters[caller]
	if !ok {
		lim = rate.NewLimiter(r.rate, r.burst)
		r.limiters[caller] = lim
	}
	return lim
}

// Dispatch routes one request envelope. The returned response is never nil.
func (r *Router) Dispatch(ctx context.Context, req *Request) (resp *Response) {
	start := time.Now()

	if req == nil {
		return failure("", "empty request")
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("handler panic on %s/%s: %v", req.ServiceType, req.Operation, rec)
			resp = failure(req.RequestID, fmt.Sprintf("internal error: %v", rec))
		}
		metrics.RecordDispatch(req.ServiceType, req.Operation, time.Since(start), resp.Success)
	}()

	if req.RequestID == "" {
		return failure("", "requestId is required")
	}
	if req.ServiceType == "" || req.Operation == "" {
		return failure(req.RequestID, "serviceType and operation are required")
	}

	r.mu.RLock()
	handler, ok := r.handlers[routeKey(req.ServiceType, req.Operation)]
	r.mu.RUnlock()
	if !ok {
		return failure(req.RequestID, fmt.Sprintf("unknown target %s/%s", req.ServiceType, req.Operation))
	}

	if r.rate > 0 {
		caller := req.Caller
		if caller == "" {
			caller = "anonymous"
		}
		if !r.limiter(caller).Allow() {
			r.log.WithField("caller", caller).
				WithField("target", routeKey(req.ServiceType, req.Operation)).
				Warn("rate limit exceeded")
			return failure(req.RequestID, "rate limit exceeded")
		}
	}

	result, err := handler(ctx, req)
	if err != nil {
		return failure(req.RequestID, err.Error())
	}

	var payload json.RawMessage
	if result != nil {
		payload, err = json.Marshal(result)
		if err != nil {
			r.log.WithError(err).Errorf("encode response for %s/%s", req.ServiceType, req.Operation)
			return failure(req.RequestID, fmt.Sprintf("encode response: %v", err))
		}
	}
	return success(req.RequestID, payload)
}
