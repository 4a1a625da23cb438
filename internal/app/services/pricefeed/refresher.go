package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/system"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

// Refresher periodically re-fetches the configured pairs and records the
// result. Pairs without a working fetcher keep their last stored quote.
type Refresher struct {
	service  *Service
	fetcher  Fetcher
	pairs    []string
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Refresher)(nil)

// NewRefresher creates a refresher for the given pairs.
func NewRefresher(service *Service, pairs []string, interval time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("pricefeed-refresher")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{
		service:  service,
		pairs:    append([]string(nil), pairs...),
		interval: interval,
		log:      log,
	}
}

// WithFetcher attaches the upstream source. Call before Start.
func (r *Refresher) WithFetcher(f Fetcher) *Refresher {
	r.fetcher = f
	return r
}

func (r *Refresher) Name() string { return "pricefeed-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if r.fetcher == nil || len(r.pairs) == 0 {
		r.log.Warn("no fetcher or pairs configured; price refresher idle")
		r.running = true
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Infof("price refresher started (%d pairs, interval %s)", len(r.pairs), r.interval)
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	for _, pair := range r.pairs {
		value, source, err := r.fetcher.Fetch(ctx, pair)
		if err != nil {
			r.log.WithError(err).Warnf("fetch price for %s failed", pair)
			continue
		}
		if _, err := r.service.UpdatePrice(ctx, pair, value, source); err != nil {
			r.log.WithError(err).Warnf("store price for %s failed", pair)
		}
	}
}
