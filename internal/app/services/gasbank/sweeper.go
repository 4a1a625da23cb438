package gasbank

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/system"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

// Sweeper runs CleanupExpiredReservations on a fixed interval. It is a
// lifecycle-managed service registered with the system manager.
type Sweeper struct {
	service  *Service
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper creates a sweeper ticking at the given interval.
func NewSweeper(service *Service, interval time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("gasbank-sweeper")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: service, interval: interval, log: log}
}

func (s *Sweeper) Name() string { return "gasbank-sweeper" }

// Start schedules the sweep. Each run is bounded so a slow store cannot
// pile up overlapping sweeps.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cron = cron.New()

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		sweepCtx, done := context.WithTimeout(runCtx, s.interval)
		defer done()
		if _, err := s.service.CleanupExpiredReservations(sweepCtx); err != nil {
			s.log.WithError(err).Warn("reservation sweep failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule reservation sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.log.Infof("reservation sweeper started (interval %s)", s.interval)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
