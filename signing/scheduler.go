package signing

import (
	"context"
	"sync/atomic"
	"time"

	"signflow/logger"
)

// Scheduler drives the time-based lifecycle work: expiring overdue
// contracts on a short cadence and warning about upcoming expirations on a
// daily one. A tick that fires while the previous run is still going is
// skipped.
type Scheduler struct {
	coord          *Coordinator
	log            *logger.Logger
	expireInterval time.Duration
	warnInterval   time.Duration
	warningWindow  time.Duration

	running atomic.Bool
}

func NewScheduler(coord *Coordinator, log *logger.Logger, expireInterval, warningWindow time.Duration) *Scheduler {
	if expireInterval <= 0 {
		expireInterval = time.Hour
	}
	if warningWindow <= 0 {
		warningWindow = 24 * time.Hour
	}
	return &Scheduler{
		coord:          coord,
		log:            log,
		expireInterval: expireInterval,
		warnInterval:   24 * time.Hour,
		warningWindow:  warningWindow,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	expireTicker := time.NewTicker(s.expireInterval)
	defer expireTicker.Stop()
	warnTicker := time.NewTicker(s.warnInterval)
	defer warnTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expireTicker.C:
			s.runGuarded(ctx, s.expirePass)
		case <-warnTicker.C:
			s.runGuarded(ctx, s.warnPass)
		}
	}
}

func (s *Scheduler) runGuarded(ctx context.Context, pass func(context.Context)) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)
	pass(ctx)
}

func (s *Scheduler) expirePass(ctx context.Context) {
	n, err := s.coord.ExpireDue(ctx)
	if err != nil {
		s.log.Error("expiration pass failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("expired overdue contracts", "count", n)
	}
}

func (s *Scheduler) warnPass(ctx context.Context) {
	n, err := s.coord.WarnExpiring(ctx, s.warningWindow)
	if err != nil {
		s.log.Error("expiration warning pass failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("sent expiration warnings", "count", n)
	}
}
