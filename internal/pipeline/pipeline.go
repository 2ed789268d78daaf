package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/observability"
)

const initialRetryDelay = 30 * time.Second

// Service keeps the most recent panel and refreshes it on demand or on an
// interval. Refreshes are serialized; readers see the last successful run.
type Service struct {
	assembler     *Assembler
	policy        RetryPolicy
	referenceDate time.Time // zero means today at each run
	interval      time.Duration
	clock         clockwork.Clock
	logger        *slog.Logger
	metrics       *observability.Metrics

	mu     sync.Mutex
	latest atomic.Pointer[AssemblyContext]
}

// NewService creates a Service. A zero interval disables periodic refresh.
func NewService(a *Assembler, policy RetryPolicy, referenceDate time.Time, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		assembler:     a,
		policy:        policy,
		referenceDate: referenceDate,
		interval:      interval,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
	}
}

// Refresh runs one assembly and, on success, replaces the current snapshot.
// A failed run leaves the previous snapshot in place.
func (s *Service) Refresh(ctx context.Context) (*AssemblyContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.assembler.Assemble(ctx, s.referenceDate, s.policy)
	if err != nil {
		return run, err
	}
	s.latest.Store(run)
	return run, nil
}

// Snapshot returns the current panel, or nil before the first successful run.
func (s *Service) Snapshot() *domain.Panel {
	if run := s.latest.Load(); run != nil {
		return run.Panel
	}
	return nil
}

// Latest returns the last successful run, or nil.
func (s *Service) Latest() *AssemblyContext {
	return s.latest.Load()
}

// CheckReadiness returns nil once a panel has been assembled.
func (s *Service) CheckReadiness(_ context.Context) error {
	if s.latest.Load() == nil {
		return errors.New("no panel assembled yet")
	}
	return nil
}

// Run assembles immediately and then every interval until the context is
// cancelled. A failed run is retried with exponential backoff capped at the
// interval.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("refresh loop started", "interval", s.interval)
	s.metrics.PipelineRunning.Set(1)
	defer s.metrics.PipelineRunning.Set(0)

	backoff := initialRetryDelay
	for {
		wait := s.interval
		if _, err := s.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.interval > 0 {
				wait = min(backoff, s.interval)
				backoff = retry.NextBackoff(backoff, s.interval)
			}
		} else {
			backoff = initialRetryDelay
		}

		if s.interval <= 0 {
			<-ctx.Done()
			s.logger.Info("refresh loop stopping", "reason", ctx.Err())
			return nil
		}
		if !s.sleep(ctx, wait) {
			s.logger.Info("refresh loop stopping", "reason", ctx.Err())
			return nil
		}
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
