// -----------------------------------------------------------------------
// Scheduler Service - cron-driven batch runs for schedule mode
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Service wraps a cron runner around the batch. Overlapping runs are
// skipped: a check-in batch with hour-scale retry backoffs can easily
// outlive its own schedule slot.
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	mu      sync.Mutex
	running bool
}

// NewService creates a scheduler.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		logger: logger,
	}
}

// Schedule registers the batch handler under a cron spec and starts
// the scheduler.
func (s *Service) Schedule(spec string, handler func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			s.logger.Warn().Msg("Previous run still in progress, skipping scheduled run")
			return
		}
		s.running = true
		s.mu.Unlock()

		s.logger.Info().Str("spec", spec).Msg("Scheduled check-in run starting")
		handler(context.Background())

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().Str("spec", spec).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}
