package registration

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
)

// Scheduler runs the poll use case with a fixed delay between the end of one
// run and the start of the next. The first run starts immediately.
type Scheduler struct {
	useCase  application.UseCase[struct{}, *PollResult]
	interval time.Duration
	log      observability.Logger
}

func NewScheduler(useCase application.UseCase[struct{}, *PollResult], interval time.Duration, tel observability.Observability) *Scheduler {
	logger, _, _ := observability.Resolve(tel)
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		useCase:  useCase,
		interval: interval,
		log:      logger.With(observability.F("service", registrationService)),
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("registration_scheduler_started", observability.F("interval", s.interval.String()))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("registration_scheduler_stopped")
			return nil
		case <-timer.C:
		}
		s.runOnce(ctx)
		timer.Reset(s.interval)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("registration_poll_panic", observability.F("panic", r))
		}
	}()
	if _, err := s.useCase.Execute(ctx, struct{}{}); err != nil && ctx.Err() == nil {
		s.log.Error("registration_poll_failed", observability.F("error", err))
	}
}
