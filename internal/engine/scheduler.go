package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type passRunner interface {
	RunPass(ctx context.Context) (PassSummary, error)
}

// Scheduler fires a full population pass on a fixed interval. Passes never
// overlap. Ticks that arrive while a pass is running collapse into one, so
// a pass that overruns the interval is followed by at most one immediate
// pass before the schedule resumes.
type Scheduler struct {
	runner   passRunner
	interval time.Duration
	logger   zerolog.Logger
}

func NewScheduler(runner passRunner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs a pass immediately and then once per interval until ctx is
// cancelled. It blocks.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("rule scheduler started")
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("rule scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	summary, err := s.runner.RunPass(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Msg("rule pass failed")
		return
	}
	s.logger.Info().
		Int("patients", summary.Patients).
		Int("rules", summary.Rules).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("rule pass completed")
}
