package scheduler

import (
	"context"
	"time"

	"github.com/vk/medallion/internal/coordinator"
	"github.com/vk/medallion/internal/ctxlog"
)

// Scheduler calls a Ticker once at start and then on every interval.
type Scheduler struct {
	ticker   Ticker
	interval time.Duration
}

// New creates a scheduler. A non-positive interval disables scheduling.
func New(t Ticker, interval time.Duration) *Scheduler {
	return &Scheduler{ticker: t, interval: interval}
}

// Run ticks until ctx is done. Tick errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	if s.interval <= 0 {
		logger.Debug("Scheduler disabled.")
		return
	}
	logger.Info("Scheduler started.", "interval", s.interval)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped.")
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	tickets, err := s.ticker.TickAll(ctx)
	if err != nil {
		logger.Error("Scheduled tick failed.", "error", err)
	}
	for _, tk := range tickets {
		if tk.Outcome == coordinator.OutcomeStarted {
			logger.Info("Scheduled run started.", "pipeline", tk.Pipeline, "partition", tk.Partition.String(), "runID", tk.RunID)
		} else {
			logger.Debug("Scheduled tick found nothing to start.", "pipeline", tk.Pipeline, "outcome", tk.Outcome)
		}
	}
}
