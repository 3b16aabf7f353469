package snapshot

import (
	"context"
	"time"

	"lendwatch/internal/models"
	"lendwatch/logger"
)

// Cycler runs one snapshot cycle.
type Cycler interface {
	Cycle(ctx context.Context) (models.SnapshotSummary, error)
}

// Primer is implemented by cyclers that can subscribe their inputs ahead of
// the first cycle.
type Primer interface {
	Prime(ctx context.Context) error
}

// Scheduler primes the Cycler when it supports it, waits out the warm-up and
// then runs a cycle on a fixed interval until its context is cancelled. A
// slow cycle delays the next tick rather than overlapping it.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	warmup   time.Duration
	log      *logger.Log
}

// NewScheduler creates a scheduler.
func NewScheduler(cycler Cycler, interval, warmup time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		cycler:   cycler,
		interval: interval,
		warmup:   warmup,
		log:      logger.GetLogger(),
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	log := s.log.WithComponent("scheduler")
	log.WithFields(logger.Fields{
		"interval": s.interval.String(),
		"warmup":   s.warmup.String(),
	}).Info("snapshot scheduler started")

	if p, ok := s.cycler.(Primer); ok {
		if err := p.Prime(ctx); err != nil {
			log.WithError(err).Warn("priming failed, first snapshot may lack prices")
		}
	}

	if s.warmup > 0 {
		timer := time.NewTimer(s.warmup)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("snapshot scheduler stopped during warm-up")
			return
		case <-timer.C:
		}
	}

	s.runOnce(ctx, log)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("snapshot scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, log)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, log *logger.Entry) {
	if ctx.Err() != nil {
		return
	}
	summary, err := s.cycler.Cycle(ctx)
	if err != nil {
		log.WithError(err).Warn("snapshot cycle failed, retrying next interval")
		return
	}
	log.WithFields(logger.Fields{
		"snapshot_id":    summary.ID,
		"obligations":    summary.ObligationCount,
		"live_prices":    summary.LivePriceCount,
		"unknown_values": summary.UnknownValues,
		"used_fallback":  summary.UsedFallback,
		"path":           summary.Path,
	}).Info("snapshot written")
}
