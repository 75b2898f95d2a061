// Package scheduler drives the periodic pricing pipeline run and the
// backend projection sync that follows it (spec.md §4.8).
package scheduler

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pricelens/ingestor/internal/backendsync"
	"github.com/pricelens/ingestor/internal/config"
	"github.com/pricelens/ingestor/internal/events"
	"github.com/pricelens/ingestor/internal/pipeline"
)

// Scheduler runs the pricing pipeline on a fixed interval, followed by a
// backend-projection sync when the backend store is configured.
type Scheduler struct {
	pipeline *pipeline.Pipeline
	backend  *backendsync.Syncer
	cfg      *config.Config
	interval time.Duration
	now      func() time.Time
}

// New constructs a Scheduler. backend may be nil when the backend store is
// not configured; Run then skips that stage every iteration.
func New(p *pipeline.Pipeline, backend *backendsync.Syncer, cfg *config.Config) *Scheduler {
	interval := time.Duration(cfg.RunIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		pipeline: p,
		backend:  backend,
		cfg:      cfg,
		interval: interval,
		now:      time.Now,
	}
}

// Run drives the scheduler. With once=true it performs exactly one
// iteration and returns its error to the caller. Otherwise it loops on a
// ticker until ctx is cancelled, logging (but not propagating) per-tick
// failures so a single bad run never stops future ticks.
func (s *Scheduler) Run(ctx context.Context, once bool) error {
	if once {
		return s.tick(ctx)
	}

	if s.cfg.RunOnStartup {
		if err := s.tick(ctx); err != nil {
			log.WithError(err).Warn("scheduler: initial run failed")
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				log.WithError(err).Warn("scheduler: run failed")
			}
		}
	}
}

// tick performs exactly one pipeline run plus backend sync, logging
// structured start/complete/fail events around the whole iteration.
func (s *Scheduler) tick(ctx context.Context) (err error) {
	started := s.now()
	log.WithField("started_at", started).Info(events.SchedulerIterationStarted)

	defer func() {
		fields := log.Fields{"duration_ms": time.Since(started).Milliseconds()}
		if err != nil {
			log.WithFields(fields).WithError(err).Error(events.SchedulerIterationFailed)
		} else {
			log.WithFields(fields).Info(events.SchedulerIterationCompleted)
		}
	}()

	if s.backend != nil {
		missing, missingErr := s.backend.MissingFromBackend(ctx)
		if missingErr != nil {
			log.WithError(missingErr).Warn("scheduler: compute missing-in-backend failed")
		} else if len(missing) > 0 {
			log.WithField("missing_slugs", missing).Info(events.FoundMissingModelsInBackend)
		} else {
			log.Debug(events.NoMissingModelsInBackend)
		}
	}

	if runErr := s.pipeline.Run(ctx); runErr != nil {
		return fmt.Errorf("scheduler: pipeline run: %w", runErr)
	}

	if s.backend == nil {
		log.Debug(events.BackendSyncDisabled)
		return nil
	}

	if syncErr := s.backend.Sync(ctx); syncErr != nil {
		return fmt.Errorf("scheduler: backend sync: %w", syncErr)
	}

	return nil
}
