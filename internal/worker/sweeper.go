package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/store"
)

// sweepGrace is added on top of the job timeout before a running job is
// considered stalled, so the sweep never races a healthy executor that is
// about to commit.
const sweepGrace = 30 * time.Second

// Sweeper is the periodic liveness and retention task: it reclaims jobs
// whose executor died mid-run and evicts terminal jobs past the retention
// window.
type Sweeper struct {
	store      store.Store
	notifier   Notifier
	jobTimeout time.Duration
	retention  time.Duration
	interval   time.Duration
	log        zerolog.Logger
}

// SweeperConfig wires a Sweeper.
type SweeperConfig struct {
	Store      store.Store
	Notifier   Notifier
	JobTimeout time.Duration
	Retention  time.Duration
	Interval   time.Duration
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg SweeperConfig, log zerolog.Logger) *Sweeper {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		jobTimeout: cfg.JobTimeout,
		retention:  cfg.Retention,
		interval:   interval,
		log:        log,
	}
}

// Run loops until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one liveness pass and one retention pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.reclaimStalled(ctx)
	s.evictExpired(ctx)
}

// reclaimStalled fails running jobs whose wall-clock budget is long gone,
// making them eligible for re-submission by the caller.
func (s *Sweeper) reclaimStalled(ctx context.Context) {
	if s.jobTimeout <= 0 {
		return
	}

	running, err := s.store.List(ctx, store.Filter{Status: model.JobStatusRunning})
	if err != nil {
		s.log.Error().Err(err).Msg("liveness sweep list failed")
		return
	}

	deadline := time.Now().Add(-(s.jobTimeout + sweepGrace))
	for _, job := range running {
		if job.StartedAt == nil || job.StartedAt.After(deadline) {
			continue
		}

		now := time.Now()
		jobErr := &model.JobError{
			Code:    model.FailureTimeout,
			Message: "job exceeded its wall-clock budget and was reclaimed",
		}
		_, err := s.store.Transition(ctx, job.ID, model.JobStatusRunning, model.JobStatusFailed, store.Update{
			FinishedAt: &now,
			Error:      jobErr,
		})
		if err != nil {
			// The executor or a cancellation got there first. Fine.
			if !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
				s.log.Error().Err(err).Str("jobId", job.ID).Msg("reclaim failed")
			}
			continue
		}

		s.log.Warn().Str("jobId", job.ID).Time("startedAt", *job.StartedAt).Msg("reclaimed stalled job")
		if s.notifier != nil {
			s.notifier.BroadcastStatus(job.ID, model.JobStatusFailed)
			s.notifier.BroadcastError(job.ID, jobErr)
		}
	}
}

// evictExpired garbage-collects terminal jobs past the retention window.
func (s *Sweeper) evictExpired(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	evicted, err := s.store.Evict(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.log.Error().Err(err).Msg("retention eviction failed")
		return
	}
	if evicted > 0 {
		s.log.Info().Int("evicted", evicted).Msg("evicted expired jobs")
	}
}
