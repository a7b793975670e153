// Package worker runs the fixed pool of executors that drain the job queue:
// claim, fetch, normalize, transcribe, commit. All claim and commit steps go
// through the store's compare-and-swap, so a concurrent cancellation and an
// executor can never both win.
package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/engine"
	"github.com/audioscribe/api/internal/media"
	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/queue"
	"github.com/audioscribe/api/internal/store"
)

// Fetcher resolves a job source to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) (string, func(), error)
}

// Normalizer converts input audio into the canonical stream.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (string, func(), error)
}

// Notifier pushes job state changes to subscribers; may be nil.
type Notifier interface {
	BroadcastStatus(jobID string, status model.JobStatus)
	BroadcastResult(jobID string, result *model.Transcript)
	BroadcastError(jobID string, jobErr *model.JobError)
}

// Pool is the fixed set of concurrent executors.
type Pool struct {
	store      store.Store
	queue      *queue.Queue
	fetcher    Fetcher
	normalizer Normalizer
	engine     engine.Engine
	notifier   Notifier
	jobTimeout time.Duration
	size       int
	log        zerolog.Logger

	wg sync.WaitGroup
}

// PoolConfig wires a Pool's collaborators.
type PoolConfig struct {
	Store      store.Store
	Queue      *queue.Queue
	Fetcher    Fetcher
	Normalizer Normalizer
	Engine     engine.Engine
	Notifier   Notifier
	JobTimeout time.Duration
	Size       int
}

// NewPool creates a pool of cfg.Size executors.
func NewPool(cfg PoolConfig, log zerolog.Logger) *Pool {
	size := cfg.Size
	if size < 1 {
		size = 1
	}
	timeout := cfg.JobTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &Pool{
		store:      cfg.Store,
		queue:      cfg.Queue,
		fetcher:    cfg.Fetcher,
		normalizer: cfg.Normalizer,
		engine:     cfg.Engine,
		notifier:   cfg.Notifier,
		jobTimeout: timeout,
		size:       size,
		log:        log,
	}
}

// Start launches the executors. They stop when ctx is cancelled or the
// queue is closed; Wait blocks until all of them have returned.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(n int) {
			defer p.wg.Done()
			p.runExecutor(ctx, n)
		}(i)
	}
}

// Wait blocks until every executor has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runExecutor(ctx context.Context, n int) {
	log := p.log.With().Int("executor", n).Logger()
	for {
		jobID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("dequeue failed")
			return
		}
		p.process(ctx, log, jobID)
	}
}

// process runs one job to a terminal state. Per-job failures are recorded on
// the job and never escape; only the claim/commit races are special-cased.
func (p *Pool) process(ctx context.Context, log zerolog.Logger, jobID string) {
	now := time.Now()
	job, err := p.store.Transition(ctx, jobID, model.JobStatusQueued, model.JobStatusRunning, store.Update{StartedAt: &now})
	if err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			// Cancelled or evicted before pickup; nothing to do.
			log.Debug().Str("jobId", jobID).Msg("job gone before claim")
			return
		}
		log.Error().Err(err).Str("jobId", jobID).Msg("claim failed")
		return
	}
	p.notify(job.ID, model.JobStatusRunning, nil, nil)
	log.Info().Str("jobId", job.ID).Msg("job claimed")

	result, jobErr := p.run(ctx, log, job)

	finished := time.Now()
	if jobErr != nil {
		_, err = p.store.Transition(ctx, job.ID, model.JobStatusRunning, model.JobStatusFailed, store.Update{
			FinishedAt: &finished,
			Error:      jobErr,
		})
	} else {
		_, err = p.store.Transition(ctx, job.ID, model.JobStatusRunning, model.JobStatusSucceeded, store.Update{
			FinishedAt: &finished,
			Result:     result,
		})
	}
	if err != nil {
		// Lost the race against a cancellation (or the liveness sweep);
		// the committed state wins and our outcome is discarded.
		log.Warn().Err(err).Str("jobId", job.ID).Msg("terminal transition rejected")
		return
	}

	if jobErr != nil {
		p.notify(job.ID, model.JobStatusFailed, nil, jobErr)
		log.Warn().Str("jobId", job.ID).Str("cause", string(jobErr.Code)).Msg("job failed")
	} else {
		p.notify(job.ID, model.JobStatusSucceeded, result, nil)
		log.Info().Str("jobId", job.ID).Int("segments", len(result.Segments)).Msg("job succeeded")
	}
}

// run executes fetch, normalize and transcribe under the per-job wall-clock
// budget and maps failures onto the job error taxonomy.
func (p *Pool) run(ctx context.Context, log zerolog.Logger, job *model.Job) (*model.Transcript, *model.JobError) {
	jctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	if job.Source.Type == model.SourceTypeUpload && job.Source.Path != "" {
		// The spooled upload is only needed for this run.
		defer os.Remove(job.Source.Path)
	}

	inputPath, cleanupFetch, err := p.fetcher.Fetch(jctx, job.Source)
	if err != nil {
		return nil, p.mapError(jctx, err, model.FailureFetchError)
	}
	defer cleanupFetch()

	wavPath, cleanupWav, err := p.normalizer.Normalize(jctx, inputPath)
	if err != nil {
		return nil, p.mapError(jctx, err, model.FailureDecodeError)
	}
	defer cleanupWav()

	result, err := p.engine.Transcribe(jctx, wavPath, job.Params)
	if err != nil {
		return nil, p.mapError(jctx, err, model.FailureEngineError)
	}
	return result, nil
}

func (p *Pool) mapError(ctx context.Context, err error, fallback model.FailureCode) *model.JobError {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return model.NewJobError(model.FailureTimeout, err)
	case errors.Is(err, media.ErrTooLarge):
		return model.NewJobError(model.FailureTooLarge, err)
	case errors.Is(err, media.ErrDecode):
		return model.NewJobError(model.FailureDecodeError, err)
	case errors.Is(err, engine.ErrEngine):
		return model.NewJobError(model.FailureEngineError, err)
	default:
		return model.NewJobError(fallback, err)
	}
}

func (p *Pool) notify(jobID string, status model.JobStatus, result *model.Transcript, jobErr *model.JobError) {
	if p.notifier == nil {
		return
	}
	p.notifier.BroadcastStatus(jobID, status)
	if result != nil {
		p.notifier.BroadcastResult(jobID, result)
	}
	if jobErr != nil {
		p.notifier.BroadcastError(jobID, jobErr)
	}
}
