package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/client"
	"github.com/audioscribe/api/internal/media"
	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/queue"
	"github.com/audioscribe/api/internal/store"
)

var (
	// ErrValidation marks malformed submissions, rejected before enqueue.
	ErrValidation = errors.New("invalid submission")

	// ErrBusy signals queue backpressure to the handler.
	ErrBusy = errors.New("service busy")
)

// Notifier pushes job state changes to subscribers. The websocket hub
// implements it; tests pass nil-safe fakes.
type Notifier interface {
	BroadcastStatus(jobID string, status model.JobStatus)
	BroadcastResult(jobID string, result *model.Transcript)
	BroadcastError(jobID string, jobErr *model.JobError)
}

// Prober measures the duration of a local audio file. The normalizer
// implements it; when configured, inline uploads over the duration limit are
// rejected at submission so no executor ever claims them.
type Prober interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
}

// JobService translates request-level operations into store and queue
// operations. It owns submission validation, the inline-upload spool, and
// best-effort cancellation.
type JobService struct {
	store    store.Store
	queue    *queue.Queue
	storage  client.StorageClient // optional; nil means local spool only
	notifier Notifier             // optional
	prober   Prober               // optional
	log      zerolog.Logger

	maxUploadBytes int64
	maxDuration    time.Duration
	spoolDir       string
}

// Options carries the optional collaborators and limits for a JobService.
type Options struct {
	Storage        client.StorageClient
	Notifier       Notifier
	Prober         Prober
	MaxUploadBytes int64
	MaxDuration    time.Duration
	SpoolDir       string
}

// NewJobService creates a JobService.
func NewJobService(st store.Store, q *queue.Queue, opts Options, log zerolog.Logger) *JobService {
	return &JobService{
		store:          st,
		queue:          q,
		storage:        opts.Storage,
		notifier:       opts.Notifier,
		prober:         opts.Prober,
		log:            log,
		maxUploadBytes: opts.MaxUploadBytes,
		maxDuration:    opts.MaxDuration,
		spoolDir:       opts.SpoolDir,
	}
}

// Submit validates the request, creates the job record, and enqueues it.
// Queue-full submissions are rolled back and reported as ErrBusy. Inline
// uploads over the byte limit become immediately failed jobs that no worker
// ever claims.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	params, err := paramsFromRequest(req)
	if err != nil {
		return nil, err
	}

	hasURL := req.URL != ""
	hasAudio := req.Audio != ""
	if hasURL == hasAudio {
		return nil, fmt.Errorf("%w: exactly one of url or audio is required", ErrValidation)
	}

	now := time.Now()
	job := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		Params:    params,
		CreatedAt: now,
	}

	if hasURL {
		job.Source = model.Source{Type: model.SourceTypeURL, URL: req.URL}
	} else {
		audio, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			return nil, fmt.Errorf("%w: audio is not valid base64", ErrValidation)
		}
		if len(audio) == 0 {
			return nil, fmt.Errorf("%w: audio is empty", ErrValidation)
		}
		if s.maxUploadBytes > 0 && int64(len(audio)) > s.maxUploadBytes {
			msg := fmt.Sprintf("upload of %d bytes exceeds the configured limit of %d", len(audio), s.maxUploadBytes)
			return s.failTooLarge(ctx, job, int64(len(audio)), msg)
		}

		path, err := media.SpoolUpload(s.spoolDir, job.ID, audio)
		if err != nil {
			return nil, err
		}

		// Gate on duration here so an over-limit clip is terminal on arrival
		// and no executor ever claims it. Probe failures are left for the
		// pipeline's decode stage to classify.
		if s.prober != nil && s.maxDuration > 0 {
			if dur, perr := s.prober.Probe(ctx, path); perr == nil && dur > s.maxDuration {
				os.Remove(path)
				msg := fmt.Sprintf("duration %s exceeds the configured limit of %s", dur, s.maxDuration)
				return s.failTooLarge(ctx, job, int64(len(audio)), msg)
			}
		}

		src, err := s.storeUpload(ctx, job.ID, path, audio)
		if err != nil {
			os.Remove(path)
			return nil, err
		}
		job.Source = src
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(job.ID); err != nil {
		// Reject rather than hold state for work that will never run.
		if delErr := s.store.Delete(ctx, job.ID); delErr != nil {
			s.log.Error().Err(delErr).Str("jobId", job.ID).Msg("rollback after full queue failed")
		}
		if errors.Is(err, queue.ErrFull) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.log.Info().
		Str("jobId", job.ID).
		Str("sourceType", string(job.Source.Type)).
		Str("model", string(params.Model)).
		Msg("job accepted")

	return &model.SubmitResponse{ID: job.ID, Status: job.Status, CreatedAt: now}, nil
}

// failTooLarge records an over-limit submission as terminally failed without
// ever enqueueing it.
func (s *JobService) failTooLarge(ctx context.Context, job *model.Job, size int64, msg string) (*model.SubmitResponse, error) {
	now := time.Now()
	job.Status = model.JobStatusFailed
	job.Source = model.Source{Type: model.SourceTypeUpload, Size: size}
	job.FinishedAt = &now
	job.Error = &model.JobError{
		Code:    model.FailureTooLarge,
		Message: msg,
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Warn().Str("jobId", job.ID).Int64("bytes", size).Msg("rejected oversize upload")

	return &model.SubmitResponse{ID: job.ID, Status: job.Status, CreatedAt: job.CreatedAt}, nil
}

// storeUpload persists spooled upload bytes: to object storage when
// configured, so any worker replica can fetch them by URL, otherwise the
// local spool file is kept and consumed by the worker.
func (s *JobService) storeUpload(ctx context.Context, jobID, path string, audio []byte) (model.Source, error) {
	size := int64(len(audio))

	if s.storage != nil {
		key := "audio/" + jobID
		url, err := s.storage.Upload(ctx, key, bytes.NewReader(audio), "application/octet-stream")
		if err != nil {
			return model.Source{}, fmt.Errorf("store upload: %w", err)
		}
		os.Remove(path)
		// Keeps the upload type so the fetcher downloads the object
		// directly instead of treating it as a media page.
		return model.Source{Type: model.SourceTypeUpload, URL: url, Size: size}, nil
	}

	return model.Source{Type: model.SourceTypeUpload, Path: path, Size: size}, nil
}

// Status returns the status view of a job.
func (s *JobService) Status(ctx context.Context, jobID string) (*model.StatusResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return model.StatusFromJob(job), nil
}

// Result returns the terminal outcome of a job, or pending=true while the
// job is still in flight.
func (s *JobService) Result(ctx context.Context, jobID string) (*model.ResultResponse, bool, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if !job.Terminal() {
		return &model.ResultResponse{ID: job.ID, Status: job.Status}, true, nil
	}
	return &model.ResultResponse{
		ID:     job.ID,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	}, false, nil
}

// List returns status views of jobs, optionally filtered by status.
func (s *JobService) List(ctx context.Context, status model.JobStatus) (*model.ListResponse, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	jobs, err := s.store.List(ctx, store.Filter{Status: status})
	if err != nil {
		return nil, err
	}

	out := &model.ListResponse{Jobs: make([]*model.StatusResponse, 0, len(jobs))}
	for _, job := range jobs {
		out.Jobs = append(out.Jobs, model.StatusFromJob(job))
	}
	out.Count = len(out.Jobs)
	return out, nil
}

// Cancel flips a job to cancelled if it has not reached a terminal state.
// A running normalize/transcribe call is left to finish on its own; its late
// transition loses the compare-and-swap against the cancelled status.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.CancelResponse, error) {
	now := time.Now()
	upd := store.Update{FinishedAt: &now}

	for _, from := range []model.JobStatus{model.JobStatusQueued, model.JobStatusRunning} {
		job, err := s.store.Transition(ctx, jobID, from, model.JobStatusCancelled, upd)
		if err == nil {
			s.log.Info().Str("jobId", jobID).Str("from", string(from)).Msg("job cancelled")
			if s.notifier != nil {
				s.notifier.BroadcastStatus(jobID, model.JobStatusCancelled)
			}
			return &model.CancelResponse{ID: jobID, Status: job.Status, Cancelled: true}, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
	}

	// Already terminal; report the status without altering result or error.
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.CancelResponse{ID: jobID, Status: job.Status, Cancelled: false}, nil
}

func paramsFromRequest(req *model.SubmitRequest) (model.Params, error) {
	params := model.Params{
		Language: req.Language,
		Model:    model.ModelSize(req.Model),
	}
	if params.Language == "" {
		params.Language = model.LanguageAuto
	}
	if params.Model == "" {
		params.Model = model.ModelBase
	}
	if !params.Model.Valid() {
		return model.Params{}, fmt.Errorf("%w: unknown model %q", ErrValidation, req.Model)
	}
	return params, nil
}
