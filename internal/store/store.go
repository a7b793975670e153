package store

import (
	"context"
	"errors"
	"time"

	"github.com/audioscribe/api/internal/model"
)

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned when a transition precondition does not hold.
	// The caller lost a race; the stored record was not modified.
	ErrConflict = errors.New("job status conflict")

	// ErrDuplicate is returned when creating a job whose id already exists.
	ErrDuplicate = errors.New("job already exists")
)

// Update carries the fields applied atomically with a status swap.
// Nil fields are left untouched; result and error are mutually exclusive.
type Update struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
	Result     *model.Transcript
	Error      *model.JobError
}

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	Status model.JobStatus
}

// Store is the single source of truth for job records. All mutation goes
// through Create, Transition and Delete, so callers never need external
// locking across normalize/transcribe calls.
type Store interface {
	// Create inserts a new record. The job keeps the id it arrives with.
	Create(ctx context.Context, job *model.Job) error

	// Get returns a copy of the record or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Job, error)

	// Transition is a compare-and-swap on status: it succeeds only if the
	// stored status equals from and the edge from->to is legal, applying upd
	// in the same step. Exactly one writer wins a race; losers get ErrConflict.
	Transition(ctx context.Context, id string, from, to model.JobStatus, upd Update) (*model.Job, error)

	// List returns copies of records matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*model.Job, error)

	// Delete removes a record regardless of status.
	Delete(ctx context.Context, id string) error

	// Evict removes terminal jobs that finished before the cutoff and
	// returns how many were removed.
	Evict(ctx context.Context, olderThan time.Time) (int, error)
}

// apply copies the update onto the job. Timestamps are only ever set once.
func apply(j *model.Job, to model.JobStatus, upd Update) {
	j.Status = to
	if upd.StartedAt != nil && j.StartedAt == nil {
		j.StartedAt = upd.StartedAt
	}
	if upd.FinishedAt != nil && j.FinishedAt == nil {
		j.FinishedAt = upd.FinishedAt
	}
	if upd.Result != nil && j.Result == nil && j.Error == nil {
		j.Result = upd.Result
	}
	if upd.Error != nil && j.Error == nil && j.Result == nil {
		j.Error = upd.Error
	}
}
