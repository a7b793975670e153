package worker

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/queue"
	"github.com/audioscribe/api/internal/store"
)

// RequeueOrphans puts jobs that were still queued when the previous process
// stopped back in line, preserving submission order. With a durable store
// backend the records survive a restart but the in-process queue does not;
// without this pass such jobs would never be claimed and pollers would hang.
// Jobs that no longer fit in the queue are failed so their callers observe a
// terminal state and can resubmit.
func RequeueOrphans(ctx context.Context, st store.Store, q *queue.Queue, log zerolog.Logger) (int, error) {
	jobs, err := st.List(ctx, store.Filter{Status: model.JobStatusQueued})
	if err != nil {
		return 0, err
	}

	// List returns newest first; claims must follow submission order.
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	requeued := 0
	for _, job := range jobs {
		if err := q.Enqueue(job.ID); err != nil {
			now := time.Now()
			jobErr := &model.JobError{
				Code:    model.FailureTimeout,
				Message: "job lost its queue slot across a restart",
			}
			if _, terr := st.Transition(ctx, job.ID, model.JobStatusQueued, model.JobStatusFailed, store.Update{
				FinishedAt: &now,
				Error:      jobErr,
			}); terr != nil {
				log.Error().Err(terr).Str("jobId", job.ID).Msg("failing unrecoverable queued job")
			} else {
				log.Warn().Str("jobId", job.ID).Msg("queued job could not be restored, failed")
			}
			continue
		}
		requeued++
	}
	return requeued, nil
}
