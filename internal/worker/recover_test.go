package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/queue"
	"github.com/audioscribe/api/internal/store"
)

func seedQueuedJob(t *testing.T, st store.Store, createdAt time.Time) *model.Job {
	t.Helper()
	job := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		Source:    model.Source{Type: model.SourceTypeURL, URL: "https://example.com/a.mp3"},
		CreatedAt: createdAt,
	}
	if err := st.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	return job
}

func TestRequeueOrphansRestoresSubmissionOrder(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(8)
	defer q.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	first := seedQueuedJob(t, st, base)
	second := seedQueuedJob(t, st, base.Add(time.Minute))
	third := seedQueuedJob(t, st, base.Add(2*time.Minute))

	n, err := RequeueOrphans(ctx, st, q, zerolog.Nop())
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 3 {
		t.Fatalf("requeued = %d, want 3", n)
	}

	for i, want := range []string{first.ID, second.ID, third.ID} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if got != want {
			t.Errorf("position %d = %s, want %s", i, got, want)
		}
	}
}

func TestRequeueOrphansFailsOverflow(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(2)
	defer q.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	kept := []*model.Job{
		seedQueuedJob(t, st, base),
		seedQueuedJob(t, st, base.Add(time.Minute)),
	}
	dropped := seedQueuedJob(t, st, base.Add(2*time.Minute))

	n, err := RequeueOrphans(ctx, st, q, zerolog.Nop())
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 2 {
		t.Fatalf("requeued = %d, want 2", n)
	}

	for _, job := range kept {
		got, _ := st.Get(ctx, job.ID)
		if got.Status != model.JobStatusQueued {
			t.Errorf("job %s status = %s, want queued", job.ID, got.Status)
		}
	}

	got, err := st.Get(ctx, dropped.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobStatusFailed {
		t.Fatalf("overflow job status = %s, want failed", got.Status)
	}
	if got.Error == nil || got.Error.Code != model.FailureTimeout {
		t.Fatalf("overflow job error = %+v, want timeout cause", got.Error)
	}
	if got.FinishedAt == nil {
		t.Error("overflow job missing finishedAt")
	}
}

func TestRequeueOrphansIgnoresNonQueuedJobs(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(8)
	defer q.Close()
	ctx := context.Background()

	running := seedQueuedJob(t, st, time.Now().Add(-time.Hour))
	started := time.Now()
	if _, err := st.Transition(ctx, running.ID, model.JobStatusQueued, model.JobStatusRunning, store.Update{StartedAt: &started}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := RequeueOrphans(ctx, st, q, zerolog.Nop())
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 0 {
		t.Fatalf("requeued = %d, want 0", n)
	}
	if q.Len() != 0 {
		t.Errorf("queue depth = %d, want 0", q.Len())
	}
}
