package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/store"
)

func TestSweeperReclaimsStalledRunningJob(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	job := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		Source:    model.Source{Type: model.SourceTypeURL, URL: "https://example.com/a.mp3"},
		CreatedAt: time.Now().Add(-time.Hour),
	}
	if err := st.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Simulate an executor that claimed the job and then died.
	started := time.Now().Add(-30 * time.Minute)
	if _, err := st.Transition(ctx, job.ID, model.JobStatusQueued, model.JobStatusRunning, store.Update{StartedAt: &started}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	s := NewSweeper(SweeperConfig{
		Store:      st,
		JobTimeout: time.Minute,
		Retention:  24 * time.Hour,
	}, zerolog.Nop())
	s.Sweep(ctx)

	got, err := st.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || got.Error.Code != model.FailureTimeout {
		t.Fatalf("error = %+v, want timeout cause", got.Error)
	}
	if got.FinishedAt == nil {
		t.Error("finishedAt not set by reclaim")
	}
}

func TestSweeperLeavesHealthyRunningJobAlone(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	job := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		CreatedAt: time.Now(),
	}
	if err := st.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	started := time.Now()
	if _, err := st.Transition(ctx, job.ID, model.JobStatusQueued, model.JobStatusRunning, store.Update{StartedAt: &started}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	s := NewSweeper(SweeperConfig{
		Store:      st,
		JobTimeout: time.Minute,
	}, zerolog.Nop())
	s.Sweep(ctx)

	got, _ := st.Get(ctx, job.ID)
	if got.Status != model.JobStatusRunning {
		t.Fatalf("status = %s, want running", got.Status)
	}
}

func TestSweeperEvictsExpiredTerminalJobs(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	old := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusSucceeded,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	finished := time.Now().Add(-25 * time.Hour)
	old.FinishedAt = &finished
	if err := st.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}

	s := NewSweeper(SweeperConfig{
		Store:     st,
		Retention: 24 * time.Hour,
	}, zerolog.Nop())
	s.Sweep(ctx)

	if _, err := st.Get(ctx, old.ID); err != store.ErrNotFound {
		t.Fatalf("expired job still present (err = %v)", err)
	}
}
