package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/audioscribe/api/internal/model"
)

const jobIndexKey = "jobs:index"

// casScript swaps status and document only if the stored status still equals
// the expected one, so exactly one writer wins a race between a worker and a
// concurrent cancellation.
var casScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == ARGV[1] then
	redis.call('HSET', KEYS[1], 'status', ARGV[2], 'doc', ARGV[3])
	return 1
end
return 0
`)

// RedisStore is the durable Store backend. Each job lives in a hash holding
// its status (the CAS guard) and the full JSON document.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func jobKey(id string) string {
	return "job:" + id
}

func (s *RedisStore) Create(ctx context.Context, job *model.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	key := jobKey(job.ID)
	set, err := s.client.HSetNX(ctx, key, "status", string(job.Status)).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !set {
		return ErrDuplicate
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "doc", doc)
	pipe.SAdd(ctx, jobIndexKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	doc, err := s.client.HGet(ctx, jobKey(id), "doc").Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) Transition(ctx context.Context, id string, from, to model.JobStatus, upd Update) (*model.Job, error) {
	if !model.ValidTransition(from, to) {
		return nil, ErrConflict
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != from {
		return nil, ErrConflict
	}

	apply(job, to, upd)
	doc, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	// The script guards against writers that read the same snapshot: only
	// the one observing the expected status commits its document.
	won, err := casScript.Run(ctx, s.client, []string{jobKey(id)}, string(from), string(to), doc).Int()
	if err != nil {
		return nil, fmt.Errorf("transition job: %w", err)
	}
	if won == 0 {
		return nil, ErrConflict
	}
	return job, nil
}

func (s *RedisStore) List(ctx context.Context, f Filter) ([]*model.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// Expired behind our back; drop the stale index entry.
			s.client.SRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.client.SRem(ctx, jobIndexKey, id)
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Evict(ctx context.Context, olderThan time.Time) (int, error) {
	jobs, err := s.List(ctx, Filter{})
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, job := range jobs {
		if job.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(olderThan) {
			if err := s.Delete(ctx, job.ID); err == nil {
				evicted++
			}
		}
	}
	return evicted, nil
}
