package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mirror/internal/domain"
)

const jobKeyPrefix = "reaction:job:"

// JobStore is a write-through Redis cache in front of another domain.JobStore.
// The wrapped store stays authoritative; cache failures are logged and ignored.
type JobStore struct {
	next   domain.JobStore
	rdb    redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

func NewJobStore(next domain.JobStore, rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *JobStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &JobStore{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

type cachedJob struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"sessionKey,omitempty"`
	Mode       string    `json:"mode"`
	Mood       string    `json:"mood"`
	Status     string    `json:"status"`
	VideoURL   string    `json:"videoUrl,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func encodeJob(j *domain.Job) ([]byte, error) {
	return json.Marshal(cachedJob{
		ID:         j.ID,
		SessionKey: j.SessionKey,
		Mode:       string(j.Mode),
		Mood:       string(j.Mood),
		Status:     string(j.Status),
		VideoURL:   j.VideoURL,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	})
}

func decodeJob(raw []byte) (*domain.Job, error) {
	var c cachedJob
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	status := domain.JobStatus(c.Status)
	if c.ID == "" || !status.Valid() {
		return nil, errors.New("cached job is malformed")
	}
	return &domain.Job{
		ID:         c.ID,
		SessionKey: c.SessionKey,
		Mode:       domain.Mode(c.Mode),
		Mood:       domain.Mood(c.Mood),
		Status:     status,
		VideoURL:   c.VideoURL,
		Error:      c.Error,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}, nil
}

func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if err := s.next.Create(ctx, job); err != nil {
		return err
	}
	s.refresh(ctx, job.ID)
	return nil
}

func (s *JobStore) Update(ctx context.Context, id string, u domain.JobUpdate) error {
	if err := s.next.Update(ctx, id, u); err != nil {
		return err
	}
	s.refresh(ctx, id)
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	switch {
	case err == nil:
		if job, derr := decodeJob(raw); derr == nil {
			return job, nil
		}
		s.logger.Warn().Str("job_id", id).Msg("dropping malformed cached job")
	case !errors.Is(err, redis.Nil):
		s.logger.Warn().Err(err).Str("job_id", id).Msg("job cache read failed")
	}

	job, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, job)
	return job, nil
}

// Invalidate drops cached entries for jobs changed outside this store, such
// as those failed by the retention sweeper.
func (s *JobStore) Invalidate(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Int("count", len(ids)).Msg("job cache invalidation failed")
	}
}

func (s *JobStore) refresh(ctx context.Context, id string) {
	job, err := s.next.Get(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("job cache refresh skipped")
		s.Invalidate(ctx, id)
		return
	}
	s.put(ctx, job)
}

// fill caches a job read on a miss. A write may land between the read and
// the fill, so only terminal jobs are cached here, and never over an existing
// entry.
func (s *JobStore) fill(ctx context.Context, job *domain.Job) {
	if !job.Status.Terminal() {
		return
	}
	raw, err := encodeJob(job)
	if err != nil {
		return
	}
	if err := s.rdb.SetNX(ctx, jobKey(job.ID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job cache fill failed")
	}
}

func (s *JobStore) put(ctx context.Context, job *domain.Job) {
	raw, err := encodeJob(job)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job cache write failed")
	}
}

var _ domain.JobStore = (*JobStore)(nil)
