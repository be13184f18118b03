package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mirror/internal/db"
	"mirror/internal/domain"
	"mirror/internal/infra"
)

// JobRepositoryPG implements domain.JobStore on the reaction_jobs table.
type JobRepositoryPG struct {
	q *db.Queries
}

// NewJobRepository creates a job repository over any pgx-compatible executor,
// normally an infra.SQLRunner.
func NewJobRepository(exec db.DBTX) *JobRepositoryPG {
	return &JobRepositoryPG{q: db.New(exec)}
}

// Create inserts a queued job. Re-inserting an existing id is ignored.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return domain.Invalid("jobId", "required")
	}
	if job.Status != "" && job.Status != domain.JobStatusQueued {
		return fmt.Errorf("%w: jobs are created queued, got %s", domain.ErrInvalidTransition, job.Status)
	}
	err := r.q.CreateReactionJob(ctx, db.CreateReactionJobParams{
		ID:         job.ID,
		SessionKey: job.SessionKey,
		Mode:       string(job.Mode),
		Mood:       string(job.Mood),
	})
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	job.Status = domain.JobStatusQueued
	return nil
}

// Update writes one transition with a single guarded statement. When the guard
// matches nothing the row is re-read: an identical state is an idempotent
// success, anything else is an invalid transition.
func (r *JobRepositoryPG) Update(ctx context.Context, id string, u domain.JobUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	var (
		moved int64
		err   error
	)
	switch u.Status {
	case domain.JobStatusRunning:
		moved, err = r.q.MarkReactionJobRunning(ctx, id)
	case domain.JobStatusSucceeded:
		moved, err = r.q.CompleteReactionJob(ctx, id, u.VideoURL)
	case domain.JobStatusFailed:
		moved, err = r.q.FailReactionJob(ctx, id, u.Error)
	}
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", id, u.Status, err)
	}
	if moved > 0 {
		return nil
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Matches(u) {
		return nil
	}
	return fmt.Errorf("%w: job %s is %s, cannot become %s", domain.ErrInvalidTransition, id, current.Status, u.Status)
}

// Get fetches a job. Ids that are not UUIDs cannot exist and report ErrNotFound
// without a round trip.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	row, err := r.q.GetReactionJob(ctx, id)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return toDomain(row), nil
}

// SweepResult summarizes one retention pass.
type SweepResult struct {
	Deleted int64
	Failed  []string
}

// Sweep deletes finished jobs created before retainUntil and fails jobs whose
// last transition is older than staleBefore. Expired jobs are deleted first, so
// a job failed by this pass stays readable as failed until the next one. Stale
// queued jobs are moved to running, keeping their updated_at, so the stored
// path never skips a state.
func (r *JobRepositoryPG) Sweep(ctx context.Context, retainUntil, staleBefore time.Time, reason string) (SweepResult, error) {
	var res SweepResult
	deleted, err := r.q.DeleteExpiredReactionJobs(ctx, retainUntil)
	if err != nil {
		return res, fmt.Errorf("delete expired jobs: %w", err)
	}
	res.Deleted = deleted
	if _, err := r.q.PromoteStaleQueuedJobs(ctx, staleBefore); err != nil {
		return res, fmt.Errorf("promote stale jobs: %w", err)
	}
	failed, err := r.q.FailStaleRunningJobs(ctx, staleBefore, reason)
	if err != nil {
		return res, fmt.Errorf("fail stale jobs: %w", err)
	}
	res.Failed = failed
	return res, nil
}

// Stats returns job counts by status.
func (r *JobRepositoryPG) Stats(ctx context.Context) (db.ReactionJobStats, error) {
	return r.q.ReactionJobStats(ctx)
}

func toDomain(row db.ReactionJob) *domain.Job {
	return &domain.Job{
		ID:         row.ID,
		SessionKey: row.SessionKey,
		Mode:       domain.Mode(row.Mode),
		Mood:       domain.Mood(row.Mood),
		Status:     domain.JobStatus(row.Status),
		VideoURL:   row.VideoURL,
		Error:      row.Error,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
