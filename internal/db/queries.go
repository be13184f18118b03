package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mirror/internal/sqlinline"
)

type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type CreateReactionJobParams struct {
	ID         string
	SessionKey string
	Mode       string
	Mood       string
}

func (q *Queries) CreateReactionJob(ctx context.Context, arg CreateReactionJobParams) error {
	_, err := q.db.Exec(ctx, sqlinline.QInsertReactionJob, arg.ID, arg.SessionKey, arg.Mode, arg.Mood)
	return err
}

// The transition statements report how many rows moved; zero means the guard
// rejected the write or the job does not exist.

func (q *Queries) MarkReactionJobRunning(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, sqlinline.QMarkReactionJobRunning, id)
	return tag.RowsAffected(), err
}

func (q *Queries) CompleteReactionJob(ctx context.Context, id, videoURL string) (int64, error) {
	tag, err := q.db.Exec(ctx, sqlinline.QCompleteReactionJob, id, videoURL)
	return tag.RowsAffected(), err
}

func (q *Queries) FailReactionJob(ctx context.Context, id, message string) (int64, error) {
	tag, err := q.db.Exec(ctx, sqlinline.QFailReactionJob, id, message)
	return tag.RowsAffected(), err
}

type ReactionJob struct {
	ID         string
	SessionKey string
	Mode       string
	Mood       string
	Status     string
	VideoURL   string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (q *Queries) GetReactionJob(ctx context.Context, id string) (ReactionJob, error) {
	row := q.db.QueryRow(ctx, sqlinline.QSelectReactionJob, id)
	var job ReactionJob
	err := row.Scan(
		&job.ID,
		&job.SessionKey,
		&job.Mode,
		&job.Mood,
		&job.Status,
		&job.VideoURL,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	return job, err
}

func (q *Queries) DeleteExpiredReactionJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, sqlinline.QDeleteExpiredReactionJobs, cutoff)
	return tag.RowsAffected(), err
}

func (q *Queries) PromoteStaleQueuedJobs(ctx context.Context, cutoff time.Time) ([]string, error) {
	return q.collectIDs(ctx, sqlinline.QPromoteStaleQueuedJobs, cutoff)
}

func (q *Queries) FailStaleRunningJobs(ctx context.Context, cutoff time.Time, message string) ([]string, error) {
	return q.collectIDs(ctx, sqlinline.QFailStaleRunningJobs, cutoff, message)
}

func (q *Queries) collectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

type ReactionJobStats struct {
	Total     int64
	Queued    int64
	Running   int64
	Succeeded int64
	Failed    int64
	Last24h   int64
}

func (q *Queries) ReactionJobStats(ctx context.Context) (ReactionJobStats, error) {
	row := q.db.QueryRow(ctx, sqlinline.QReactionJobStats)
	var s ReactionJobStats
	err := row.Scan(&s.Total, &s.Queued, &s.Running, &s.Succeeded, &s.Failed, &s.Last24h)
	return s, err
}
