package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is how a poll loop ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCanceled  Outcome = "canceled"
)

// DefaultFailureMessage is shown when a failed job carries no error text.
const DefaultFailureMessage = "could not generate reaction clip"

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 30
)

// StatusSource is the read side of the job status endpoint.
type StatusSource interface {
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)
}

// PollResult is the terminal observation of a poll loop.
type PollResult struct {
	Outcome  Outcome
	VideoURL string
	Error    string
	Attempts int
}

// Poller waits Interval before each status query and gives up after
// MaxAttempts queries. Failed queries use up an attempt and nothing else.
type Poller struct {
	Source      StatusSource
	Interval    time.Duration
	MaxAttempts int
	Logger      zerolog.Logger
}

func NewPoller(source StatusSource, logger zerolog.Logger) *Poller {
	return &Poller{Source: source, Interval: DefaultPollInterval, MaxAttempts: DefaultMaxAttempts, Logger: logger}
}

// Poll runs until the job is terminal, the attempt ceiling is reached or ctx
// ends. onUpdate, when set, sees every successful status read. The returned
// error is non-nil only for OutcomeCanceled.
func (p *Poller) Poll(ctx context.Context, jobID string, onUpdate func(JobStatus)) (PollResult, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	log := p.Logger.With().Str("job_id", jobID).Logger()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return PollResult{Outcome: OutcomeCanceled, Attempts: attempt - 1}, ctx.Err()
		case <-timer.C:
		}

		st, err := p.Source.JobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return PollResult{Outcome: OutcomeCanceled, Attempts: attempt}, ctx.Err()
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("job status query failed")
			continue
		}
		if onUpdate != nil {
			onUpdate(st)
		}
		switch st.Status {
		case StatusSucceeded:
			return PollResult{Outcome: OutcomeSucceeded, VideoURL: st.VideoURL, Attempts: attempt}, nil
		case StatusFailed:
			msg := st.Error
			if msg == "" {
				msg = DefaultFailureMessage
			}
			return PollResult{Outcome: OutcomeFailed, Error: msg, Attempts: attempt}, nil
		}
	}
	log.Info().Int("attempts", maxAttempts).Msg("job polling timed out")
	return PollResult{Outcome: OutcomeTimedOut, Attempts: maxAttempts}, nil
}
