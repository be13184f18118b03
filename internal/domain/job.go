package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus enumerates reaction job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Valid reports whether s is one of the four known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one state to another.
// Only the forward path queued -> running -> {succeeded | failed} is allowed.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusSucceeded || to == JobStatusFailed
	}
	return false
}

// Mode selects which synthesis pipeline a job runs.
type Mode string

const (
	// ModeSeedance renders the frame and line straight into a clip.
	ModeSeedance Mode = "seedance"
	// ModeAvatar synthesizes speech first, then a talking clip from frame and audio.
	ModeAvatar Mode = "avatar"
)

// ParseMode maps a client supplied mode onto a known pipeline. Unknown or empty
// values select ModeSeedance.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeAvatar, "talking", "speech":
		return ModeAvatar
	default:
		return ModeSeedance
	}
}

// Job is one asynchronous reaction video generation.
type Job struct {
	ID         string
	SessionKey string
	Mode       Mode
	Mood       Mood
	Status     JobStatus
	VideoURL   string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobUpdate is the field set written atomically on every transition.
type JobUpdate struct {
	Status   JobStatus
	VideoURL string
	Error    string
}

func Running() JobUpdate { return JobUpdate{Status: JobStatusRunning} }

func Succeeded(videoURL string) JobUpdate {
	return JobUpdate{Status: JobStatusSucceeded, VideoURL: videoURL}
}

func Failed(message string) JobUpdate {
	return JobUpdate{Status: JobStatusFailed, Error: message}
}

// Validate enforces that a result is present iff succeeded and an error iff failed.
func (u JobUpdate) Validate() error {
	switch u.Status {
	case JobStatusRunning:
		if u.VideoURL != "" || u.Error != "" {
			return fmt.Errorf("%w: running carries no result or error", ErrInvalidTransition)
		}
	case JobStatusSucceeded:
		if strings.TrimSpace(u.VideoURL) == "" || u.Error != "" {
			return fmt.Errorf("%w: succeeded requires a video url and no error", ErrInvalidTransition)
		}
	case JobStatusFailed:
		if strings.TrimSpace(u.Error) == "" || u.VideoURL != "" {
			return fmt.Errorf("%w: failed requires an error and no video url", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: cannot update to %q", ErrInvalidTransition, u.Status)
	}
	return nil
}

// Apply moves j according to u. Re-applying the state j is already in is a
// no-op (changed=false) so retried writes stay idempotent; a terminal state
// re-applied with a different payload is rejected.
func (j *Job) Apply(u JobUpdate, now time.Time) (changed bool, err error) {
	if err := u.Validate(); err != nil {
		return false, err
	}
	if j.Status == u.Status {
		if j.Status.Terminal() && (j.VideoURL != u.VideoURL || j.Error != u.Error) {
			return false, fmt.Errorf("%w: job %s already %s", ErrInvalidTransition, j.ID, j.Status)
		}
		return false, nil
	}
	if !CanTransition(j.Status, u.Status) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, u.Status)
	}
	j.Status = u.Status
	j.VideoURL = u.VideoURL
	j.Error = u.Error
	j.UpdatedAt = now
	return true, nil
}

// Matches reports whether j already reflects u.
func (j *Job) Matches(u JobUpdate) bool {
	return j.Status == u.Status && j.VideoURL == u.VideoURL && j.Error == u.Error
}
