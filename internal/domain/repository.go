package domain

import "context"

// JobStore is the single source of truth for reaction jobs. The processor is
// the only writer for a given id; status queries are readers.
type JobStore interface {
	// Create records a new job in the queued state. Creating the same id twice is a no-op.
	Create(ctx context.Context, job *Job) error
	// Update applies one transition. Repeating an identical update is a no-op.
	Update(ctx context.Context, id string, u JobUpdate) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Job, error)
}
