// Package history keeps a time-limited log of how jobs ended. It is an outcome log for
// inspection only: pending jobs are never restored from it.
package history

import (
	"context"

	"github.com/theravoice/theravoice/internal/job"
)

// Record is a stored job outcome with the descriptor that produced it
type Record struct {
	Result job.Result `json:"result"`
	Job    *job.Job   `json:"job,omitempty"`
}

// Backend defines the interface for storing and retrieving job outcomes
type Backend interface {
	// StoreResult stores the outcome of j
	StoreResult(ctx context.Context, j *job.Job, result *job.Result) error

	// GetResult retrieves an outcome by job ID.
	// Returns nil and no error if the record doesn't exist or has expired.
	GetResult(ctx context.Context, jobID string) (*Record, error)

	// Close closes any connections used by the backend
	Close() error
}
