package job

import (
	"time"
)

// Outcome is the terminal result of a job
type Outcome string

const (
	// OutcomeCompleted means the handler returned without error
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the handler returned an error or panicked. Failures are not retried.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the job was removed before it fired
	OutcomeCancelled Outcome = "cancelled"
)

// Result records how a job ended
type Result struct {
	// JobID is the unique identifier of the job
	JobID string `json:"job_id"`

	// Kind is the job's kind
	Kind Kind `json:"kind"`

	// Outcome is how the job ended
	Outcome Outcome `json:"outcome"`

	// Error contains the error message if the job failed
	Error string `json:"error,omitempty"`

	// FireAt is when the job was due
	FireAt time.Time `json:"fire_at"`

	// FiredAt is when the scheduler actually fired it (zero when cancelled)
	FiredAt time.Time `json:"fired_at,omitempty"`

	// FinishedAt is when the job reached its terminal state
	FinishedAt time.Time `json:"finished_at"`

	// Duration is how long the handler ran
	Duration time.Duration `json:"duration"`
}

// IsSuccess returns true if the job completed successfully
func (r *Result) IsSuccess() bool {
	return r.Outcome == OutcomeCompleted
}

// IsFailed returns true if the job failed
func (r *Result) IsFailed() bool {
	return r.Outcome == OutcomeFailed
}

// Drift is how late the job fired relative to its due time
func (r *Result) Drift() time.Duration {
	if r.FiredAt.IsZero() {
		return 0
	}
	return r.FiredAt.Sub(r.FireAt)
}
