package history

import (
	"context"
	"time"

	"github.com/theravoice/theravoice/internal/job"
	"github.com/theravoice/theravoice/internal/logger"
	"github.com/theravoice/theravoice/internal/scheduler"
)

var _ scheduler.Observer = (*Observer)(nil)

// Observer records terminal job outcomes into a Backend. Storage failures are logged and
// never affect the job itself.
type Observer struct {
	backend Backend
	timeout time.Duration
	log     logger.Logger
}

// NewObserver creates an observer writing to backend
func NewObserver(backend Backend, log logger.Logger) *Observer {
	if log == nil {
		log = logger.Default()
	}
	return &Observer{
		backend: backend,
		timeout: 2 * time.Second,
		log:     log.WithComponent(logger.ComponentHistory),
	}
}

// JobScheduled is a no-op; only terminal outcomes are recorded
func (o *Observer) JobScheduled(context.Context, *job.Job) {}

// JobCancelled records a cancellation
func (o *Observer) JobCancelled(ctx context.Context, j *job.Job, result *job.Result) {
	o.store(ctx, j, result)
}

// JobFinished records a completion or failure
func (o *Observer) JobFinished(ctx context.Context, j *job.Job, result *job.Result) {
	o.store(ctx, j, result)
}

func (o *Observer) store(ctx context.Context, j *job.Job, result *job.Result) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	if err := o.backend.StoreResult(storeCtx, j, result); err != nil {
		o.log.WarnContext(ctx, "Failed to record job outcome",
			"job_id", result.JobID,
			"outcome", result.Outcome,
			"error", err)
	}
}
