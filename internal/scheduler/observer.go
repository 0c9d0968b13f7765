package scheduler

import (
	"context"

	"github.com/theravoice/theravoice/internal/job"
)

// Observer is notified of job lifecycle events. Calls are made outside the scheduler's
// lock and JobFinished may be called concurrently for different jobs. The jobs passed in
// are copies.
type Observer interface {
	JobScheduled(ctx context.Context, j *job.Job)
	JobCancelled(ctx context.Context, j *job.Job, result *job.Result)
	JobFinished(ctx context.Context, j *job.Job, result *job.Result)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnScheduled func(ctx context.Context, j *job.Job)
	OnCancelled func(ctx context.Context, j *job.Job, result *job.Result)
	OnFinished  func(ctx context.Context, j *job.Job, result *job.Result)
}

func (f ObserverFuncs) JobScheduled(ctx context.Context, j *job.Job) {
	if f.OnScheduled != nil {
		f.OnScheduled(ctx, j)
	}
}

func (f ObserverFuncs) JobCancelled(ctx context.Context, j *job.Job, result *job.Result) {
	if f.OnCancelled != nil {
		f.OnCancelled(ctx, j, result)
	}
}

func (f ObserverFuncs) JobFinished(ctx context.Context, j *job.Job, result *job.Result) {
	if f.OnFinished != nil {
		f.OnFinished(ctx, j, result)
	}
}
