// Package scheduler holds pending one-shot jobs in memory and fires each exactly once
// when its time arrives.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/theravoice/theravoice/internal/errors"
	"github.com/theravoice/theravoice/internal/job"
	"github.com/theravoice/theravoice/internal/logger"
)

// DefaultPollInterval is the longest the firing loop sleeps without re-reading the clock
const DefaultPollInterval = time.Second

// Options configures a Scheduler
type Options struct {
	// PollInterval caps each sleep of the firing loop. Defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Logger receives lifecycle and failure logs. Defaults to logger.Default().
	Logger logger.Logger
	// Clock overrides time.Now
	Clock func() time.Time
	// Observers are notified of scheduled, cancelled and finished jobs
	Observers []Observer
}

// Scheduler is the in-process authority over pending jobs. Schedule, Cancel, Get and
// Pending are safe for concurrent use while the firing loop runs.
type Scheduler struct {
	registry     *Registry
	pollInterval time.Duration
	now          func() time.Time
	log          logger.Logger
	observers    []Observer

	mu      sync.Mutex
	queue   timerQueue
	pending map[string]*entry
	seq     uint64

	wake chan struct{}

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	handlers  *sync.WaitGroup
	inFlight  atomic.Int64
}

// New creates a scheduler dispatching fired jobs through registry
func New(registry *Registry, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Scheduler{
		registry:     registry,
		pollInterval: opts.PollInterval,
		now:          opts.Clock,
		log:          opts.Logger.WithComponent(logger.ComponentScheduler),
		observers:    opts.Observers,
		pending:      make(map[string]*entry),
		wake:         make(chan struct{}, 1),
	}
}

// Schedule registers j as a new pending job and returns its freshly generated id.
// It never blocks on execution. A FireAt in the past is accepted and fires on the next
// loop iteration; rejecting past times is the caller's job.
func (s *Scheduler) Schedule(ctx context.Context, j *job.Job) (string, error) {
	if j == nil {
		return "", fmt.Errorf("job cannot be nil")
	}
	if _, ok := s.registry.Get(j.Kind); !ok {
		return "", fmt.Errorf("no handler registered for job kind %q", j.Kind)
	}
	if j.FireAt.IsZero() {
		return "", apperrors.NewValidationError("fire_at", "fire time is required")
	}

	scheduled := j.Clone()
	scheduled.ID = uuid.NewString()
	scheduled.Status = job.StatusPending
	scheduled.CreatedAt = s.now()
	scheduled.UpdatedAt = scheduled.CreatedAt

	s.mu.Lock()
	s.seq++
	e := &entry{job: scheduled, seq: s.seq}
	heap.Push(&s.queue, e)
	s.pending[scheduled.ID] = e
	earliest := s.queue.peek() == e
	snapshot := scheduled.Clone()
	s.mu.Unlock()

	if earliest {
		s.notify()
	}

	s.log.InfoContext(ctx, "Job scheduled",
		"job_id", snapshot.ID,
		"kind", snapshot.Kind,
		"fire_at", snapshot.FireAt.Format(time.RFC3339))

	for _, o := range s.observers {
		o.JobScheduled(ctx, snapshot)
	}

	return snapshot.ID, nil
}

// Cancel removes a pending job before it fires. It reports whether a job was removed;
// ids that already fired or were never issued return false.
func (s *Scheduler) Cancel(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		s.log.DebugContext(ctx, "Cancel ignored", "job_id", id, "error", apperrors.ErrUnknownJob)
		return false
	}
	heap.Remove(&s.queue, e.index)
	delete(s.pending, id)
	e.job.UpdateStatus(job.StatusRemoved, s.now())
	snapshot := e.job.Clone()
	s.mu.Unlock()

	s.notify()

	s.log.InfoContext(ctx, "Job cancelled", "job_id", id, "kind", snapshot.Kind)

	result := &job.Result{
		JobID:      snapshot.ID,
		Kind:       snapshot.Kind,
		Outcome:    job.OutcomeCancelled,
		FireAt:     snapshot.FireAt,
		FinishedAt: snapshot.UpdatedAt,
	}
	for _, o := range s.observers {
		o.JobCancelled(ctx, snapshot, result)
	}

	return true
}

// Get returns a copy of a pending job
func (s *Scheduler) Get(id string) (*job.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	return e.job.Clone(), true
}

// Pending returns the number of jobs waiting to fire
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start launches the firing loop. It returns an error if the loop is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		return fmt.Errorf("scheduler already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.handlers = &sync.WaitGroup{}

	s.log.Info("Scheduler started",
		"poll_interval", s.pollInterval,
		"handlers", s.registry.Count())

	go s.run(loopCtx, s.done, s.handlers)
	return nil
}

// Stop ends the firing loop and waits for every running handler to finish.
// Jobs still pending are dropped with the process.
func (s *Scheduler) Stop() {
	_ = s.Shutdown(context.Background())
}

// Shutdown ends the firing loop and waits for running handlers until ctx is done.
// Handlers still running at that point are abandoned and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done == nil {
		return nil
	}
	s.cancel()
	<-s.done
	handlers := s.handlers
	s.cancel = nil
	s.done = nil
	s.handlers = nil

	finished := make(chan struct{})
	go func() {
		handlers.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn("Scheduler stopped with handlers still running",
			"in_flight", s.InFlight(),
			"error", err)
	}

	if n := s.Pending(); n > 0 {
		s.log.Warn("Scheduler stopped with pending jobs; they will not fire", "pending", n)
	} else {
		s.log.Info("Scheduler stopped")
	}
	return err
}

// InFlight returns the number of handlers currently running
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// IsRunning reports whether the firing loop is active
func (s *Scheduler) IsRunning() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.done != nil
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run sleeps until the earliest job is due (never longer than the poll interval),
// then dispatches everything due.
func (s *Scheduler) run(ctx context.Context, done chan struct{}, handlers *sync.WaitGroup) {
	defer close(done)

	// Handlers run to completion even when the loop is asked to stop
	fireCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}

		// Jobs taken here are no longer pending, so each must be fired even if a stop
		// was requested meanwhile
		for _, j := range s.takeDue() {
			s.dispatch(fireCtx, j, handlers)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextWait())
	}
}

// nextWait is the time until the earliest pending job, capped at the poll interval
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	next := s.queue.peek()
	s.mu.Unlock()

	if next == nil {
		return s.pollInterval
	}
	wait := next.job.FireAt.Sub(s.now())
	if wait < 0 {
		return 0
	}
	if wait > s.pollInterval {
		return s.pollInterval
	}
	return wait
}

// takeDue pops every job whose fire time has been reached, in (FireAt, registration)
// order, and marks them fired. They are no longer pending once this returns.
func (s *Scheduler) takeDue() []*job.Job {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*job.Job
	for {
		next := s.queue.peek()
		if next == nil || next.job.FireAt.After(now) {
			break
		}
		heap.Pop(&s.queue)
		delete(s.pending, next.job.ID)
		next.job.UpdateStatus(job.StatusFired, now)
		due = append(due, next.job)
	}
	return due
}

// dispatch starts j's handler on its own goroutine. Handlers start in queue order and
// run concurrently.
func (s *Scheduler) dispatch(ctx context.Context, j *job.Job, handlers *sync.WaitGroup) {
	ctx = context.WithValue(ctx, logger.JobIDKey, j.ID)

	result := &job.Result{
		JobID:   j.ID,
		Kind:    j.Kind,
		FireAt:  j.FireAt,
		FiredAt: s.now(),
	}

	s.log.WithSource(logger.LogSourceJob).InfoContext(ctx, "Job fired",
		"kind", j.Kind,
		"drift", result.Drift().String())

	handlers.Add(1)
	s.inFlight.Add(1)
	go func() {
		defer handlers.Done()
		defer s.inFlight.Add(-1)
		s.fire(ctx, j, result)
	}()
}

// fire invokes the job's handler outside the lock. Failures are terminal: they are
// logged and reported to observers, never retried.
func (s *Scheduler) fire(ctx context.Context, j *job.Job, result *job.Result) {
	log := s.log.WithSource(logger.LogSourceJob)

	err := s.invoke(ctx, j)

	result.FinishedAt = s.now()
	result.Duration = result.FinishedAt.Sub(result.FiredAt)
	j.UpdateStatus(job.StatusRemoved, result.FinishedAt)

	if err != nil {
		result.Outcome = job.OutcomeFailed
		result.Error = err.Error()

		if perr, ok := err.(*apperrors.PanicError); ok {
			log.ErrorContext(ctx, "Job handler panicked", "kind", j.Kind, "error", apperrors.FormatPanicForLog(perr))
		}
		log.ErrorContext(ctx, "Job failed",
			"kind", j.Kind,
			"error", err,
			"duration", result.Duration.String())
	} else {
		result.Outcome = job.OutcomeCompleted
		log.InfoContext(ctx, "Job completed",
			"kind", j.Kind,
			"duration", result.Duration.String())
	}

	for _, o := range s.observers {
		o.JobFinished(ctx, j.Clone(), result)
	}
}

// invoke runs the handler, converting a panic into an error
func (s *Scheduler) invoke(ctx context.Context, j *job.Job) (err error) {
	handler, ok := s.registry.Get(j.Kind)
	if !ok {
		return fmt.Errorf("no handler registered for job kind %q", j.Kind)
	}

	defer func() {
		if perr := apperrors.RecoverPanic(recover()); perr != nil {
			err = perr
		}
	}()

	return handler(ctx, j)
}
