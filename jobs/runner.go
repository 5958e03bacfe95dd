package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/metrics"
)

// Handler executes one job. A returned error fails the attempt.
type Handler func(ctx context.Context, job *Job) error

// Runner defaults.
const (
	DefaultConcurrency  = 5
	DefaultPollInterval = time.Second
	DefaultLease        = 30 * time.Second
	DefaultDrainTimeout = 30 * time.Second
	DefaultStoreTimeout = 5 * time.Second

	minHeartbeat = 10 * time.Millisecond
)

// Runner leases jobs from a Queue and runs their handlers with bounded
// concurrency.
type Runner struct {
	queue        Queue
	handlers     map[string]Handler
	worker       string
	concurrency  int
	poll         time.Duration
	lease        time.Duration
	drain        time.Duration
	storeTimeout time.Duration
	backoff      func(attempts int) time.Duration
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics

	// OnFailed is called when a job has no attempts left.
	OnFailed func(job *Job, err error)

	wake  chan struct{}
	freed chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithLease sets the visibility timeout of leased jobs. Leases are renewed
// at a third of it while a handler runs.
func WithLease(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.lease = d
		}
	}
}

// WithDrainTimeout bounds how long Run waits for running jobs on shutdown.
func WithDrainTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.drain = d
	}
}

func WithStoreTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// WithBackoff replaces Backoff.
func WithBackoff(f func(attempts int) time.Duration) RunnerOption {
	return func(r *Runner) {
		r.backoff = f
	}
}

// WithClock replaces time.Now when computing retry times.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

func WithWorkerID(id string) RunnerOption {
	return func(r *Runner) {
		r.worker = id
	}
}

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

func NewRunner(q Queue, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:        q,
		handlers:     make(map[string]Handler),
		worker:       "worker-" + uuid.NewString(),
		concurrency:  DefaultConcurrency,
		poll:         DefaultPollInterval,
		lease:        DefaultLease,
		drain:        DefaultDrainTimeout,
		storeTimeout: DefaultStoreTimeout,
		backoff:      Backoff,
		now:          time.Now,
		logger:       slog.Default(),
		wake:         make(chan struct{}, 1),
		freed:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("worker", r.worker)
	return r
}

// Handle registers the handler of task. Only jobs of registered tasks are
// leased. Handle must not be called once Run started.
func (r *Runner) Handle(task string, h Handler) {
	r.handlers[task] = h
}

// Wake returns a channel that makes the runner poll immediately, for example
// when a job was inserted.
func (r *Runner) Wake() chan<- struct{} {
	return r.wake
}

func (r *Runner) WorkerID() string {
	return r.worker
}

func (r *Runner) tasks() []string {
	tasks := make([]string, 0, len(r.handlers))
	for task := range r.handlers {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	return tasks
}

// Run leases and executes jobs until ctx is done. It then stops leasing and
// waits up to the drain timeout for running jobs. Jobs still running after
// that are cancelled and released back to the queue.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.handlers) == 0 {
		return errors.New("no task handlers registered")
	}
	tasks := r.tasks()
	r.logger.Info("worker started", "tasks", tasks, "concurrency", r.concurrency)

	// Jobs outlive ctx until the drain timeout.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	slots := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for ctx.Err() == nil {
		free := r.concurrency - len(slots)
		if free > 0 {
			jobs, err := r.leaseJobs(ctx, tasks, free)
			if err != nil && ctx.Err() == nil {
				r.logger.Error("lease jobs", "error", err)
			}
			for _, j := range jobs {
				slots <- struct{}{}
				wg.Add(1)
				go func(j *Job) {
					defer wg.Done()
					r.execute(jobCtx, j)
					<-slots
					select {
					case r.freed <- struct{}{}:
					default:
					}
				}(j)
			}
			if len(jobs) == free {
				// More jobs may be ready; check again once a slot frees.
				select {
				case <-ctx.Done():
				case <-r.freed:
				case <-ticker.C:
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		case <-r.wake:
		case <-r.freed:
		}
	}

	r.logger.Info("worker draining", "timeout", r.drain)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.drain):
		r.logger.Warn("drain timeout, releasing running jobs")
		cancelJobs()
		<-done
	}
	r.logger.Info("worker stopped")
	return nil
}

func (r *Runner) leaseJobs(ctx context.Context, tasks []string, n int) ([]*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	return r.queue.Lease(ctx, r.worker, tasks, n, r.lease)
}

// store runs a queue call that must finish even while draining.
func (r *Runner) store(ctx context.Context, f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
	defer cancel()
	return f(ctx)
}

func (r *Runner) execute(ctx context.Context, j *Job) {
	logger := r.logger.With("job_id", j.ID, "task", j.Task, "attempt", j.Attempts)
	r.metrics.JobStarted()
	logger.Debug("job started")

	hctx, cancel := context.WithCancel(ctx)
	heartbeat := make(chan struct{})
	go func() {
		defer close(heartbeat)
		r.heartbeat(hctx, cancel, j, logger)
	}()
	err := r.call(hctx, j)
	cancel()
	<-heartbeat

	outcome := r.settle(ctx, j, err, logger)
	r.metrics.JobFinished(j.Task, outcome)
}

// heartbeat renews the lease of j until ctx is done. Losing the lease
// cancels the handler.
func (r *Runner) heartbeat(ctx context.Context, cancel context.CancelFunc, j *Job, logger *slog.Logger) {
	ticker := time.NewTicker(max(r.lease/3, minHeartbeat))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := r.store(ctx, func(ctx context.Context) error {
			return r.queue.Extend(ctx, j.ID, r.worker, r.lease)
		})
		if errors.Is(err, ErrLeaseLost) {
			logger.Warn("job lease lost, cancelling")
			cancel()
			return
		}
		if err != nil {
			logger.Warn("extend job lease", "error", err)
		}
	}
}

func (r *Runner) call(ctx context.Context, j *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return r.handlers[j.Task](ctx, j)
}

// settle records the outcome of an attempt and returns its metric label.
func (r *Runner) settle(ctx context.Context, j *Job, err error, logger *slog.Logger) string {
	if err == nil {
		if err := r.store(ctx, func(ctx context.Context) error { return r.queue.Complete(ctx, j.ID, r.worker) }); err != nil {
			logger.Error("complete job", "error", err)
			return "lost"
		}
		logger.Info("job completed")
		return "completed"
	}

	if ctx.Err() != nil {
		if rerr := r.store(ctx, func(ctx context.Context) error { return r.queue.Release(ctx, j.ID, r.worker) }); rerr != nil {
			logger.Error("release job", "error", rerr)
			return "lost"
		}
		if j.Attempts >= j.MaxAttempts {
			logger.Warn("job interrupted on final attempt, failed", "error", err)
			return "failed"
		}
		logger.Warn("job interrupted, released", "error", err)
		return "released"
	}

	jerr := &jerrors.JobExecutionError{JobID: j.ID, Task: j.Task, Attempt: j.Attempts, Err: err}
	retryAt := r.now().Add(r.backoff(j.Attempts))
	reason := err.Error()
	var status Status
	serr := r.store(ctx, func(ctx context.Context) error {
		var ferr error
		status, ferr = r.queue.Fail(ctx, j.ID, r.worker, retryAt, reason)
		return ferr
	})
	if serr != nil {
		logger.Error("record job failure", "error", serr, "job_error", err)
		return "lost"
	}
	if status == StatusFailed {
		logger.Error("job failed permanently", "error", jerr)
		if r.OnFailed != nil {
			j.Status = StatusFailed
			j.LastError = reason
			r.OnFailed(j, jerr)
		}
		return "failed"
	}
	logger.Warn("job failed, retrying", "error", err, "run_at", retryAt)
	return "retry"
}
