// Package jobs runs background tasks from a durable queue. Jobs are leased
// rather than locked: a lease carries a visibility timeout, so the jobs of a
// worker that dies become eligible again once their lease expires.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Status is the state of a job in the queue.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLocked    Status = "locked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultMaxAttempts is used when a job is added without a limit.
const DefaultMaxAttempts = 25

// ErrLeaseLost is returned when a worker reports on a job it no longer
// holds the lease of.
var ErrLeaseLost = errors.New("job lease lost")

// errInterrupted is the last error of a job released on its final attempt.
const errInterrupted = "interrupted on final attempt"

// ErrNotFound is returned by Get for unknown jobs.
var ErrNotFound = errors.New("job not found")

// Job is one queued task. The runner never changes its payload.
type Job struct {
	ID          string
	Task        string
	Payload     json.RawMessage
	RunAt       time.Time
	Attempts    int
	MaxAttempts int
	Status      Status
	LastError   string
	LockedBy    string
	LockedUntil time.Time
}

// NewJob describes a job to add. A zero RunAt means now.
type NewJob struct {
	Task        string
	Payload     json.RawMessage
	RunAt       time.Time
	MaxAttempts int
}

// Queue is the durable store of jobs. Every method is atomic per job.
type Queue interface {
	Add(ctx context.Context, job NewJob) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)

	// Lease hands out up to n ready jobs of the given tasks to worker and
	// counts an attempt for each. Ready jobs are pending ones that are due
	// and locked ones whose lease expired. Expired jobs without attempts
	// left are marked failed instead.
	Lease(ctx context.Context, worker string, tasks []string, n int, lease time.Duration) ([]*Job, error)
	// Extend renews the lease of a running job.
	Extend(ctx context.Context, id, worker string, lease time.Duration) error
	Complete(ctx context.Context, id, worker string) error
	// Fail records a failed attempt. The job runs again at retryAt unless it
	// has no attempts left, in which case it is marked failed. The resulting
	// status is returned.
	Fail(ctx context.Context, id, worker string, retryAt time.Time, reason string) (Status, error)
	// Release returns a leased job to pending without waiting for its lease
	// to expire. A job on its final attempt is marked failed instead.
	Release(ctx context.Context, id, worker string) error
}

// Backoff returns the delay before retrying a job that failed its attempts
// so far: e^min(attempts,10) seconds.
func Backoff(attempts int) time.Duration {
	n := math.Min(float64(attempts), 10)
	return time.Duration(math.Exp(n) * float64(time.Second))
}

func contains(tasks []string, task string) bool {
	for _, t := range tasks {
		if t == task {
			return true
		}
	}
	return false
}
