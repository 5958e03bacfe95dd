package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemQueue is an in-process Queue. It has the same lease semantics as
// PgQueue and is used for development and tests.
type MemQueue struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemQueue returns an empty queue using clock for lease expiry. A nil
// clock uses time.Now.
func NewMemQueue(clock func() time.Time) *MemQueue {
	if clock == nil {
		clock = time.Now
	}
	return &MemQueue{jobs: make(map[string]*Job), now: clock}
}

func (q *MemQueue) Add(ctx context.Context, nj NewJob) (*Job, error) {
	if nj.Task == "" {
		return nil, fmt.Errorf("add job: task is empty")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	j := &Job{
		ID:          uuid.NewString(),
		Task:        nj.Task,
		Payload:     append([]byte(nil), nj.Payload...),
		RunAt:       nj.RunAt,
		MaxAttempts: nj.MaxAttempts,
		Status:      StatusPending,
	}
	if j.RunAt.IsZero() {
		j.RunAt = q.now()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if len(j.Payload) == 0 {
		j.Payload = []byte("{}")
	}
	q.jobs[j.ID] = j
	copied := *j
	return &copied, nil
}

func (q *MemQueue) Get(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (q *MemQueue) Lease(ctx context.Context, worker string, tasks []string, n int, lease time.Duration) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()

	var ready []*Job
	for _, j := range q.jobs {
		if len(tasks) > 0 && !contains(tasks, j.Task) {
			continue
		}
		switch {
		case j.Status == StatusPending && !j.RunAt.After(now):
			ready = append(ready, j)
		case j.Status == StatusLocked && !j.LockedUntil.After(now):
			if j.Attempts >= j.MaxAttempts {
				j.Status = StatusFailed
				j.LastError = "lease expired"
				j.LockedBy = ""
				j.LockedUntil = time.Time{}
				continue
			}
			ready = append(ready, j)
		}
	}
	sort.Slice(ready, func(a, b int) bool {
		if !ready[a].RunAt.Equal(ready[b].RunAt) {
			return ready[a].RunAt.Before(ready[b].RunAt)
		}
		return ready[a].ID < ready[b].ID
	})
	if len(ready) > n {
		ready = ready[:n]
	}

	out := make([]*Job, len(ready))
	for i, j := range ready {
		j.Status = StatusLocked
		j.LockedBy = worker
		j.LockedUntil = now.Add(lease)
		j.Attempts++
		copied := *j
		out[i] = &copied
	}
	return out, nil
}

// held returns the job if worker holds its lease.
func (q *MemQueue) held(id, worker string) (*Job, error) {
	j, ok := q.jobs[id]
	if !ok || j.Status != StatusLocked || j.LockedBy != worker {
		return nil, ErrLeaseLost
	}
	return j, nil
}

func (q *MemQueue) Extend(ctx context.Context, id, worker string, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.held(id, worker)
	if err != nil {
		return err
	}
	j.LockedUntil = q.now().Add(lease)
	return nil
}

func (q *MemQueue) Complete(ctx context.Context, id, worker string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.held(id, worker)
	if err != nil {
		return err
	}
	j.Status = StatusCompleted
	j.LockedBy = ""
	j.LockedUntil = time.Time{}
	return nil
}

func (q *MemQueue) Fail(ctx context.Context, id, worker string, retryAt time.Time, reason string) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.held(id, worker)
	if err != nil {
		return "", err
	}
	j.LastError = reason
	j.LockedBy = ""
	j.LockedUntil = time.Time{}
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
	} else {
		j.Status = StatusPending
		j.RunAt = retryAt
	}
	return j.Status, nil
}

func (q *MemQueue) Release(ctx context.Context, id, worker string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.held(id, worker)
	if err != nil {
		return err
	}
	j.LockedBy = ""
	j.LockedUntil = time.Time{}
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		j.LastError = errInterrupted
		return nil
	}
	j.Status = StatusPending
	return nil
}
