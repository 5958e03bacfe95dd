package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/jobs"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemQueueLease(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := jobs.NewMemQueue(c.Now)

	first, err := q.Add(ctx, jobs.NewJob{Task: "send_email", Payload: []byte(`{"to":"ahab"}`)})
	require.NoError(t, err)
	_, err = q.Add(ctx, jobs.NewJob{Task: "send_email", RunAt: c.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = q.Add(ctx, jobs.NewJob{Task: "other"})
	require.NoError(t, err)

	leased, err := q.Lease(ctx, "w1", []string{"send_email"}, 10, time.Minute)
	require.NoError(t, err)
	want := []*jobs.Job{{
		ID:          first.ID,
		Task:        "send_email",
		Payload:     []byte(`{"to":"ahab"}`),
		RunAt:       c.Now(),
		Attempts:    1,
		MaxAttempts: jobs.DefaultMaxAttempts,
		Status:      jobs.StatusLocked,
		LockedBy:    "w1",
		LockedUntil: c.Now().Add(time.Minute),
	}}
	if diff := cmp.Diff(want, leased); diff != "" {
		t.Errorf("unexpected lease (-want +got):\n%s", diff)
	}

	again, err := q.Lease(ctx, "w2", []string{"send_email"}, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMemQueueExpiredLeaseIsReleased(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := jobs.NewMemQueue(c.Now)

	j, err := q.Add(ctx, jobs.NewJob{Task: "t", MaxAttempts: 2})
	require.NoError(t, err)
	_, err = q.Lease(ctx, "dead", nil, 1, time.Minute)
	require.NoError(t, err)

	c.Advance(time.Minute)
	leased, err := q.Lease(ctx, "alive", nil, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 2, leased[0].Attempts)
	assert.Equal(t, "alive", leased[0].LockedBy)

	assert.ErrorIs(t, q.Complete(ctx, j.ID, "dead"), jobs.ErrLeaseLost)

	// The second lease expires too; no attempts are left.
	c.Advance(time.Minute)
	leased, err = q.Lease(ctx, "alive", nil, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased)

	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "lease expired", got.LastError)
}

func TestMemQueueFail(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := jobs.NewMemQueue(c.Now)

	j, err := q.Add(ctx, jobs.NewJob{Task: "t", MaxAttempts: 2})
	require.NoError(t, err)

	_, err = q.Lease(ctx, "w", nil, 1, time.Minute)
	require.NoError(t, err)
	status, err := q.Fail(ctx, j.ID, "w", c.Now().Add(time.Second), "boom")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, status)

	leased, err := q.Lease(ctx, "w", nil, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased, "retry is not due yet")

	c.Advance(time.Second)
	_, err = q.Lease(ctx, "w", nil, 1, time.Minute)
	require.NoError(t, err)
	status, err = q.Fail(ctx, j.ID, "w", c.Now(), "boom again")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, status)

	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(&jobs.Job{
		ID:          j.ID,
		Task:        "t",
		Payload:     []byte("{}"),
		Attempts:    2,
		MaxAttempts: 2,
		Status:      jobs.StatusFailed,
		LastError:   "boom again",
	}, got, cmpopts.IgnoreFields(jobs.Job{}, "RunAt")); diff != "" {
		t.Errorf("unexpected job (-want +got):\n%s", diff)
	}

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestMemQueueRelease(t *testing.T) {
	ctx := context.Background()
	q := jobs.NewMemQueue(nil)

	j, err := q.Add(ctx, jobs.NewJob{Task: "t"})
	require.NoError(t, err)
	_, err = q.Lease(ctx, "w", nil, 1, time.Hour)
	require.NoError(t, err)

	require.NoError(t, q.Release(ctx, j.ID, "w"))
	assert.ErrorIs(t, q.Release(ctx, j.ID, "w"), jobs.ErrLeaseLost)

	leased, err := q.Lease(ctx, "w2", nil, 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 2, leased[0].Attempts)
}

func TestMemQueueReleaseOnFinalAttemptFails(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := jobs.NewMemQueue(c.Now)

	j, err := q.Add(ctx, jobs.NewJob{Task: "t", MaxAttempts: 3})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = q.Lease(ctx, "w1", nil, 1, time.Minute)
		require.NoError(t, err)
		_, err = q.Fail(ctx, j.ID, "w1", c.Now(), "boom")
		require.NoError(t, err)
	}
	leased, err := q.Lease(ctx, "w1", nil, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 3, leased[0].Attempts)

	require.NoError(t, q.Release(ctx, j.ID, "w1"))

	leased, err = q.Lease(ctx, "w2", nil, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased)

	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(&jobs.Job{
		ID:          j.ID,
		Task:        "t",
		Payload:     []byte("{}"),
		Attempts:    3,
		MaxAttempts: 3,
		Status:      jobs.StatusFailed,
		LastError:   "interrupted on final attempt",
	}, got, cmpopts.IgnoreFields(jobs.Job{}, "RunAt")); diff != "" {
		t.Errorf("unexpected job (-want +got):\n%s", diff)
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, jobs.Backoff(0))
	assert.InDelta(t, float64(20085*time.Millisecond), float64(jobs.Backoff(3)), float64(time.Millisecond))
	assert.Equal(t, jobs.Backoff(10), jobs.Backoff(50))
}
