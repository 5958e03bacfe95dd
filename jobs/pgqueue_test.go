//go:build integration

package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/catalog/catalogtest"
	"go.appointy.com/capi/jobs"
	"go.appointy.com/capi/pgnotify"
)

func openQueue(t *testing.T) (*jobs.PgQueue, string) {
	t.Helper()
	db, dsn := catalogtest.OpenPostgres(t)
	require.NoError(t, jobs.Migrate(db))
	require.NoError(t, jobs.Migrate(db), "migrating twice is a no-op")

	q, err := jobs.OpenPgQueue(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q, dsn
}

func TestPgQueueLeaseIsExclusive(t *testing.T) {
	ctx := context.Background()
	q, _ := openQueue(t)

	for i := 0; i < 20; i++ {
		_, err := q.Add(ctx, jobs.NewJob{Task: "row"})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]string)
	var wg sync.WaitGroup
	for _, worker := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				leased, err := q.Lease(ctx, worker, []string{"row"}, 3, time.Minute)
				assert.NoError(t, err)
				if len(leased) == 0 {
					return
				}
				mu.Lock()
				for _, j := range leased {
					assert.NotContains(t, seen, j.ID, "job leased twice")
					seen[j.ID] = worker
				}
				mu.Unlock()
			}
		}(worker)
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestPgQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	q, _ := openQueue(t)

	j, err := q.Add(ctx, jobs.NewJob{Task: "send_email", Payload: []byte(`{"to": "ahab"}`), MaxAttempts: 2})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, j.Status)
	assert.JSONEq(t, `{"to":"ahab"}`, string(j.Payload))

	leased, err := q.Lease(ctx, "w", nil, 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 1, leased[0].Attempts)
	assert.Equal(t, "w", leased[0].LockedBy)

	require.NoError(t, q.Extend(ctx, j.ID, "w", time.Minute))
	assert.ErrorIs(t, q.Extend(ctx, j.ID, "intruder", time.Minute), jobs.ErrLeaseLost)

	status, err := q.Fail(ctx, j.ID, "w", time.Now().Add(-time.Second), "boom")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, status)

	leased, err = q.Lease(ctx, "w", nil, 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	status, err = q.Fail(ctx, j.ID, "w", time.Now(), "boom again")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, status)

	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "boom again", got.LastError)

	_, err = q.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestPgQueueExpiredLease(t *testing.T) {
	ctx := context.Background()
	q, _ := openQueue(t)

	j, err := q.Add(ctx, jobs.NewJob{Task: "t", MaxAttempts: 2})
	require.NoError(t, err)
	_, err = q.Lease(ctx, "dead", nil, 1, 100*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	leased, err := q.Lease(ctx, "alive", nil, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 2, leased[0].Attempts)
	assert.ErrorIs(t, q.Complete(ctx, j.ID, "dead"), jobs.ErrLeaseLost)

	time.Sleep(200 * time.Millisecond)
	leased, err = q.Lease(ctx, "alive", nil, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased)

	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "lease expired", got.LastError)
}

func TestPgQueueReleaseOnFinalAttemptFails(t *testing.T) {
	ctx := context.Background()
	q, _ := openQueue(t)

	j, err := q.Add(ctx, jobs.NewJob{Task: "t", MaxAttempts: 3})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		leased, err := q.Lease(ctx, "w1", nil, 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, leased, 1)
		_, err = q.Fail(ctx, j.ID, "w1", time.Now().Add(-time.Minute), "boom")
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
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "interrupted on final attempt", got.LastError)
	assert.Empty(t, got.LockedBy)
}

func TestRunnerWakesOnInsert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q, dsn := openQueue(t)

	// A long poll interval leaves the notification as the only way to wake.
	r := jobs.NewRunner(q, jobs.WithPollInterval(time.Hour))
	r.Handle("ping", func(ctx context.Context, j *jobs.Job) error { return nil })

	l := pgnotify.New(dsn)
	require.NoError(t, l.Listen("jobs:insert"))
	go l.Run(ctx, pgnotify.Signal("jobs:insert", r.Wake())) //nolint:errcheck
	start(t, r)

	// Let the runner finish its first empty poll.
	time.Sleep(100 * time.Millisecond)
	j, err := q.Add(ctx, jobs.NewJob{Task: "ping"})
	require.NoError(t, err)
	waitStatus(t, q, j.ID, jobs.StatusCompleted)
}

func TestSchemaChangesAreAnnounced(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db, dsn := catalogtest.OpenPostgres(t)
	require.NoError(t, jobs.Migrate(db))

	events := make(chan struct{}, 1)
	l := pgnotify.New(dsn)
	require.NoError(t, l.Listen("capi_watch"))
	go l.Run(ctx, pgnotify.Signal("capi_watch", events)) //nolint:errcheck

	_, err := db.Exec(`CREATE TABLE harbors (id serial PRIMARY KEY)`)
	require.NoError(t, err)
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no schema change notification")
	}
}
