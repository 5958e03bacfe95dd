package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgQueue keeps jobs in capi_worker.jobs. Leases are taken with FOR UPDATE
// SKIP LOCKED so concurrent workers never lease the same job.
type PgQueue struct {
	pool *pgxpool.Pool
}

func NewPgQueue(pool *pgxpool.Pool) *PgQueue {
	return &PgQueue{pool: pool}
}

// OpenPgQueue connects a pool to the database at dsn.
func OpenPgQueue(ctx context.Context, dsn string) (*PgQueue, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect job queue: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect job queue: %w", err)
	}
	return &PgQueue{pool: pool}, nil
}

func (q *PgQueue) Close() {
	q.pool.Close()
}

const jobColumns = `id::text, task, payload, run_at, attempts, max_attempts, status, last_error, locked_by, locked_until`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j           Job
		payload     []byte
		status      string
		lockedBy    *string
		lockedUntil *time.Time
	)
	if err := row.Scan(&j.ID, &j.Task, &payload, &j.RunAt, &j.Attempts, &j.MaxAttempts, &status, &j.LastError, &lockedBy, &lockedUntil); err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Status = Status(status)
	if lockedBy != nil {
		j.LockedBy = *lockedBy
	}
	if lockedUntil != nil {
		j.LockedUntil = *lockedUntil
	}
	return &j, nil
}

func (q *PgQueue) Add(ctx context.Context, nj NewJob) (*Job, error) {
	var runAt *time.Time
	if !nj.RunAt.IsZero() {
		runAt = &nj.RunAt
	}
	var maxAttempts *int
	if nj.MaxAttempts > 0 {
		maxAttempts = &nj.MaxAttempts
	}
	payload := nj.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	row := q.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM capi_worker.add_job($1, $2::jsonb, $3, $4)`,
		nj.Task, string(payload), runAt, maxAttempts)
	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("add job %s: %w", nj.Task, err)
	}
	return j, nil
}

func (q *PgQueue) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(q.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM capi_worker.jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		var pgErr *pgconn.PgError
		// invalid_text_representation: not a uuid.
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// The expired CTE runs even though nothing reads from it.
const leaseQuery = `
WITH expired AS (
	UPDATE capi_worker.jobs
	SET status = 'failed', last_error = 'lease expired', locked_by = NULL, locked_until = NULL, updated_at = now()
	WHERE status = 'locked' AND locked_until <= now() AND attempts >= max_attempts
		AND (cardinality($2::text[]) = 0 OR task = ANY($2::text[]))
), ready AS (
	SELECT id FROM capi_worker.jobs
	WHERE ((status = 'pending' AND run_at <= now())
		OR (status = 'locked' AND locked_until <= now() AND attempts < max_attempts))
		AND (cardinality($2::text[]) = 0 OR task = ANY($2::text[]))
	ORDER BY run_at, id
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
UPDATE capi_worker.jobs AS j
SET status = 'locked', locked_by = $1, locked_until = now() + make_interval(secs => $4),
	attempts = j.attempts + 1, updated_at = now()
FROM ready
WHERE j.id = ready.id
RETURNING j.id::text, j.task, j.payload, j.run_at, j.attempts, j.max_attempts, j.status, j.last_error, j.locked_by, j.locked_until`

func (q *PgQueue) Lease(ctx context.Context, worker string, tasks []string, n int, lease time.Duration) ([]*Job, error) {
	if n <= 0 {
		return nil, nil
	}
	if tasks == nil {
		tasks = []string{}
	}
	rows, err := q.pool.Query(ctx, leaseQuery, worker, tasks, n, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("lease jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("lease jobs: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lease jobs: %w", err)
	}
	return out, nil
}

// held runs an update that only applies while worker holds the lease of id.
func (q *PgQueue) held(ctx context.Context, op, sql string, args ...interface{}) error {
	tag, err := q.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s job %v: %w", op, args[0], err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *PgQueue) Extend(ctx context.Context, id, worker string, lease time.Duration) error {
	return q.held(ctx, "extend", `
UPDATE capi_worker.jobs SET locked_until = now() + make_interval(secs => $3), updated_at = now()
WHERE id = $1 AND status = 'locked' AND locked_by = $2`, id, worker, lease.Seconds())
}

func (q *PgQueue) Complete(ctx context.Context, id, worker string) error {
	return q.held(ctx, "complete", `
UPDATE capi_worker.jobs SET status = 'completed', locked_by = NULL, locked_until = NULL, updated_at = now()
WHERE id = $1 AND status = 'locked' AND locked_by = $2`, id, worker)
}

func (q *PgQueue) Fail(ctx context.Context, id, worker string, retryAt time.Time, reason string) (Status, error) {
	var status string
	err := q.pool.QueryRow(ctx, `
UPDATE capi_worker.jobs
SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	run_at = CASE WHEN attempts >= max_attempts THEN run_at ELSE $3 END,
	last_error = $4, locked_by = NULL, locked_until = NULL, updated_at = now()
WHERE id = $1 AND status = 'locked' AND locked_by = $2
RETURNING status`, id, worker, retryAt, reason).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrLeaseLost
	}
	if err != nil {
		return "", fmt.Errorf("fail job %s: %w", id, err)
	}
	return Status(status), nil
}

func (q *PgQueue) Release(ctx context.Context, id, worker string) error {
	return q.held(ctx, "release", `
UPDATE capi_worker.jobs
SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	last_error = CASE WHEN attempts >= max_attempts THEN $3 ELSE last_error END,
	locked_by = NULL, locked_until = NULL, updated_at = now()
WHERE id = $1 AND status = 'locked' AND locked_by = $2`, id, worker, errInterrupted)
}
