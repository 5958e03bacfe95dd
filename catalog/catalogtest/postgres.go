//go:build integration

package catalogtest

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresFixture is the Postgres version of Fixture inside app_public,
// together with a stable and a volatile function.
const PostgresFixture = `
CREATE SCHEMA app_public;
CREATE TABLE app_public.users (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	email text NOT NULL UNIQUE,
	name text,
	role text NOT NULL DEFAULT 'member'
);
COMMENT ON TABLE app_public.users IS 'A registered user.';
CREATE TABLE app_public.boats (
	id serial PRIMARY KEY,
	owner_id uuid NOT NULL REFERENCES app_public.users(id),
	name text NOT NULL,
	length numeric,
	is_active boolean NOT NULL DEFAULT true
);
CREATE FUNCTION app_public.boat_count(owner uuid) RETURNS bigint AS $$
	SELECT count(*) FROM app_public.boats WHERE owner_id = owner
$$ LANGUAGE sql STABLE;
CREATE FUNCTION app_public.register(email text, name text) RETURNS app_public.users AS $$
	INSERT INTO app_public.users (email, name) VALUES (email, name) RETURNING *
$$ LANGUAGE sql VOLATILE;
`

// StartPostgres runs a throwaway Postgres container and returns its
// connection string.
func StartPostgres(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("capi"),
		postgres.WithUsername("capi"),
		postgres.WithPassword("capi"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// OpenPostgres starts a container and runs the given statements in it.
func OpenPostgres(t testing.TB, statements ...string) (*sql.DB, string) {
	t.Helper()
	dsn := StartPostgres(t)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db, dsn
}
