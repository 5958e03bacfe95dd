// Package catalogtest provides databases seeded with a small boating schema
// for tests.
package catalogtest

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// Fixture is the SQLite schema used across the tests of this module.
const Fixture = `
CREATE TABLE users (
	id TEXT PRIMARY KEY NOT NULL,
	email TEXT NOT NULL UNIQUE,
	name TEXT,
	role TEXT NOT NULL DEFAULT 'member'
);
CREATE TABLE boats (
	id INTEGER PRIMARY KEY,
	owner_id TEXT NOT NULL REFERENCES users(id),
	name TEXT NOT NULL,
	length REAL,
	is_active BOOLEAN NOT NULL DEFAULT 1
);
CREATE TABLE trips (
	id INTEGER PRIMARY KEY,
	boat_id INTEGER NOT NULL REFERENCES boats(id),
	captain_id TEXT REFERENCES users(id),
	created_by TEXT REFERENCES users(id),
	notes TEXT
);
CREATE TABLE audit_log (
	message TEXT NOT NULL
);
`

// Seed inserts two users with three boats between them.
const Seed = `
INSERT INTO users (id, email, name) VALUES
	('6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01', 'ahab@pequod.example', 'Ahab'),
	('6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c02', 'ishmael@pequod.example', 'Ishmael');
INSERT INTO boats (id, owner_id, name, length) VALUES
	(1, '6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01', 'Pequod', 28.5),
	(2, '6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01', 'Whaleboat', 9),
	(3, '6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c02', 'Coffin', NULL);
INSERT INTO trips (id, boat_id, captain_id, created_by, notes) VALUES
	(1, 1, '6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01', '6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c02', 'the chase');
`

// Ahab and Ishmael are the ids of the seeded users.
const (
	Ahab    = "6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c01"
	Ishmael = "6f1c1f5e-4a0e-4d54-9a7e-0f3a6c1b2c02"
)

// OpenSQLite opens an in-memory database and runs the given statements. The
// pool is limited to a single connection so every query sees the same
// database.
func OpenSQLite(t testing.TB, statements ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}
