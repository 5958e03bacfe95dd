package catalog_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/catalog"
	"go.appointy.com/capi/catalog/catalogtest"
)

func TestSQLiteSnapshot(t *testing.T) {
	db := catalogtest.OpenSQLite(t, catalogtest.Fixture)
	snap, err := catalog.NewSQLite(db).Snapshot(context.Background(), "main")
	require.NoError(t, err)

	var names []string
	for _, table := range snap.Tables {
		names = append(names, table.Name)
	}
	assert.Equal(t, []string{"audit_log", "boats", "trips", "users"}, names)

	boats := snap.Table("boats")
	require.NotNil(t, boats)
	assert.Equal(t, []string{"id"}, boats.PrimaryKey)

	want := []*catalog.Column{
		{Name: "id", Type: "integer", NotNull: true, HasDefault: true, Position: 1},
		{Name: "owner_id", Type: "text", NotNull: true, Position: 2},
		{Name: "name", Type: "text", NotNull: true, Position: 3},
		{Name: "length", Type: "real", Position: 4},
		{Name: "is_active", Type: "boolean", NotNull: true, HasDefault: true, Position: 5},
	}
	if diff := cmp.Diff(want, boats.Columns); diff != "" {
		t.Errorf("boats columns (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]*catalog.ForeignKey{{
		Name:           "boats_owner_id_fkey",
		Columns:        []string{"owner_id"},
		ForeignTable:   "users",
		ForeignColumns: []string{"id"},
	}}, boats.ForeignKeys); diff != "" {
		t.Errorf("boats foreign keys (-want +got):\n%s", diff)
	}

	trips := snap.Table("trips")
	require.NotNil(t, trips)
	require.Len(t, trips.ForeignKeys, 3)
	assert.Equal(t, "trips_boat_id_fkey", trips.ForeignKeys[0].Name)
	assert.Equal(t, "trips_captain_id_fkey", trips.ForeignKeys[1].Name)
	assert.Equal(t, "trips_created_by_fkey", trips.ForeignKeys[2].Name)

	assert.Empty(t, snap.Table("audit_log").PrimaryKey)
	assert.Empty(t, snap.Functions)
}

func TestSQLiteImplicitForeignColumns(t *testing.T) {
	db := catalogtest.OpenSQLite(t,
		`CREATE TABLE harbors (code TEXT PRIMARY KEY NOT NULL)`,
		`CREATE TABLE berths (id INTEGER PRIMARY KEY, harbor TEXT REFERENCES harbors)`,
	)
	snap, err := catalog.NewSQLite(db).Snapshot(context.Background(), "main")
	require.NoError(t, err)

	berths := snap.Table("berths")
	require.Len(t, berths.ForeignKeys, 1)
	assert.Equal(t, []string{"code"}, berths.ForeignKeys[0].ForeignColumns)
}

func TestSQLiteSchemaNotFound(t *testing.T) {
	db := catalogtest.OpenSQLite(t)
	_, err := catalog.NewSQLite(db).Snapshot(context.Background(), "app_public")
	assert.ErrorIs(t, err, catalog.ErrSchemaNotFound)
}
