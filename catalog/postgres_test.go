//go:build integration

package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/catalog"
	"go.appointy.com/capi/catalog/catalogtest"
)

func TestPostgresSnapshot(t *testing.T) {
	db, _ := catalogtest.OpenPostgres(t, catalogtest.PostgresFixture)
	cat := catalog.NewPostgres(db)

	snap, err := cat.Snapshot(context.Background(), "app_public")
	require.NoError(t, err)
	require.Len(t, snap.Tables, 2)

	users := snap.Table("users")
	require.NotNil(t, users)
	assert.Equal(t, "A registered user.", users.Comment)
	assert.Equal(t, []string{"id"}, users.PrimaryKey)
	assert.Equal(t, "uuid", users.Column("id").Type)
	assert.True(t, users.Column("id").HasDefault)

	boats := snap.Table("boats")
	require.Len(t, boats.ForeignKeys, 1)
	assert.Equal(t, "users", boats.ForeignKeys[0].ForeignTable)
	assert.Equal(t, "numeric", boats.Column("length").Type)

	require.Len(t, snap.Functions, 2)
	count, register := snap.Functions[0], snap.Functions[1]
	assert.Equal(t, "boat_count", count.Name)
	assert.Equal(t, catalog.Stable, count.Volatility)
	assert.Equal(t, "int8", count.ReturnType)
	assert.Equal(t, []*catalog.Argument{{Name: "owner", Type: "uuid"}}, count.Args)

	assert.Equal(t, "register", register.Name)
	assert.Equal(t, catalog.Volatile, register.Volatility)
	assert.True(t, register.ReturnsTable)
	assert.Equal(t, "users", register.ReturnType)

	_, err = cat.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrSchemaNotFound)
}
