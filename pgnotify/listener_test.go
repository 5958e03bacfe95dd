//go:build integration

package pgnotify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/catalog/catalogtest"
	"go.appointy.com/capi/pgnotify"
)

func TestListenerDeliversNotifications(t *testing.T) {
	db, dsn := catalogtest.OpenPostgres(t)

	l := pgnotify.New(dsn)
	require.NoError(t, l.Listen("graphql:new_boat:u1"))
	require.NoError(t, l.Listen("graphql:new_boat:u1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan [2]string, 1)
	go l.Run(ctx, func(channel, payload string) {
		got <- [2]string{channel, payload}
	})

	_, err := db.Exec(`SELECT pg_notify('graphql:new_boat:u1', '{"event":"created","subject":"7"}')`)
	require.NoError(t, err)

	select {
	case n := <-got:
		assert.Equal(t, [2]string{"graphql:new_boat:u1", `{"event":"created","subject":"7"}`}, n)
	case <-time.After(10 * time.Second):
		t.Fatal("no notification")
	}

	require.NoError(t, l.Unlisten("graphql:new_boat:u1"))
	require.NoError(t, l.Unlisten("graphql:new_boat:u1"))
}
