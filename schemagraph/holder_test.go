package schemagraph_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/schemagraph"
)

func emptyGraph(schema string) *schemagraph.Graph {
	return &schemagraph.Graph{
		Schema:     schema,
		Types:      map[string]*schemagraph.TypeDescriptor{},
		Executable: &graphql.Schema{Query: &graphql.Object{Name: "Query", Fields: map[string]*graphql.Field{}}},
	}
}

func TestHolderReloadKeepsPreviousGraph(t *testing.T) {
	var calls int32
	h := schemagraph.NewHolder(func(ctx context.Context) (*schemagraph.Graph, error) {
		if atomic.AddInt32(&calls, 1) > 1 {
			return nil, errors.New("catalog unavailable")
		}
		return emptyGraph("first"), nil
	})

	assert.Nil(t, h.Current())
	require.NoError(t, h.Load(context.Background()))
	first := h.Current()
	require.NotNil(t, first)

	assert.Error(t, h.Reload(context.Background()))
	assert.Same(t, first, h.Current())
}

func TestHolderWatchCoalescesEvents(t *testing.T) {
	var builds int32
	var swapped int32
	h := schemagraph.NewHolder(func(ctx context.Context) (*schemagraph.Graph, error) {
		atomic.AddInt32(&builds, 1)
		return emptyGraph("main"), nil
	},
		schemagraph.WithReloadInterval(time.Millisecond),
		schemagraph.OnSwap(func(*schemagraph.Graph) { atomic.AddInt32(&swapped, 1) }),
	)
	require.NoError(t, h.Load(context.Background()))

	events := make(chan struct{}, 3)
	events <- struct{}{}
	events <- struct{}{}
	events <- struct{}{}
	close(events)

	require.NoError(t, h.Watch(context.Background(), events))
	got := atomic.LoadInt32(&builds)
	assert.GreaterOrEqual(t, got, int32(2))
	assert.LessOrEqual(t, got, int32(4))
	assert.Equal(t, got, atomic.LoadInt32(&swapped))
}

func TestHolderWatchStopsOnCancel(t *testing.T) {
	h := schemagraph.NewHolder(func(ctx context.Context) (*schemagraph.Graph, error) {
		return emptyGraph("main"), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- h.Watch(ctx, make(chan struct{})) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
