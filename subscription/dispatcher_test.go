package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/catalog"
	"go.appointy.com/capi/catalog/catalogtest"
	"go.appointy.com/capi/extension"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
	"go.appointy.com/capi/subscription"
	"go.appointy.com/capi/subscription/topic"
)

const boatSDL = `
type BoatEvent {
	event: String
	subject: String
}

extend type Subscription {
	newBoatCreated(userId: String!): BoatEvent
}
`

func boatTopic(args interface{}, ac schemagraph.AccessContext) (topic.Topic, error) {
	userID, _ := args.(map[string]interface{})["userId"].(string)
	return topic.New("new_boat", userID)
}

type staticGraphs struct {
	g *schemagraph.Graph
}

func (s staticGraphs) Current() *schemagraph.Graph {
	return s.g
}

// executor runs queries on the executable schema and records every call.
type executor struct {
	mu    sync.Mutex
	calls []interface{}
	block chan struct{}
}

func (e *executor) Execute(ctx context.Context, g *schemagraph.Graph, query *graphql.Query, ac schemagraph.AccessContext, source interface{}) (interface{}, error) {
	e.mu.Lock()
	e.calls = append(e.calls, source)
	block := e.block
	e.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	ctx = schemagraph.WithAccess(schemagraph.WithGraph(ctx, g), ac)
	typ := g.Root(query.Kind)
	if err := graphql.ValidateQuery(ctx, typ, query.SelectionSet); err != nil {
		return nil, err
	}
	ex := graphql.Executor{}
	return ex.Execute(ctx, typ, source, query)
}

func (e *executor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type harness struct {
	hub  *subscription.Hub
	exec *executor
	d    *subscription.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := catalogtest.OpenSQLite(t, catalogtest.Fixture)
	base, err := schemagraph.Reflect(context.Background(), catalog.NewSQLite(db), "main", nil)
	require.NoError(t, err)

	r := extension.NewRegistry()
	r.MustRegister(extension.TypeDefs("boats", boatSDL, nil, extension.Topics{"newBoatCreated": boatTopic}))
	g, err := r.Apply(base)
	require.NoError(t, err)

	h := &harness{hub: subscription.NewHub(), exec: &executor{}}
	h.d = subscription.NewDispatcher(h.hub, staticGraphs{g}, h.exec, nil)
	return h
}

func parse(t *testing.T, source string, vars map[string]interface{}) *graphql.Query {
	t.Helper()
	q, err := graphql.Parse(source, vars)
	require.NoError(t, err)
	return q
}

func receive(t *testing.T, s *subscription.Subscription) subscription.Result {
	t.Helper()
	select {
	case res, ok := <-s.Results():
		require.True(t, ok, "results closed")
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no result")
		return subscription.Result{}
	}
}

func TestInvalidArgsNeverRegisterAListener(t *testing.T) {
	h := newHarness(t)
	u1 := topic.Topic{Kind: "new_boat", Subject: "u1"}

	for name, source := range map[string]string{
		"missing":  `subscription { newBoatCreated { event } }`,
		"unknown":  `subscription { newBoatCreated(userId: "u1", color: "red") { event } }`,
		"badTopic": `subscription { newBoatCreated(userId: "has space") { event } }`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.d.Subscribe(context.Background(), parse(t, source, nil), schemagraph.AccessContext{})
			var invalid *jerrors.InvalidSubscriptionArgsError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Equal(t, "newBoatCreated", invalid.Field)
			assert.Equal(t, "InvalidArgument", jerrors.ConvertError(err).Extensions.Code)
		})
	}
	assert.Equal(t, 0, h.hub.ListenerCount(u1))
	assert.Empty(t, h.hub.Topics())
}

func TestSubscribeRejectsOtherOperations(t *testing.T) {
	h := newHarness(t)

	_, err := h.d.Subscribe(context.Background(), parse(t, `{ boats { nodes { id } } }`, nil), schemagraph.AccessContext{})
	assert.ErrorContains(t, err, "expected a subscription")

	_, err = h.d.Subscribe(context.Background(), parse(t, `subscription {
		a: newBoatCreated(userId: "u1") { event }
		b: newBoatCreated(userId: "u2") { event }
	}`, nil), schemagraph.AccessContext{})
	assert.ErrorContains(t, err, "exactly one field")
	assert.Empty(t, h.hub.Topics())
}

func TestSubscriptionLifecycle(t *testing.T) {
	h := newHarness(t)
	u1 := topic.Topic{Kind: "new_boat", Subject: "u1"}

	s, err := h.d.Subscribe(context.Background(), parse(t, `subscription($user: String!) {
		newBoatCreated(userId: $user) { event subject }
	}`, map[string]interface{}{"user": "u1"}), schemagraph.AccessContext{})
	require.NoError(t, err)
	assert.Equal(t, u1, s.Topic)
	assert.Equal(t, subscription.Listening, s.State())
	assert.Equal(t, 1, h.hub.ListenerCount(u1))

	for _, subject := range []string{"1", "2"} {
		h.hub.Publish(topic.Event{Topic: u1, Event: "created", Subject: subject})
	}
	for _, subject := range []string{"1", "2"} {
		res := receive(t, s)
		require.NoError(t, res.Err)
		assert.Equal(t, map[string]interface{}{
			"newBoatCreated": map[string]interface{}{"event": "created", "subject": subject},
		}, res.Data)
	}
	assert.Eventually(t, func() bool { return s.State() == subscription.Listening }, time.Second, 5*time.Millisecond)

	s.Close()
	assert.Equal(t, subscription.Closed, s.State())
	assert.NoError(t, s.Err())
	assert.Equal(t, 0, h.hub.ListenerCount(u1))
	_, ok := <-s.Results()
	assert.False(t, ok)
}

func TestSubscriptionStates(t *testing.T) {
	h := newHarness(t)
	h.exec.block = make(chan struct{})
	u1 := topic.Topic{Kind: "new_boat", Subject: "u1"}

	s, err := h.d.Subscribe(context.Background(), parse(t, `subscription { newBoatCreated(userId: "u1") { event } }`, nil), schemagraph.AccessContext{})
	require.NoError(t, err)
	defer s.Close()

	h.hub.Publish(topic.Event{Topic: u1, Event: "created"})
	assert.Eventually(t, func() bool { return s.State() == subscription.Notified }, time.Second, 5*time.Millisecond)

	close(h.exec.block)
	assert.Eventually(t, func() bool { return s.State() == subscription.Resolved }, time.Second, 5*time.Millisecond)

	receive(t, s)
	assert.Eventually(t, func() bool { return s.State() == subscription.Listening }, time.Second, 5*time.Millisecond)
}

func TestCancelledContextClosesSubscription(t *testing.T) {
	h := newHarness(t)
	u1 := topic.Topic{Kind: "new_boat", Subject: "u1"}

	ctx, cancel := context.WithCancel(context.Background())
	s, err := h.d.Subscribe(ctx, parse(t, `subscription { newBoatCreated(userId: "u1") { event } }`, nil), schemagraph.AccessContext{})
	require.NoError(t, err)

	cancel()
	_, ok := <-s.Results()
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return h.hub.ListenerCount(u1) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.exec.Calls())
}

func TestLaggingSubscriptionReportsError(t *testing.T) {
	db := catalogtest.OpenSQLite(t, catalogtest.Fixture)
	base, err := schemagraph.Reflect(context.Background(), catalog.NewSQLite(db), "main", nil)
	require.NoError(t, err)
	r := extension.NewRegistry()
	r.MustRegister(extension.TypeDefs("boats", boatSDL, nil, extension.Topics{"newBoatCreated": boatTopic}))
	g, err := r.Apply(base)
	require.NoError(t, err)

	hub := subscription.NewHub(subscription.WithBuffer(1))
	exec := &executor{block: make(chan struct{})}
	d := subscription.NewDispatcher(hub, staticGraphs{g}, exec, nil)
	u1 := topic.Topic{Kind: "new_boat", Subject: "u1"}

	s, err := d.Subscribe(context.Background(), parse(t, `subscription { newBoatCreated(userId: "u1") { event } }`, nil), schemagraph.AccessContext{})
	require.NoError(t, err)

	hub.Publish(topic.Event{Topic: u1, Event: "first"})
	require.Eventually(t, func() bool { return s.State() == subscription.Notified }, time.Second, 5*time.Millisecond)
	hub.Publish(topic.Event{Topic: u1, Event: "second"})
	hub.Publish(topic.Event{Topic: u1, Event: "third"})
	close(exec.block)

	var events []interface{}
	for res := range s.Results() {
		events = append(events, res.Data)
	}
	assert.Len(t, events, 2)
	assert.ErrorIs(t, s.Err(), subscription.ErrLagged)
}

func TestDispatcherExecute(t *testing.T) {
	h := newHarness(t)
	out, err := h.d.Execute(context.Background(), parse(t, `{ __typename }`, nil), schemagraph.AccessContext{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"__typename": "Query"}, out)
}
