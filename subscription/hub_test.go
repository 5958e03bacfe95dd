package subscription_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/subscription"
	"go.appointy.com/capi/subscription/topic"
)

type recordingBackend struct {
	mu        sync.Mutex
	listening map[topic.Topic]int
	calls     []string
	fail      error
}

func newBackend() *recordingBackend {
	return &recordingBackend{listening: make(map[topic.Topic]int)}
}

func (b *recordingBackend) Listen(t topic.Topic) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.listening[t]++
	b.calls = append(b.calls, "listen "+t.String())
	return nil
}

func (b *recordingBackend) Unlisten(t topic.Topic) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listening[t]--
	b.calls = append(b.calls, "unlisten "+t.String())
	return nil
}

func (b *recordingBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

var boats = topic.Topic{Kind: "new_boat", Subject: "u1"}

func TestHubListensOncePerTopic(t *testing.T) {
	backend := newBackend()
	hub := subscription.NewHub(subscription.WithBackend(backend))

	a, err := hub.Subscribe(boats)
	require.NoError(t, err)
	b, err := hub.Subscribe(boats)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.ListenerCount(boats))
	assert.Equal(t, []topic.Topic{boats}, hub.Topics())

	a.Close()
	a.Close()
	assert.Equal(t, 1, hub.ListenerCount(boats))
	b.Close()
	assert.Equal(t, 0, hub.ListenerCount(boats))
	assert.Empty(t, hub.Topics())

	assert.Equal(t, []string{"listen graphql:new_boat:u1", "unlisten graphql:new_boat:u1"}, backend.Calls())
}

func TestHubBackendFailureRegistersNothing(t *testing.T) {
	backend := newBackend()
	backend.fail = errors.New("connection refused")
	hub := subscription.NewHub(subscription.WithBackend(backend))

	_, err := hub.Subscribe(boats)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 0, hub.ListenerCount(boats))
}

func TestHubRejectsInvalidTopic(t *testing.T) {
	hub := subscription.NewHub()
	_, err := hub.Subscribe(topic.Topic{Kind: "new_boat"})
	assert.Error(t, err)
	assert.Empty(t, hub.Topics())
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := subscription.NewHub()
	l, err := hub.Subscribe(boats)
	require.NoError(t, err)
	defer l.Close()

	other := topic.Topic{Kind: "new_boat", Subject: "u2"}
	for _, subject := range []string{"1", "2", "3"} {
		hub.Publish(topic.Event{Topic: boats, Event: "created", Subject: subject})
		hub.Publish(topic.Event{Topic: other, Event: "created", Subject: "x"})
	}

	var got []string
	for i := 0; i < 3; i++ {
		ev := <-l.Events()
		got = append(got, ev.Subject)
	}
	assert.Equal(t, []string{"1", "2", "3"}, got)
	assert.Empty(t, l.Events())
}

func TestHubClosesLaggingListener(t *testing.T) {
	backend := newBackend()
	hub := subscription.NewHub(subscription.WithBackend(backend), subscription.WithBuffer(2))
	slow, err := hub.Subscribe(boats)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		hub.Publish(topic.Event{Topic: boats, Event: "created"})
	}

	var n int
	for range slow.Events() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, slow.Err(), subscription.ErrLagged)
	assert.Equal(t, 0, hub.ListenerCount(boats))

	assert.Eventually(t, func() bool {
		return len(backend.Calls()) == 2
	}, time.Second, 10*time.Millisecond)
}
