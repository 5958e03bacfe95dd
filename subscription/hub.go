// Package subscription serves GraphQL subscriptions. Notification sources
// publish events to a Hub; a Dispatcher runs one state machine per
// subscription, re-executing the subscription query for every event of its
// topic.
package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.appointy.com/capi/metrics"
	"go.appointy.com/capi/subscription/topic"
)

// ErrLagged closes a listener that did not keep up with its topic.
var ErrLagged = errors.New("subscription fell behind its topic")

// Backend is told when a topic gains its first listener and loses its last
// one, so a source only listens to topics somebody subscribed to.
type Backend interface {
	Listen(t topic.Topic) error
	Unlisten(t topic.Topic) error
}

// Hub fans events out to the listeners of their topic.
type Hub struct {
	mu        sync.Mutex
	listeners map[topic.Topic]map[*Listener]struct{}
	backendMu sync.Mutex
	backend   Backend
	buffer    int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBackend registers the backend notified of topic usage.
func WithBackend(b Backend) HubOption {
	return func(h *Hub) {
		h.backend = b
	}
}

// WithBuffer sets the number of events queued per listener.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

func WithHubMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		listeners: make(map[topic.Topic]map[*Listener]struct{}),
		buffer:    16,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Listener receives the events of one topic until it is closed.
type Listener struct {
	hub    *Hub
	topic  topic.Topic
	events chan topic.Event

	// guarded by hub.mu
	closed bool
	err    error
}

// Events returns the channel events are delivered on. It is closed when the
// listener is closed or lags behind.
func (l *Listener) Events() <-chan topic.Event {
	return l.events
}

func (l *Listener) Topic() topic.Topic {
	return l.topic
}

// Err reports why the events channel was closed by the hub.
func (l *Listener) Err() error {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	return l.err
}

// Close unregisters the listener. It is safe to call more than once.
func (l *Listener) Close() {
	l.hub.remove(l, nil)
}

// Subscribe registers a listener for t. The backend starts listening when t
// gets its first listener; if it fails nothing is registered.
func (h *Hub) Subscribe(t topic.Topic) (*Listener, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	l := &Listener{hub: h, topic: t, events: make(chan topic.Event, h.buffer)}
	if h.add(l, false) {
		return l, nil
	}

	// Backend calls happen outside mu so a source blocked in Publish cannot
	// stall them.
	h.backendMu.Lock()
	defer h.backendMu.Unlock()
	if h.add(l, false) {
		return l, nil
	}
	if h.backend != nil {
		if err := h.backend.Listen(t); err != nil {
			return nil, fmt.Errorf("listen on %s: %w", t, err)
		}
	}
	h.add(l, true)
	return l, nil
}

// add registers l when its topic already has listeners or create is set.
func (h *Hub) add(l *Listener, create bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.listeners[l.topic]
	if !ok {
		if !create {
			return false
		}
		set = make(map[*Listener]struct{})
		h.listeners[l.topic] = set
	}
	set[l] = struct{}{}
	h.metrics.SubscriptionStarted()
	return true
}

// Publish delivers ev to every listener of its topic without blocking.
// Listeners with a full queue are closed with ErrLagged. Events of one topic
// are delivered in the order they are published.
func (h *Hub) Publish(ev topic.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.metrics.Notified(ev.Topic.Kind)
	for l := range h.listeners[ev.Topic] {
		select {
		case l.events <- ev:
		default:
			h.logger.Warn("dropping lagging subscriber", "topic", ev.Topic.String())
			if h.removeLocked(l, ErrLagged) {
				go h.release(l.topic)
			}
		}
	}
}

// ListenerCount returns the number of listeners of t.
func (h *Hub) ListenerCount(t topic.Topic) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[t])
}

// Topics lists the topics with at least one listener.
func (h *Hub) Topics() []topic.Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]topic.Topic, 0, len(h.listeners))
	for t := range h.listeners {
		out = append(out, t)
	}
	return out
}

func (h *Hub) remove(l *Listener, err error) {
	h.mu.Lock()
	last := h.removeLocked(l, err)
	h.mu.Unlock()
	if last {
		h.release(l.topic)
	}
}

// removeLocked closes l and reports whether its topic lost its last
// listener.
func (h *Hub) removeLocked(l *Listener, err error) bool {
	if l.closed {
		return false
	}
	l.closed = true
	l.err = err
	close(l.events)
	h.metrics.SubscriptionClosed()

	set := h.listeners[l.topic]
	delete(set, l)
	if len(set) > 0 {
		return false
	}
	delete(h.listeners, l.topic)
	return true
}

// release stops the backend listening on t unless t gained a listener again.
func (h *Hub) release(t topic.Topic) {
	if h.backend == nil {
		return
	}
	h.backendMu.Lock()
	defer h.backendMu.Unlock()
	if h.ListenerCount(t) > 0 {
		return
	}
	if err := h.backend.Unlisten(t); err != nil {
		h.logger.Warn("cannot stop listening", "topic", t.String(), "error", err)
	}
}
