package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
	"go.appointy.com/capi/subscription/topic"
)

// State is the lifecycle position of a subscription.
type State int

const (
	Idle State = iota
	Listening
	Notified
	Resolved
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Listening:
		return "Listening"
	case Notified:
		return "Notified"
	case Resolved:
		return "Resolved"
	default:
		return "Closed"
	}
}

// Executor runs a query against a graph with a root source.
type Executor interface {
	Execute(ctx context.Context, g *schemagraph.Graph, query *graphql.Query, ac schemagraph.AccessContext, source interface{}) (interface{}, error)
}

// Graphs returns the graph currently served.
type Graphs interface {
	Current() *schemagraph.Graph
}

// Result is the outcome of resolving one event.
type Result struct {
	Data interface{}
	Err  error
}

// Dispatcher starts subscriptions.
type Dispatcher struct {
	hub    *Hub
	graphs Graphs
	exec   Executor
	logger *slog.Logger
}

func NewDispatcher(hub *Hub, graphs Graphs, exec Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{hub: hub, graphs: graphs, exec: exec, logger: logger}
}

// Subscription is one running subscription.
type Subscription struct {
	Topic topic.Topic

	results  chan Result
	listener *Listener
	cancel   context.CancelFunc
	done     chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

// Results delivers one result per event. It is closed when the subscription
// closes.
func (s *Subscription) Results() <-chan Result {
	return s.results
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err reports why the subscription closed, or nil if it was stopped.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription and waits until its listener is released.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) set(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Subscribe validates a subscription operation and starts listening to its
// topic. Invalid arguments are rejected with an InvalidSubscriptionArgsError
// before anything is registered with the hub. The subscription runs until
// ctx is done or Close is called.
func (d *Dispatcher) Subscribe(ctx context.Context, query *graphql.Query, ac schemagraph.AccessContext) (*Subscription, error) {
	if query.Kind != "subscription" {
		return nil, jerrors.InvalidInput("expected a subscription, got a %s", query.Kind)
	}
	g := d.graphs.Current()
	if g == nil {
		return nil, errors.New("no graph loaded")
	}

	selections := graphql.CollectSelections(query.SelectionSet)
	if len(selections) != 1 {
		return nil, jerrors.InvalidInput("a subscription must select exactly one field")
	}
	sel := selections[0]

	root := g.Root("subscription")
	vctx := schemagraph.WithAccess(schemagraph.WithGraph(ctx, g), ac)
	if err := graphql.ValidateQuery(vctx, root, query.SelectionSet); err != nil {
		var invalid *jerrors.InvalidSubscriptionArgsError
		if errors.As(err, &invalid) {
			return nil, err
		}
		return nil, &jerrors.InvalidSubscriptionArgsError{Field: sel.Name, Reason: err.Error()}
	}

	topicOf, ok := g.Topics[sel.Name]
	if !ok {
		return nil, &jerrors.InvalidSubscriptionArgsError{Field: sel.Name, Reason: "no topic for field"}
	}
	t, err := topicOf(sel.Args, ac)
	if err != nil {
		var invalid *jerrors.InvalidSubscriptionArgsError
		if errors.As(err, &invalid) {
			return nil, err
		}
		return nil, &jerrors.InvalidSubscriptionArgsError{Field: sel.Name, Reason: err.Error()}
	}

	listener, err := d.hub.Subscribe(t)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", sel.Name, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		Topic:    t,
		results:  make(chan Result),
		listener: listener,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    Listening,
	}
	go d.run(ctx, s, query, ac)
	return s, nil
}

func (d *Dispatcher) run(ctx context.Context, s *Subscription, query *graphql.Query, ac schemagraph.AccessContext) {
	defer close(s.done)
	defer close(s.results)
	defer s.listener.Close()
	defer s.set(Closed)

	logger := d.logger.With("topic", s.Topic.String())
	logger.Debug("subscription started")
	for {
		var ev topic.Event
		var ok bool
		select {
		case <-ctx.Done():
			logger.Debug("subscription stopped")
			return
		case ev, ok = <-s.listener.Events():
		}
		if !ok {
			err := s.listener.Err()
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			logger.Info("subscription closed by hub", "error", err)
			return
		}

		s.set(Notified)
		data, err := d.exec.Execute(ctx, d.graphs.Current(), query, ac, ev)
		s.set(Resolved)

		select {
		case s.results <- Result{Data: data, Err: err}:
		case <-ctx.Done():
			return
		}
		s.set(Listening)
	}
}

// Execute runs a query or mutation once against the current graph.
func (d *Dispatcher) Execute(ctx context.Context, query *graphql.Query, ac schemagraph.AccessContext) (interface{}, error) {
	g := d.graphs.Current()
	if g == nil {
		return nil, errors.New("no graph loaded")
	}
	return d.exec.Execute(ctx, g, query, ac, nil)
}
