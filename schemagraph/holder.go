package schemagraph

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// BuildFunc builds a complete graph, extensions included.
type BuildFunc func(ctx context.Context) (*Graph, error)

// Holder publishes the graph currently served. Requests load the graph once
// and keep using it, so a reload never changes a request halfway.
type Holder struct {
	build   BuildFunc
	current atomic.Pointer[Graph]
	limiter *rate.Limiter
	logger  *slog.Logger
	swapped func(*Graph)
}

// HolderOption configures a Holder.
type HolderOption func(*Holder)

// WithLogger sets the logger reload failures are reported to.
func WithLogger(logger *slog.Logger) HolderOption {
	return func(h *Holder) {
		h.logger = logger
	}
}

// WithReloadInterval limits reloads triggered by Watch to one per interval.
func WithReloadInterval(interval time.Duration) HolderOption {
	return func(h *Holder) {
		h.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// OnSwap registers a callback run after every published graph.
func OnSwap(fn func(*Graph)) HolderOption {
	return func(h *Holder) {
		h.swapped = fn
	}
}

// NewHolder returns a holder building graphs with build. Load must be called
// before Current returns a graph.
func NewHolder(build BuildFunc, opts ...HolderOption) *Holder {
	h := &Holder{
		build:   build,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load builds and publishes the first graph.
func (h *Holder) Load(ctx context.Context) error {
	g, err := h.build(ctx)
	if err != nil {
		return err
	}
	h.publish(g)
	return nil
}

// Current returns the graph being served.
func (h *Holder) Current() *Graph {
	return h.current.Load()
}

// Reload builds a new graph and publishes it. On failure the previous graph
// stays in place.
func (h *Holder) Reload(ctx context.Context) error {
	g, err := h.build(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "schema reload failed, keeping previous graph", "error", err)
		return err
	}
	h.publish(g)
	h.logger.InfoContext(ctx, "schema reloaded", "types", len(g.Types))
	return nil
}

func (h *Holder) publish(g *Graph) {
	h.current.Store(g)
	if h.swapped != nil {
		h.swapped(g)
	}
}

// Watch reloads the graph whenever events fires, at most at the configured
// rate. Events arriving while waiting collapse into one reload. It returns
// when ctx is done or events is closed.
func (h *Holder) Watch(ctx context.Context, events <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
		}

		if err := h.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
	drain:
		for {
			select {
			case _, ok := <-events:
				if !ok {
					break drain
				}
			default:
				break drain
			}
		}
		_ = h.Reload(ctx)
	}
}
