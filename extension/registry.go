// Package extension adds plugin defined fields, resolvers and access rules to
// a reflected graph.
//
// Hooks are registered before the server starts and applied, in registration
// order, to a clone of every graph the server builds. A hook never replaces a
// field that already exists: adding one fails with a HookConflictError.
package extension

import (
	"errors"
	"fmt"
	"sync"

	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
)

// ErrFrozen is returned by Register once the registry has been applied.
var ErrFrozen = errors.New("extension registry is frozen")

// Hook changes a graph. Apply runs on a clone, so a hook may modify the graph
// it is given freely.
type Hook interface {
	Name() string
	Apply(g *schemagraph.Graph) error
}

// Registry is an ordered list of hooks.
type Registry struct {
	mu     sync.Mutex
	hooks  []Hook
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends h. Hook names must be unique.
func (r *Registry) Register(h Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	for _, existing := range r.hooks {
		if existing.Name() == h.Name() {
			return fmt.Errorf("extension %q registered twice", h.Name())
		}
	}
	r.hooks = append(r.hooks, h)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(hooks ...Hook) {
	for _, h := range hooks {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

// Names lists the registered hooks in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.hooks))
	for i, h := range r.hooks {
		names[i] = h.Name()
	}
	return names
}

// Apply freezes the registry and returns a clone of g with every hook
// applied. g itself is never changed.
func (r *Registry) Apply(g *schemagraph.Graph) (*schemagraph.Graph, error) {
	r.mu.Lock()
	r.frozen = true
	hooks := append([]Hook(nil), r.hooks...)
	r.mu.Unlock()

	out := g.Clone()
	for _, h := range hooks {
		if err := h.Apply(out); err != nil {
			var conflict *jerrors.HookConflictError
			if errors.As(err, &conflict) && conflict.Hook == "" {
				conflict.Hook = h.Name()
			}
			return nil, fmt.Errorf("apply extension %q: %w", h.Name(), err)
		}
	}
	return out, nil
}

type hookFunc struct {
	name  string
	apply func(g *schemagraph.Graph) error
}

func (h *hookFunc) Name() string                     { return h.name }
func (h *hookFunc) Apply(g *schemagraph.Graph) error { return h.apply(g) }

// Func returns a hook running apply.
func Func(name string, apply func(g *schemagraph.Graph) error) Hook {
	return &hookFunc{name: name, apply: apply}
}
