// Package hooks dispatches order status change side effects.
//
// Reconciliation applies provider state to orders and must not trigger the
// listeners that call back into the provider, so it runs its updates with a
// context returned by Suppress. Suppression follows the context, so other
// goroutines firing with their own context are not affected.
package hooks

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"go.uber.org/atomic"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
)

// StatusChangeListener reacts to a persisted status change.
type StatusChangeListener func(ctx context.Context, order *models.Order, from, to models.OrderStatus) error

// Registry holds the status change listeners.
type Registry struct {
	mu        sync.RWMutex
	listeners []StatusChangeListener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

var defaultRegistry = NewRegistry()

// Default returns the process wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a listener.
func (r *Registry) Register(l StatusChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

type scopeKey struct{}

// scope is one Suppress call. A context is suppressed while any scope in its
// chain is active.
type scope struct {
	parent *scope
	active atomic.Bool
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// Suppress returns a context under which Fire does nothing, until release is
// called. Calls nest. Calling release more than once has no further effect.
func Suppress(ctx context.Context) (context.Context, func()) {
	s := &scope{parent: scopeFrom(ctx)}
	s.active.Store(true)
	return context.WithValue(ctx, scopeKey{}, s), func() {
		s.active.Store(false)
	}
}

// Suppressed reports whether listeners are disabled for ctx.
func Suppressed(ctx context.Context) bool {
	for s := scopeFrom(ctx); s != nil; s = s.parent {
		if s.active.Load() {
			return true
		}
	}
	return false
}

// Fire runs every listener in registration order. It is a no-op when ctx is
// suppressed or when the status did not change. The first listener error is
// returned; later listeners still run.
func (r *Registry) Fire(ctx context.Context, order *models.Order, from, to models.OrderStatus) error {
	if from == to || Suppressed(ctx) {
		return nil
	}

	r.mu.RLock()
	listeners := append([]StatusChangeListener(nil), r.listeners...)
	r.mu.RUnlock()

	var firstErr error
	for _, l := range listeners {
		if err := l(ctx, order, from, to); err != nil {
			log.Warnf("[Hooks] Listener failed for order %d (%s -> %s): %v", order.ID, from, to, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
