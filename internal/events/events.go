// Package events provides the ordered observer registry used for
// network status change notification.
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"driftsync/internal/models"
)

// TransitionCallback observes a network status change.
type TransitionCallback func(oldStatus, newStatus models.NetworkStatus)

type subscriber struct {
	id int
	fn TransitionCallback
}

// Registry is an explicit, ordered list of transition callbacks.
// Callbacks run synchronously in registration order; a panicking
// callback is logged and isolated so it never prevents the rest from
// running.
type Registry struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int
	logger zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a callback and returns its handle.
func (r *Registry) Subscribe(fn TransitionCallback) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.subs = append(r.subs, subscriber{id: r.nextID, fn: fn})
	return r.nextID
}

// Unsubscribe removes a callback by handle. Unknown handles are a
// no-op.
func (r *Registry) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subs {
		if sub.id == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

// Notify invokes every registered callback with the transition.
func (r *Registry) Notify(oldStatus, newStatus models.NetworkStatus) {
	r.mu.Lock()
	subs := append([]subscriber(nil), r.subs...)
	r.mu.Unlock()

	for _, sub := range subs {
		r.invoke(sub, oldStatus, newStatus)
	}
}

func (r *Registry) invoke(sub subscriber, oldStatus, newStatus models.NetworkStatus) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Int("callback_id", sub.id).
				Str("panic", fmt.Sprint(rec)).
				Msg("status callback panicked")
		}
	}()
	sub.fn(oldStatus, newStatus)
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
