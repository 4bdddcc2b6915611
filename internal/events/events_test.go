package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"driftsync/internal/models"
)

func newTestRegistry() *Registry {
	logger := zerolog.Nop()
	return NewRegistry(&logger)
}

func TestRegistry_NotifyInOrder(t *testing.T) {
	r := newTestRegistry()

	var order []int
	r.Subscribe(func(_, _ models.NetworkStatus) { order = append(order, 1) })
	r.Subscribe(func(_, _ models.NetworkStatus) { order = append(order, 2) })
	r.Subscribe(func(_, _ models.NetworkStatus) { order = append(order, 3) })

	r.Notify(models.NetworkOffline, models.NetworkOnline)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := newTestRegistry()

	var calls int
	id := r.Subscribe(func(_, _ models.NetworkStatus) { calls++ })
	r.Subscribe(func(_, _ models.NetworkStatus) { calls++ })

	r.Unsubscribe(id)
	assert.Equal(t, 1, r.Len())

	r.Notify(models.NetworkOnline, models.NetworkOffline)
	assert.Equal(t, 1, calls)

	// Unknown handle is a no-op.
	r.Unsubscribe(999)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_PanicIsolation(t *testing.T) {
	r := newTestRegistry()

	var reached bool
	r.Subscribe(func(_, _ models.NetworkStatus) { panic("bad subscriber") })
	r.Subscribe(func(_, _ models.NetworkStatus) { reached = true })

	assert.NotPanics(t, func() {
		r.Notify(models.NetworkOffline, models.NetworkOnline)
	})
	assert.True(t, reached)
}

func TestRegistry_PassesTransition(t *testing.T) {
	r := newTestRegistry()

	var gotOld, gotNew models.NetworkStatus
	r.Subscribe(func(oldStatus, newStatus models.NetworkStatus) {
		gotOld, gotNew = oldStatus, newStatus
	})

	r.Notify(models.NetworkUnknown, models.NetworkOnline)
	assert.Equal(t, models.NetworkUnknown, gotOld)
	assert.Equal(t, models.NetworkOnline, gotNew)
}
