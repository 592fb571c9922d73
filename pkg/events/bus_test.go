package events

import (
	"context"
	"testing"

	"simfleet/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestBus_DispatchesByType(t *testing.T) {
	bus := NewBus()

	var created, paused []string
	bus.Subscribe(model.EventWorkerCreated, func(_ context.Context, ev model.Event) {
		created = append(created, ev.WorkerID)
	})
	bus.Subscribe(model.EventWorkerPaused, func(_ context.Context, ev model.Event) {
		paused = append(paused, ev.WorkerID)
	})

	bus.Publish(context.Background(),
		model.NewEvent(model.EventWorkerCreated, "w-1", nil),
		model.NewEvent(model.EventWorkerPaused, "w-2", nil),
		model.NewEvent(model.EventWorkerCreated, "w-3", nil),
	)

	assert.Equal(t, []string{"w-1", "w-3"}, created)
	assert.Equal(t, []string{"w-2"}, paused)
}

func TestBus_SubscribeAllSeesEverything(t *testing.T) {
	bus := NewBus()

	var all []model.EventType
	bus.SubscribeAll(func(_ context.Context, ev model.Event) {
		all = append(all, ev.Type)
	})

	bus.Publish(context.Background(),
		model.NewEvent(model.EventWorkerCreated, "w-1", nil),
		model.NewEvent(model.EventMetricsChanged, "w-1", nil),
	)

	assert.Equal(t, []model.EventType{model.EventWorkerCreated, model.EventMetricsChanged}, all)
}

func TestBus_HandlersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.Subscribe(model.EventWorkerCreated, func(_ context.Context, _ model.Event) {
		order = append(order, "first")
	})
	bus.Subscribe(model.EventWorkerCreated, func(_ context.Context, _ model.Event) {
		order = append(order, "second")
	})

	bus.Publish(context.Background(), model.NewEvent(model.EventWorkerCreated, "w-1", nil))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_PanickingHandlerIsContained(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(model.EventWorkerCreated, func(_ context.Context, _ model.Event) {
		panic("subscriber bug")
	})
	delivered := false
	bus.Subscribe(model.EventWorkerCreated, func(_ context.Context, _ model.Event) {
		delivered = true
	})

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), model.NewEvent(model.EventWorkerCreated, "w-1", nil))
	})
	assert.True(t, delivered, "one broken subscriber must not starve its peers")
}

func TestBus_NilHandlerIgnored(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(model.EventWorkerCreated, nil)
	bus.SubscribeAll(nil)

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), model.NewEvent(model.EventWorkerCreated, "w-1", nil))
	})
}
