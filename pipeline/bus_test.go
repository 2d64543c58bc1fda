package pipeline

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/errors"
)

func TestBusDispatchesToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var scanEvents, allEvents int32
	bus.Subscribe(EventScanCompleted, func(ctx context.Context, ev Event) error {
		atomic.AddInt32(&scanEvents, 1)
		return nil
	})
	bus.SubscribeAll(func(ctx context.Context, ev Event) error {
		atomic.AddInt32(&allEvents, 1)
		return nil
	})

	bus.Publish(context.Background(), Event{Name: EventScanCompleted})
	bus.Publish(context.Background(), Event{Name: EventWorkflowStarted})
	bus.Drain()

	assert.Equal(t, int32(1), atomic.LoadInt32(&scanEvents))
	assert.Equal(t, int32(2), atomic.LoadInt32(&allEvents))
}

func TestBusHandlerErrorDoesNotPropagate(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var after int32
	bus.Subscribe(EventScanCompleted, func(ctx context.Context, ev Event) error {
		return errors.New("stage blew up")
	})
	bus.Subscribe(EventScanCompleted, func(ctx context.Context, ev Event) error {
		atomic.AddInt32(&after, 1)
		return nil
	})

	bus.Publish(context.Background(), Event{Name: EventScanCompleted})
	bus.Drain()

	assert.Equal(t, int32(1), atomic.LoadInt32(&after),
		"one handler failing must not stop the others")
}

func TestBusHandlerPanicIsContained(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	bus.Subscribe(EventScanCompleted, func(ctx context.Context, ev Event) error {
		panic("handler bug")
	})

	bus.Publish(context.Background(), Event{Name: EventScanCompleted})
	bus.Drain()
	// reaching here without crashing is the assertion

	bus.Publish(context.Background(), Event{Name: EventScanCompleted})
	bus.Drain()
}
