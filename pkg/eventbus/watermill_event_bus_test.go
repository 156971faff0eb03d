package eventbus_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/playbook/pkg/channels/gochannel"
	"github.com/dukex/playbook/pkg/eventbus"
	"github.com/dukex/playbook/pkg/events"
	"github.com/dukex/playbook/pkg/mocks"
	"github.com/dukex/playbook/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.WithBuffer(10), gochannel.WithAckedDelivery())
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	received := make(chan events.Event, 1)

	require.NoError(t, bus.Handle(events.NodeCompletedEvent, func(_ context.Context, event events.Event) error {
		received <- event

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	execution := &models.Execution{ID: "exec-1", DefinitionID: "def-1"}
	state := &models.NodeState{NodeID: "a", Status: models.NodeStatusCompleted}

	// Unhandled types are acked and ignored.
	require.NoError(t, bus.Publish(ctx, execution.ID, events.NewNodeEvent(events.NodeStartedEvent, execution, state)))
	require.NoError(t, bus.Publish(ctx, execution.ID, events.NewNodeEvent(events.NodeCompletedEvent, execution, state)))

	select {
	case event := <-received:
		node, ok := event.(*events.NodeEvent)
		require.True(t, ok)
		assert.Equal(t, "a", node.NodeID)
		assert.Equal(t, "exec-1", node.GetExecutionID())
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_AnyEventHandler(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	received := make(chan events.EventType, 4)

	require.NoError(t, bus.Handle(eventbus.AnyEvent, func(_ context.Context, event events.Event) error {
		received <- event.GetType()

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	execution := &models.Execution{ID: "exec-2", DefinitionID: "def-2", Status: models.ExecutionStatusRunning}
	state := &models.NodeState{NodeID: "b", Status: models.NodeStatusSkipped}

	require.NoError(t, bus.Publish(ctx, execution.ID, events.NewExecutionEvent(events.ExecutionStartedEvent, execution)))
	require.NoError(t, bus.Publish(ctx, execution.ID, events.NewNodeEvent(events.NodeSkippedEvent, execution, state)))

	for _, want := range []events.EventType{events.ExecutionStartedEvent, events.NodeSkippedEvent} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("%s was not delivered", want)
		}
	}
}

func TestForwarder_PublishesUntilSourceCloses(t *testing.T) {
	t.Parallel()

	publisher := &mocks.MockEventBus{}
	source := make(chan events.Event, 2)

	execution := &models.Execution{ID: "exec-9", DefinitionID: "def-9", Status: models.ExecutionStatusRunning}
	started := events.NewExecutionEvent(events.ExecutionStartedEvent, execution)
	failed := events.NewExecutionEvent(events.ExecutionFailedEvent, execution)

	publisher.On("Publish", mock.Anything, "exec-9", started).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "exec-9", failed).Return(errors.New("broker down")).Once()

	source <- started
	source <- failed
	close(source)

	forwarder := eventbus.NewForwarder(source, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	forwarder.Run(context.Background())

	publisher.AssertExpectations(t)
	assert.Equal(t, []events.EventType{events.ExecutionStartedEvent, events.ExecutionFailedEvent}, publisher.PublishedTypes())
}
