package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ispworks/sagaflow/pkg/channels/gochannel"
	"github.com/ispworks/sagaflow/pkg/eventbus"
	"github.com/ispworks/sagaflow/pkg/events"
	"github.com/ispworks/sagaflow/pkg/models"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 1)
	require.NoError(t, bus.Handle(events.WorkflowRequestedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	event := events.WorkflowRequested{
		BaseEvent: events.BaseEvent{
			ID:         "evt-1",
			Type:       events.WorkflowRequestedEvent,
			Timestamp:  time.Now().UTC(),
			WorkflowID: "wf-1",
		},
		WorkflowType: models.WorkflowTypeActivateService,
		TenantID:     "tenant-1",
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", event))

	select {
	case got := <-received:
		requested, ok := got.(*events.WorkflowRequested)
		require.True(t, ok)
		assert.Equal(t, "wf-1", requested.WorkflowID)
		assert.Equal(t, models.WorkflowTypeActivateService, requested.WorkflowType)
		assert.Equal(t, "tenant-1", requested.TenantID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnhandledEventTypesAreSkipped(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 2)
	require.NoError(t, bus.Handle(events.WorkflowCompletedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	// No handler is registered for failures; the message must be acked and
	// the subscription must keep delivering later events.
	failure := events.WorkflowFailed{
		BaseEvent: events.BaseEvent{ID: "evt-1", Type: events.WorkflowFailedEvent, WorkflowID: "wf-1"},
		Error:     "downstream rejected",
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", failure))

	completion := events.WorkflowCompleted{
		BaseEvent: events.BaseEvent{ID: "evt-2", Type: events.WorkflowCompletedEvent, WorkflowID: "wf-1"},
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", completion))

	select {
	case got := <-received:
		completed, ok := got.(*events.WorkflowCompleted)
		require.True(t, ok)
		assert.Equal(t, "wf-1", completed.WorkflowID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestGenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
