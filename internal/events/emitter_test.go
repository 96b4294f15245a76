package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHandler implements EventHandler for testing
type mockHandler struct {
	events []*ItemTransitionEvent
	err    error
}

func (m *mockHandler) HandleEvent(_ context.Context, event *ItemTransitionEvent) error {
	m.events = append(m.events, event)
	return m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func TestEmitEventDeliversToAllHandlers(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEventEmitter(testLogger())
	first := &mockHandler{}
	second := &mockHandler{}
	emitter.RegisterHandler(first)
	emitter.RegisterHandler(second)

	event := NewItemTransitionEvent(uuid.New(), uuid.New(), TransitionCompleted)
	err := emitter.EmitEvent(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, event.ID, first.events[0].ID)
	assert.Equal(t, TransitionCompleted, first.events[0].Transition)
}

func TestEmitEventNoHandlers(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEventEmitter(testLogger())
	event := NewItemTransitionEvent(uuid.New(), uuid.New(), TransitionFailed)

	assert.NoError(t, emitter.EmitEvent(context.Background(), event))
}

func TestEmitEventHandlerErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEventEmitter(testLogger())
	failing := &mockHandler{err: errors.New("recompute failed")}
	healthy := &mockHandler{}
	emitter.RegisterHandler(failing)
	emitter.RegisterHandler(healthy)

	event := NewItemTransitionEvent(uuid.New(), uuid.New(), TransitionRetried)
	err := emitter.EmitEvent(context.Background(), event)

	assert.EqualError(t, err, "recompute failed")
	assert.Len(t, healthy.events, 1)
}
