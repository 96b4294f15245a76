package task

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/events"
)

func TestHandleEventRecomputesProgress(t *testing.T) {
	t.Parallel()

	taskID := uuid.New()
	var recomputedID uuid.UUID
	mockStore := &MockTaskStore{
		RecomputeProgressFn: func(_ context.Context, id uuid.UUID) (*domain.Task, error) {
			recomputedID = id
			return &domain.Task{
				ID:             id,
				Status:         domain.TaskStatusCompleted,
				TotalItems:     2,
				CompletedItems: 2,
				Progress:       100,
			}, nil
		},
	}

	aggregator := NewProgressAggregator(mockStore, testLogger())
	event := events.NewItemTransitionEvent(taskID, uuid.New(), events.TransitionCompleted)

	require.NoError(t, aggregator.HandleEvent(context.Background(), event))
	assert.Equal(t, taskID, recomputedID)
}

func TestHandleEventWrapsRecomputeError(t *testing.T) {
	t.Parallel()

	recomputeErr := errors.New("deadlock detected")
	mockStore := &MockTaskStore{
		RecomputeProgressFn: func(_ context.Context, _ uuid.UUID) (*domain.Task, error) {
			return nil, recomputeErr
		},
	}

	aggregator := NewProgressAggregator(mockStore, testLogger())
	event := events.NewItemTransitionEvent(uuid.New(), uuid.New(), events.TransitionFailed)

	err := aggregator.HandleEvent(context.Background(), event)
	assert.ErrorIs(t, err, recomputeErr)
}
