// Package events decouples task item status transitions from the
// components that react to them. The job executor emits an event after
// every terminal-or-retried item transition; the progress aggregator is a
// registered handler. Status writes are the sole trigger for progress
// recomputation; nothing polls.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ItemTransition names the transition an item just made.
type ItemTransition string

// Item transitions that handlers are notified about.
const (
	// TransitionCompleted fires when an item finishes successfully.
	TransitionCompleted ItemTransition = "completed"

	// TransitionFailed fires when an item fails permanently.
	TransitionFailed ItemTransition = "failed"

	// TransitionRetried fires when a failed item is reset to pending for
	// another attempt.
	TransitionRetried ItemTransition = "retried"
)

// ItemTransitionEvent records one task item's status transition.
type ItemTransitionEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// TaskID identifies the parent task whose aggregate is affected.
	TaskID uuid.UUID `json:"task_id"`

	// TaskItemID identifies the item that transitioned.
	TaskItemID uuid.UUID `json:"task_item_id"`

	// Transition is what happened to the item.
	Transition ItemTransition `json:"transition"`

	// OccurredAt is when the transition was committed.
	OccurredAt time.Time `json:"occurred_at"`
}

// NewItemTransitionEvent creates an event for the given item transition.
func NewItemTransitionEvent(taskID, taskItemID uuid.UUID, transition ItemTransition) *ItemTransitionEvent {
	return &ItemTransitionEvent{
		ID:         uuid.New(),
		TaskID:     taskID,
		TaskItemID: taskItemID,
		Transition: transition,
		OccurredAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that react to item
// transitions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *ItemTransitionEvent) error
}

// EventEmitter defines an interface for components that publish item
// transitions without direct knowledge of the handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *ItemTransitionEvent) error
}
