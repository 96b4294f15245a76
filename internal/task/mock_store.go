package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/store"
)

// MockTaskStore is a configurable mock implementation of store.TaskStore
// for testing. Each method delegates to the corresponding Fn field when
// set and otherwise returns the zero value.
type MockTaskStore struct {
	CreateTaskWithItemsFn func(ctx context.Context, task *domain.Task, items []*domain.TaskItem) error
	GetTaskFn             func(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	GetTaskItemsFn        func(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskItem, error)
	GetTaskItemFn         func(ctx context.Context, itemID uuid.UUID) (*domain.TaskItem, error)
	UpdateTaskStatusFn    func(ctx context.Context, taskID uuid.UUID, status domain.TaskStatus) error
	SetItemJobHandleFn    func(ctx context.Context, itemID uuid.UUID, handle string) error
	ClaimItemFn           func(ctx context.Context, itemID uuid.UUID) (bool, error)
	CompleteItemFn        func(ctx context.Context, itemID uuid.UUID, result json.RawMessage) error
	FailItemFn            func(ctx context.Context, itemID uuid.UUID, errorMessage string) error
	ResetItemForRetryFn   func(ctx context.Context, itemID uuid.UUID) error
	ListItemsByStatusFn   func(ctx context.Context, taskID uuid.UUID, status domain.ItemStatus) ([]*domain.TaskItem, error)
	ListStuckItemsFn      func(ctx context.Context, olderThan time.Duration) ([]*domain.TaskItem, error)
	ListUnqueuedItemsFn   func(ctx context.Context, olderThan time.Duration) ([]*domain.TaskItem, error)
	RecomputeProgressFn   func(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	CancelTaskFn          func(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	CountItemsForQueueFn  func(ctx context.Context, queueName string) (store.ItemCounts, error)
	DeleteTaskFn          func(ctx context.Context, taskID uuid.UUID) error
}

var _ store.TaskStore = (*MockTaskStore)(nil)

func (m *MockTaskStore) CreateTaskWithItems(ctx context.Context, task *domain.Task, items []*domain.TaskItem) error {
	if m.CreateTaskWithItemsFn != nil {
		return m.CreateTaskWithItemsFn(ctx, task, items)
	}
	return nil
}

func (m *MockTaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	if m.GetTaskFn != nil {
		return m.GetTaskFn(ctx, taskID)
	}
	return nil, store.ErrTaskNotFound
}

func (m *MockTaskStore) GetTaskItems(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskItem, error) {
	if m.GetTaskItemsFn != nil {
		return m.GetTaskItemsFn(ctx, taskID)
	}
	return nil, nil
}

func (m *MockTaskStore) GetTaskItem(ctx context.Context, itemID uuid.UUID) (*domain.TaskItem, error) {
	if m.GetTaskItemFn != nil {
		return m.GetTaskItemFn(ctx, itemID)
	}
	return nil, store.ErrTaskItemNotFound
}

func (m *MockTaskStore) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status domain.TaskStatus) error {
	if m.UpdateTaskStatusFn != nil {
		return m.UpdateTaskStatusFn(ctx, taskID, status)
	}
	return nil
}

func (m *MockTaskStore) SetItemJobHandle(ctx context.Context, itemID uuid.UUID, handle string) error {
	if m.SetItemJobHandleFn != nil {
		return m.SetItemJobHandleFn(ctx, itemID, handle)
	}
	return nil
}

func (m *MockTaskStore) ClaimItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	if m.ClaimItemFn != nil {
		return m.ClaimItemFn(ctx, itemID)
	}
	return true, nil
}

func (m *MockTaskStore) CompleteItem(ctx context.Context, itemID uuid.UUID, result json.RawMessage) error {
	if m.CompleteItemFn != nil {
		return m.CompleteItemFn(ctx, itemID, result)
	}
	return nil
}

func (m *MockTaskStore) FailItem(ctx context.Context, itemID uuid.UUID, errorMessage string) error {
	if m.FailItemFn != nil {
		return m.FailItemFn(ctx, itemID, errorMessage)
	}
	return nil
}

func (m *MockTaskStore) ResetItemForRetry(ctx context.Context, itemID uuid.UUID) error {
	if m.ResetItemForRetryFn != nil {
		return m.ResetItemForRetryFn(ctx, itemID)
	}
	return nil
}

func (m *MockTaskStore) ListItemsByStatus(ctx context.Context, taskID uuid.UUID, status domain.ItemStatus) ([]*domain.TaskItem, error) {
	if m.ListItemsByStatusFn != nil {
		return m.ListItemsByStatusFn(ctx, taskID, status)
	}
	return nil, nil
}

func (m *MockTaskStore) ListStuckItems(ctx context.Context, olderThan time.Duration) ([]*domain.TaskItem, error) {
	if m.ListStuckItemsFn != nil {
		return m.ListStuckItemsFn(ctx, olderThan)
	}
	return nil, nil
}

func (m *MockTaskStore) ListUnqueuedItems(ctx context.Context, olderThan time.Duration) ([]*domain.TaskItem, error) {
	if m.ListUnqueuedItemsFn != nil {
		return m.ListUnqueuedItemsFn(ctx, olderThan)
	}
	return nil, nil
}

func (m *MockTaskStore) RecomputeProgress(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	if m.RecomputeProgressFn != nil {
		return m.RecomputeProgressFn(ctx, taskID)
	}
	return &domain.Task{ID: taskID, Status: domain.TaskStatusRunning}, nil
}

func (m *MockTaskStore) CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	if m.CancelTaskFn != nil {
		return m.CancelTaskFn(ctx, taskID)
	}
	return &domain.Task{ID: taskID, Status: domain.TaskStatusCancelled}, nil
}

func (m *MockTaskStore) CountItemsForQueue(ctx context.Context, queueName string) (store.ItemCounts, error) {
	if m.CountItemsForQueueFn != nil {
		return m.CountItemsForQueueFn(ctx, queueName)
	}
	return store.ItemCounts{}, nil
}

func (m *MockTaskStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	if m.DeleteTaskFn != nil {
		return m.DeleteTaskFn(ctx, taskID)
	}
	return nil
}

// WithTx returns the mock itself; transaction scoping is not simulated.
func (m *MockTaskStore) WithTx(_ *sql.Tx) store.TaskStore {
	return m
}
