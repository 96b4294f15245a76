package api

import (
	"encoding/json"
	"time"

	"github.com/hoardline/taskcore/internal/domain"
)

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID             string             `json:"id"`
	Kind           string             `json:"kind"`
	QueueName      string             `json:"queue_name"`
	Status         string             `json:"status"`
	TotalItems     int                `json:"total_items"`
	CompletedItems int                `json:"completed_items"`
	FailedItems    int                `json:"failed_items"`
	Progress       int                `json:"progress"`
	CreatedAt      time.Time          `json:"created_at"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	Items          []TaskItemResponse `json:"items,omitempty"`
}

// TaskItemResponse represents the response data for a task item.
type TaskItemResponse struct {
	ID           string          `json:"id"`
	ItemID       string          `json:"item_id"`
	ItemType     string          `json:"item_type"`
	Status       string          `json:"status"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ResultData   json.RawMessage `json:"result_data,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// taskToResponse converts a domain.Task to a TaskResponse.
func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:             task.ID.String(),
		Kind:           string(task.Kind),
		QueueName:      task.QueueName,
		Status:         string(task.Status),
		TotalItems:     task.TotalItems,
		CompletedItems: task.CompletedItems,
		FailedItems:    task.FailedItems,
		Progress:       task.Progress,
		CreatedAt:      task.CreatedAt,
		StartedAt:      task.StartedAt,
		CompletedAt:    task.CompletedAt,
	}
}

// itemToResponse converts a domain.TaskItem to a TaskItemResponse.
func itemToResponse(item *domain.TaskItem) TaskItemResponse {
	return TaskItemResponse{
		ID:           item.ID.String(),
		ItemID:       item.ItemID,
		ItemType:     item.ItemType,
		Status:       string(item.Status),
		RetryCount:   item.RetryCount,
		ErrorMessage: item.ErrorMessage,
		ResultData:   item.ResultData,
		StartedAt:    item.StartedAt,
		CompletedAt:  item.CompletedAt,
	}
}
