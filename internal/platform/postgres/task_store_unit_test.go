package postgres

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"nil error", nil, nil},
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, store.ErrDuplicate},
		{"foreign key violation", &pgconn.PgError{Code: "23503", ConstraintName: "task_items_task_id_fkey"}, store.ErrInvalidEntity},
		{"check violation", &pgconn.PgError{Code: "23514"}, store.ErrInvalidEntity},
		{"not null violation", &pgconn.PgError{Code: "23502", ColumnName: "status"}, store.ErrInvalidEntity},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mapped := MapError(tt.err)
			if tt.sentinel == nil {
				assert.NoError(t, mapped)
				return
			}
			assert.ErrorIs(t, mapped, tt.sentinel)
		})
	}

	t.Run("unmapped errors pass through", func(t *testing.T) {
		t.Parallel()

		original := errors.New("connection reset")
		assert.Equal(t, original, MapError(original))
	})
}

func TestRetryPolicyRoundTrip(t *testing.T) {
	t.Parallel()

	policy := domain.RetryPolicy{
		MaxRetries: 5,
		Delays:     []time.Duration{0, 15 * time.Second, 2 * time.Minute},
	}

	raw, err := encodeRetryPolicy(policy)
	require.NoError(t, err)

	decoded, err := decodeRetryPolicy(raw)
	require.NoError(t, err)
	assert.Equal(t, policy, decoded)
}

func TestResolveAggregate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		current      domain.TaskStatus
		completed    int
		failed       int
		total        int
		wantProgress int
		wantStatus   domain.TaskStatus
	}{
		{"all items succeed", domain.TaskStatusRunning, 3, 0, 3, 100, domain.TaskStatusCompleted},
		{"partial success still completes", domain.TaskStatusRunning, 3, 2, 5, 100, domain.TaskStatusCompleted},
		{"every item failed", domain.TaskStatusRunning, 0, 4, 4, 100, domain.TaskStatusFailed},
		{"mid-flight stays running", domain.TaskStatusRunning, 2, 1, 5, 60, domain.TaskStatusRunning},
		{"cancelled keeps its status", domain.TaskStatusCancelled, 1, 2, 5, 60, domain.TaskStatusCancelled},
		{"cancelled with all items finished stays cancelled", domain.TaskStatusCancelled, 2, 3, 5, 100, domain.TaskStatusCancelled},
		{"retry reopens a failed task", domain.TaskStatusFailed, 0, 2, 4, 50, domain.TaskStatusRunning},
		{"retry reopens a completed task", domain.TaskStatusCompleted, 3, 0, 4, 75, domain.TaskStatusRunning},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			progress, status := resolveAggregate(tt.current, tt.completed, tt.failed, tt.total)
			assert.Equal(t, tt.wantProgress, progress)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestDecodeRetryPolicyInvalid(t *testing.T) {
	t.Parallel()

	_, err := decodeRetryPolicy([]byte(`{`))
	assert.Error(t, err)
}
