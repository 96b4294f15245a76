package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/jobs"
)

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	handler := jobs.HandlerFunc(func(_ context.Context, _ jobs.Request) (jobs.Result, error) {
		return jobs.Result{}, nil
	})
	registry.Register(domain.TaskKindAI, handler)

	resolved, err := registry.Resolve(domain.TaskKindAI)
	require.NoError(t, err)
	assert.NotNil(t, resolved)

	_, err = registry.Resolve(domain.TaskKindExport)
	assert.ErrorIs(t, err, domain.ErrInvalidTaskKind)
}
