package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/hoardline/taskcore/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLoggerAndFromContext(t *testing.T) {
	t.Parallel()

	t.Run("stores and retrieves logger", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		custom := slog.New(slog.NewJSONHandler(&buf, nil))

		ctx := logger.WithLogger(context.Background(), custom)
		got := logger.FromContext(ctx)
		require.Same(t, custom, got)

		got.Info("hello", "component", "test")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "hello", entry["msg"])
		assert.Equal(t, "test", entry["component"])
	})

	t.Run("falls back to default", func(t *testing.T) {
		t.Parallel()

		got := logger.FromContext(context.Background())
		assert.NotNil(t, got)
	})

	t.Run("nil logger panics", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			logger.WithLogger(context.Background(), nil)
		})
	})
}

func TestFromContextOrDefault(t *testing.T) {
	t.Parallel()

	def := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	tests := []struct {
		name string
		ctx  context.Context
		want *slog.Logger
	}{
		{"logger present", logger.WithLogger(context.Background(), custom), custom},
		{"logger absent", context.Background(), def},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Same(t, tt.want, logger.FromContextOrDefault(tt.ctx, def))
		})
	}
}
