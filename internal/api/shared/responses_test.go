package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)

	RespondWithJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"queued"}`, w.Body.String())
}

func TestRespondWithErrorIncludesTraceID(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r = r.WithContext(SetTraceID(r.Context()))

	RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Invalid task ID", body.Error)
	assert.Len(t, body.TraceID, 2*TraceIDLength)
}

func TestRespondWithErrorAndLogSanitizes(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)

	internal := errors.New("dial tcp: postgres://user:hunter2@db:5432 refused")
	RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "An unexpected error occurred", internal)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
	assert.Contains(t, w.Body.String(), "An unexpected error occurred")
}

func TestGetTraceIDMissing(t *testing.T) {
	t.Parallel()

	assert.Empty(t, GetTraceID(context.Background()))
}

func TestSetTraceIDUnique(t *testing.T) {
	t.Parallel()

	first := GetTraceID(SetTraceID(context.Background()))
	second := GetTraceID(SetTraceID(context.Background()))

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
