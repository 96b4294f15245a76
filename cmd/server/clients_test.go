package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/jobs"
)

func TestHTTPFetcherFetchesDocument(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "taskcore-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer server.Close()

	fetcher := newHTTPFetcher()
	raw, err := fetcher.Fetch(context.Background(), server.URL, "link", domain.ParsingConfig{
		FetchFullContent: true,
		UserAgent:        "taskcore-test",
	})
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, server.URL, payload["url"])
	assert.Equal(t, float64(http.StatusOK), payload["status"])
	assert.Equal(t, "text/html", payload["content_type"])
	assert.Equal(t, "<html>hello</html>", payload["content"])
}

func TestHTTPFetcherRejectsNonURLItem(t *testing.T) {
	t.Parallel()

	fetcher := newHTTPFetcher()
	_, err := fetcher.Fetch(context.Background(), "note-42", "note", domain.ParsingConfig{})
	require.Error(t, err)
	assert.False(t, jobs.IsRetryable(err))
	assert.Equal(t, jobs.ErrorKindInvalidItem, jobs.Classify(err))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		wantErr   bool
		retryable bool
		kind      jobs.ErrorKind
	}{
		{status: http.StatusOK, wantErr: false},
		{status: http.StatusNoContent, wantErr: false},
		{status: http.StatusTooManyRequests, wantErr: true, retryable: true, kind: jobs.ErrorKindRateLimited},
		{status: http.StatusNotFound, wantErr: true, retryable: false, kind: jobs.ErrorKindNotFound},
		{status: http.StatusForbidden, wantErr: true, retryable: false, kind: jobs.ErrorKindAuth},
		{status: http.StatusBadGateway, wantErr: true, retryable: true, kind: jobs.ErrorKindUnavailable},
		{status: http.StatusUnprocessableEntity, wantErr: true, retryable: false, kind: jobs.ErrorKindInvalidItem},
	}

	for _, tc := range tests {
		err := classifyStatus(tc.status)
		if !tc.wantErr {
			assert.NoError(t, err, "status %d", tc.status)
			continue
		}
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.retryable, jobs.IsRetryable(err), "status %d", tc.status)
		assert.Equal(t, tc.kind, jobs.Classify(err), "status %d", tc.status)
	}
}

func TestTokenEnricherDerivesTags(t *testing.T) {
	t.Parallel()

	raw, err := tokenEnricher{}.Enrich(context.Background(), "https://example.com/go-concurrency-patterns", "link", domain.AIConfig{
		Model:    "local",
		TagCount: 3,
		Language: "en",
	})
	require.NoError(t, err)

	var payload struct {
		Model string   `json:"model"`
		Tags  []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "local", payload.Model)
	assert.Len(t, payload.Tags, 3)
	assert.Contains(t, payload.Tags, "example")
}

func TestWebhookExporterDelivers(t *testing.T) {
	t.Parallel()

	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	exporter := newWebhookExporter()
	raw, err := exporter.Export(context.Background(), "link-7", "link", domain.ExportConfig{
		Destination: server.URL,
		Format:      "json",
	})
	require.NoError(t, err)

	assert.Equal(t, "link-7", received["item_id"])
	assert.Equal(t, "json", received["format"])

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, float64(http.StatusAccepted), payload["status"])
}

func TestWebhookExporterRetryableOnServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	exporter := newWebhookExporter()
	_, err := exporter.Export(context.Background(), "link-7", "link", domain.ExportConfig{
		Destination: server.URL,
	})
	require.Error(t, err)
	assert.True(t, jobs.IsRetryable(err))
	assert.Equal(t, jobs.ErrorKindUnavailable, jobs.Classify(err))
}
