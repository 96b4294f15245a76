package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/jobs"
)

// The reference clients below back the three job kinds when the server
// runs standalone. Deployments embedding the core as a library register
// their own jobs.Handler implementations instead.

// maxFetchedBodyBytes caps how much of a fetched document is stored on
// the item.
const maxFetchedBodyBytes = 256 * 1024

// httpFetcher fetches link items over HTTP. The item ID is the URL.
type httpFetcher struct {
	client *http.Client
}

func newHTTPFetcher() *httpFetcher {
	return &httpFetcher{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *httpFetcher) Fetch(ctx context.Context, itemID, _ string, cfg domain.ParsingConfig) (json.RawMessage, error) {
	if !strings.HasPrefix(itemID, "http://") && !strings.HasPrefix(itemID, "https://") {
		return nil, jobs.NewPermanent(jobs.ErrorKindInvalidItem, fmt.Sprintf("item %q is not a fetchable URL", itemID), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, itemID, nil)
	if err != nil {
		return nil, jobs.NewPermanent(jobs.ErrorKindInvalidItem, "building request", err)
	}
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, jobs.NewRetryable(jobs.ErrorKindUnavailable, "fetching document", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"url":          itemID,
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
	}

	if cfg.FetchFullContent {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedBodyBytes))
		if err != nil {
			return nil, jobs.NewRetryable(jobs.ErrorKindUnavailable, "reading body", err)
		}
		payload["content"] = string(body)
	}

	return json.Marshal(payload)
}

// tokenEnricher derives tags from the item identifier itself. It is a
// deterministic stand-in for a hosted model client.
// TODO: swap in a real model-backed enricher once one is provisioned.
type tokenEnricher struct{}

func (tokenEnricher) Enrich(_ context.Context, itemID, itemType string, cfg domain.AIConfig) (json.RawMessage, error) {
	tokens := strings.FieldsFunc(strings.ToLower(itemID), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	seen := make(map[string]bool)
	tags := make([]string, 0, cfg.TagCount)
	for _, token := range tokens {
		if len(token) < 3 || seen[token] {
			continue
		}
		seen[token] = true
		tags = append(tags, token)
		if cfg.TagCount > 0 && len(tags) >= cfg.TagCount {
			break
		}
	}

	return json.Marshal(map[string]interface{}{
		"item_type": itemType,
		"model":     cfg.Model,
		"language":  cfg.Language,
		"tags":      tags,
	})
}

// webhookExporter delivers item references to the destination URL from
// the export config.
type webhookExporter struct {
	client *http.Client
}

func newWebhookExporter() *webhookExporter {
	return &webhookExporter{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *webhookExporter) Export(ctx context.Context, itemID, itemType string, cfg domain.ExportConfig) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{
		"item_id":   itemID,
		"item_type": itemType,
		"format":    cfg.Format,
	})
	if err != nil {
		return nil, jobs.NewPermanent(jobs.ErrorKindInternal, "encoding export payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Destination, bytes.NewReader(body))
	if err != nil {
		return nil, jobs.NewPermanent(jobs.ErrorKindInvalidItem, "building export request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, jobs.NewRetryable(jobs.ErrorKindUnavailable, "delivering export", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]interface{}{
		"destination": cfg.Destination,
		"status":      resp.StatusCode,
	})
}

// classifyStatus converts an HTTP response code into the job error
// taxonomy. 2xx is success; 429 and 5xx are transient; other 4xx are
// permanent.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return jobs.NewRetryable(jobs.ErrorKindRateLimited, fmt.Sprintf("upstream returned %d", status), nil)
	case status == http.StatusNotFound:
		return jobs.NewPermanent(jobs.ErrorKindNotFound, fmt.Sprintf("upstream returned %d", status), nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return jobs.NewPermanent(jobs.ErrorKindAuth, fmt.Sprintf("upstream returned %d", status), nil)
	case status >= 500:
		return jobs.NewRetryable(jobs.ErrorKindUnavailable, fmt.Sprintf("upstream returned %d", status), nil)
	default:
		return jobs.NewPermanent(jobs.ErrorKindInvalidItem, fmt.Sprintf("upstream returned %d", status), nil)
	}
}
