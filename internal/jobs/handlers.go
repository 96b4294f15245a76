package jobs

import (
	"context"
	"encoding/json"

	"github.com/hoardline/taskcore/internal/domain"
)

// ContentFetcher fetches and parses content for one item. Implementations
// live with the host application.
type ContentFetcher interface {
	Fetch(ctx context.Context, itemID, itemType string, cfg domain.ParsingConfig) (json.RawMessage, error)
}

// Enricher runs AI enrichment for one item.
type Enricher interface {
	Enrich(ctx context.Context, itemID, itemType string, cfg domain.AIConfig) (json.RawMessage, error)
}

// Exporter sends one item to an external export target.
type Exporter interface {
	Export(ctx context.Context, itemID, itemType string, cfg domain.ExportConfig) (json.RawMessage, error)
}

// ParsingHandler adapts a ContentFetcher to the Handler contract.
type ParsingHandler struct {
	fetcher ContentFetcher
}

// NewParsingHandler creates the handler for parsing jobs.
func NewParsingHandler(fetcher ContentFetcher) *ParsingHandler {
	return &ParsingHandler{fetcher: fetcher}
}

// Execute runs one content fetch/parse call.
func (h *ParsingHandler) Execute(ctx context.Context, req Request) (Result, error) {
	cfg, _ := req.Config.(domain.ParsingConfig)
	data, err := h.fetcher.Fetch(ctx, req.ItemID, req.ItemType, cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: data}, nil
}

// AIHandler adapts an Enricher to the Handler contract.
type AIHandler struct {
	enricher Enricher
}

// NewAIHandler creates the handler for AI-enrichment jobs.
func NewAIHandler(enricher Enricher) *AIHandler {
	return &AIHandler{enricher: enricher}
}

// Execute runs one enrichment call.
func (h *AIHandler) Execute(ctx context.Context, req Request) (Result, error) {
	cfg, _ := req.Config.(domain.AIConfig)
	data, err := h.enricher.Enrich(ctx, req.ItemID, req.ItemType, cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: data}, nil
}

// ExportHandler adapts an Exporter to the Handler contract.
type ExportHandler struct {
	exporter Exporter
}

// NewExportHandler creates the handler for export jobs.
func NewExportHandler(exporter Exporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

// Execute runs one export call.
func (h *ExportHandler) Execute(ctx context.Context, req Request) (Result, error) {
	cfg, _ := req.Config.(domain.ExportConfig)
	data, err := h.exporter.Export(ctx, req.ItemID, req.ItemType, cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: data}, nil
}
