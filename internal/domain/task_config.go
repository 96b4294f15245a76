package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TaskConfig is the typed per-kind configuration attached to a task and
// passed read-only to the job handler. Each kind has its own struct so
// malformed config is caught at batch creation, not at execution time.
type TaskConfig interface {
	// Kind returns the task kind this config belongs to.
	Kind() TaskKind

	// Validate checks the config fields for the kind's requirements.
	Validate() error
}

// ParsingConfig configures content fetch/parse batches.
type ParsingConfig struct {
	// FetchFullContent requests a full-page crawl instead of metadata only.
	FetchFullContent bool `json:"fetch_full_content"`

	// UserAgent overrides the crawler's user agent when non-empty.
	UserAgent string `json:"user_agent,omitempty"`
}

// Kind returns TaskKindParsing.
func (c ParsingConfig) Kind() TaskKind { return TaskKindParsing }

// Validate always succeeds: all parsing fields are optional.
func (c ParsingConfig) Validate() error { return nil }

// AIConfig configures AI-enrichment batches.
type AIConfig struct {
	// Model names the enrichment model to use. Empty selects the service
	// default.
	Model string `json:"model,omitempty"`

	// TagCount is the number of tags to request per item.
	TagCount int `json:"tag_count,omitempty"`

	// Language is the ISO language code for generated text.
	Language string `json:"language,omitempty"`
}

// Kind returns TaskKindAI.
func (c AIConfig) Kind() TaskKind { return TaskKindAI }

// Validate checks that the tag count is within the supported range.
func (c AIConfig) Validate() error {
	if c.TagCount < 0 || c.TagCount > 50 {
		return fmt.Errorf("%w: tag_count must be between 0 and 50", ErrInvalidConfig)
	}
	return nil
}

// ExportConfig configures export batches.
type ExportConfig struct {
	// Destination identifies the external export target. Required.
	Destination string `json:"destination"`

	// Format is the export payload format (e.g. "json", "html").
	Format string `json:"format,omitempty"`
}

// Kind returns TaskKindExport.
func (c ExportConfig) Kind() TaskKind { return TaskKindExport }

// Validate checks that a destination is set.
func (c ExportConfig) Validate() error {
	if c.Destination == "" {
		return fmt.Errorf("%w: export destination is required", ErrInvalidConfig)
	}
	return nil
}

// ParseConfig decodes and validates raw JSON config for the given kind.
// A nil or empty payload yields the kind's zero config, which must itself
// validate (so kinds with required fields reject empty config).
func ParseConfig(kind TaskKind, raw json.RawMessage) (TaskConfig, error) {
	var cfg TaskConfig
	switch kind {
	case TaskKindParsing:
		var c ParsingConfig
		if err := unmarshalConfig(raw, &c); err != nil {
			return nil, err
		}
		cfg = c
	case TaskKindAI:
		var c AIConfig
		if err := unmarshalConfig(raw, &c); err != nil {
			return nil, err
		}
		cfg = c
	case TaskKindExport:
		var c ExportConfig
		if err := unmarshalConfig(raw, &c); err != nil {
			return nil, err
		}
		cfg = c
	default:
		return nil, ErrInvalidTaskKind
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EncodeConfig serializes a TaskConfig for storage.
func EncodeConfig(cfg TaskConfig) (json.RawMessage, error) {
	if cfg == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task config: %w", err)
	}
	return data, nil
}

func unmarshalConfig(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
