// Package enrich rewrites source content into platform-ready variants with
// a language model. It defines the Enricher boundary the content_enrich
// task handler calls through, keeping LLM provider details out of the
// engine core.
package enrich

import (
	"context"
	"errors"
)

// Common errors returned by enricher implementations.
var (
	// ErrInvalidConfig is returned when the enricher configuration is invalid.
	ErrInvalidConfig = errors.New("invalid enricher configuration")

	// ErrEmptyContent is returned when there is no content to enrich.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrContentBlocked is returned when the model refuses the content on
	// safety grounds. Retrying the same content will not help.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidResponse is returned when the model's response cannot be
	// parsed into a Result.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrTransientFailure is returned for temporary upstream errors that
	// may resolve on retry.
	ErrTransientFailure = errors.New("transient error during content enrichment")
)

// Request carries the source content and the shaping hints the model works
// from. Platform names the target surface ("medium", "linkedin", ...) and
// selects the output register; Tone optionally overrides the default voice.
type Request struct {
	Content  string `json:"content"`
	Platform string `json:"platform,omitempty"`
	Tone     string `json:"tone,omitempty"`
}

// Result is one enriched variant of the source content.
type Result struct {
	Title   string   `json:"title,omitempty"`
	Body    string   `json:"body"`
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Enricher produces an enriched variant of one piece of content. It is the
// boundary between the engine and external LLM services; implementations
// live under internal/platform.
type Enricher interface {
	Enrich(ctx context.Context, req Request) (*Result, error)
}
