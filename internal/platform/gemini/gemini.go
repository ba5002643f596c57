// Package gemini adapts Google's Gemini API to the enrich.Enricher
// boundary. Transient API failures are retried with capped exponential
// backoff; safety blocks and unparseable responses are permanent and
// surface immediately.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"google.golang.org/genai"

	"github.com/plumehq/plume-jobs/internal/backoff"
	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/enrich"
)

const (
	defaultMaxAttempts = 3
	retryBase          = 2 * time.Second
	retryCap           = 30 * time.Second
)

// promptTemplate shapes the single prompt sent per enrichment. The model is
// told to answer with strict JSON so the response decodes into
// enrich.Result.
const promptTemplate = `You rewrite draft content for publication.
{{- if .Platform}}
Target platform: {{.Platform}}. Match its conventions for length and structure.
{{- end}}
{{- if .Tone}}
Voice: {{.Tone}}.
{{- else}}
Voice: clear and direct.
{{- end}}
Respond with a single JSON object with the fields "title", "body",
"summary", and "tags" (an array of short strings). "body" carries the full
rewritten piece. Do not wrap the JSON in markdown fences.

Source content:
{{.Content}}`

// Enricher implements enrich.Enricher against the Gemini API.
type Enricher struct {
	logger      *slog.Logger
	client      *genai.Client
	model       string
	prompt      *template.Template
	strategy    backoff.Strategy
	maxAttempts int
}

// NewEnricher builds a Gemini-backed enricher from the LLM configuration.
// The context is only used for client construction.
func NewEnricher(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Enricher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", enrich.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", enrich.ErrInvalidConfig)
	}

	prompt, err := template.New("enrich").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", enrich.ErrInvalidConfig, err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gemini client: %v", enrich.ErrInvalidConfig, err)
	}

	return &Enricher{
		logger:      logger.With(slog.String("component", "gemini_enricher")),
		client:      client,
		model:       cfg.Model,
		prompt:      prompt,
		strategy:    backoff.NewExponentialWithJitter(retryBase, retryCap),
		maxAttempts: defaultMaxAttempts,
	}, nil
}

// Enrich renders the prompt and calls the model, retrying transient API
// failures up to the attempt budget.
func (e *Enricher) Enrich(ctx context.Context, req enrich.Request) (*enrich.Result, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, enrich.ErrEmptyContent
	}

	prompt, err := e.buildPrompt(req)
	if err != nil {
		return nil, err
	}

	genCfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	for attempt := 1; ; attempt++ {
		e.logger.DebugContext(ctx, "calling gemini",
			slog.String("model", e.model),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.maxAttempts))

		resp, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(prompt), genCfg)
		if err == nil {
			return decodeResponse(resp)
		}

		e.logger.WarnContext(ctx, "gemini call failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if attempt >= e.maxAttempts {
			return nil, fmt.Errorf("%w: exceeded %d attempts: %v", enrich.ErrTransientFailure, e.maxAttempts, err)
		}

		select {
		case <-time.After(e.strategy.Delay(attempt - 1)):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", enrich.ErrTransientFailure, ctx.Err())
		}
	}
}

// buildPrompt renders the prompt template with the request fields.
func (e *Enricher) buildPrompt(req enrich.Request) (string, error) {
	var buf bytes.Buffer
	if err := e.prompt.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}

// decodeResponse maps a model response onto an enrich.Result. Anything
// wrong here is permanent: the same prompt would fail the same way.
func decodeResponse(resp *genai.GenerateContentResponse) (*enrich.Result, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", enrich.ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, enrich.ErrContentBlocked
	}
	return parseResult(resp.Text())
}

// parseResult decodes the model's JSON payload, tolerating stray markdown
// fences some models emit despite instructions.
func parseResult(text string) (*enrich.Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response text", enrich.ErrInvalidResponse)
	}

	var result enrich.Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON: %v", enrich.ErrInvalidResponse, err)
	}
	if strings.TrimSpace(result.Body) == "" {
		return nil, fmt.Errorf("%w: response is missing a body", enrich.ErrInvalidResponse)
	}
	return &result, nil
}
