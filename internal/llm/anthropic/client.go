// Package anthropic adapts the hosted Anthropic Messages API backend to
// the C3 Provider contract, grounded on the teacher's
// internal/llm/anthropic client (same SDK, request-span/redacted-logging
// wiring) but trimmed to Complete/CompleteStream/Embed — no tool-calling,
// no extended-thinking, no prompt caching.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"taskpilot/internal/config"
	"taskpilot/internal/errs"
	"taskpilot/internal/llm"
	"taskpilot/internal/observability"
)

const defaultMaxTokens int64 = 1024

// Client implements llm.Provider against Anthropic's Messages API.
// Anthropic has no public embeddings endpoint, so Embed always fails with
// an Upstream error. C1's Embedding Client wraps the configured provider,
// so with this backend selected every embedding call returns that error.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func New(cfg config.Anthropic, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: missing API key")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}, nil
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Complete(ctx context.Context, prompt string, opts llm.CompleteOptions) (string, error) {
	params := c.buildParams(prompt, opts)
	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Complete", string(params.Model), 0, len(params.Messages))
	defer span.End()
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_complete_error")
		return "", fmt.Errorf("anthropic complete: %w", err)
	}
	llm.RecordTokenMetrics(string(params.Model), int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	llm.RecordTokenAttributes(span, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens), int(resp.Usage.InputTokens+resp.Usage.OutputTokens))

	var out strings.Builder
	for _, block := range resp.Content {
		if text := block.AsText(); text.Text != "" {
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}

func (c *Client) CompleteStream(ctx context.Context, prompt string, opts llm.CompleteOptions, onChunk llm.ChunkHandler) (string, error) {
	params := c.buildParams(prompt, opts)
	ctx, span := llm.StartRequestSpan(ctx, "Anthropic CompleteStream", string(params.Model), 0, len(params.Messages))
	defer span.End()

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	var out strings.Builder
	for stream.Next() {
		event := stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text := delta.Delta.Text
		if text == "" {
			continue
		}
		out.WriteString(text)
		onChunk(text)
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		return out.String(), fmt.Errorf("anthropic complete stream: %w", err)
	}
	return out.String(), nil
}

func (c *Client) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	return nil, errs.NewUpstream("anthropic: no embeddings endpoint", nil)
}

func (c *Client) buildParams(prompt string, opts llm.CompleteOptions) anthropic.MessageNewParams {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	return params
}
