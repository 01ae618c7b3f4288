// Package openai adapts the hosted OpenAI chat-completions backend to the
// C3 Provider contract, grounded on the teacher's internal/llm/openai
// client (same SDK, same request-span/redacted-logging wiring) but trimmed
// to the three operations §4.3 actually names: no tool-calling, no image
// generation, no Responses-API fallback.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"taskpilot/internal/config"
	"taskpilot/internal/llm"
	"taskpilot/internal/observability"
)

// Client implements llm.Provider against OpenAI's chat-completions and
// embeddings APIs (§6.4's hosted wire shape).
type Client struct {
	sdk        sdk.Client
	model      string
	embedModel string
}

// New constructs a Client from the resolved OpenAI backend configuration.
func New(cfg config.OpenAI, httpClient *http.Client) (*Client, error) {
	if !cfg.Enabled {
		return nil, errors.New("openai backend not enabled")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model, embedModel: "text-embedding-3-small"}, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Complete(ctx context.Context, prompt string, opts llm.CompleteOptions) (string, error) {
	params := c.buildParams(prompt, opts)
	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Complete", string(params.Model), 0, len(params.Messages))
	defer span.End()

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("openai_complete_error")
		span.RecordError(err)
		return "", fmt.Errorf("openai complete: %w", err)
	}
	if comp.Usage.TotalTokens > 0 {
		llm.RecordTokenMetrics(string(params.Model), int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens))
		llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	}
	if len(comp.Choices) == 0 {
		return "", errors.New("openai complete: no choices returned")
	}
	return comp.Choices[0].Message.Content, nil
}

func (c *Client) CompleteStream(ctx context.Context, prompt string, opts llm.CompleteOptions, onChunk llm.ChunkHandler) (string, error) {
	params := c.buildParams(prompt, opts)
	params.StreamOptions.IncludeUsage = sdk.Bool(true)
	ctx, span := llm.StartRequestSpan(ctx, "OpenAI CompleteStream", string(params.Model), 0, len(params.Messages))
	defer span.End()

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	var out string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out += delta
		onChunk(delta)
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		return out, fmt.Errorf("openai complete stream: %w", err)
	}
	return out, nil
}

func (c *Client) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	m := model
	if m == "" {
		m = c.embedModel
	}
	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Embed", m, 0, 1)
	defer span.End()
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(m),
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(text)},
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embed: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}

func (c *Client) buildParams(prompt string, opts llm.CompleteOptions) sdk.ChatCompletionNewParams {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(model)}
	if opts.System != "" {
		params.Messages = append(params.Messages, sdk.SystemMessage(opts.System))
	}
	params.Messages = append(params.Messages, sdk.UserMessage(prompt))
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(opts.MaxTokens))
	}
	return params
}
