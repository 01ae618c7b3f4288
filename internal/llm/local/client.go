// Package local implements the local LLM backend against Ollama's wire
// contract (§6.4): POST /api/embeddings and POST /api/generate, the latter
// either as a single JSON object or as an NDJSON stream of
// {response, done} objects. Grounded on the teacher's
// internal/embedding/client.go HTTP-client style (manual net/http,
// json.Marshal/Unmarshal, explicit timeout), generalised to the streaming
// generate endpoint.
package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskpilot/internal/config"
	"taskpilot/internal/llm"
)

const (
	completeTimeout = 120 * time.Second
	embedTimeout    = 30 * time.Second
)

// Client implements llm.Provider against a local Ollama server.
type Client struct {
	baseURL    string
	llmModel   string
	fastModel  string
	embedModel string
	httpClient *http.Client
}

func New(cfg config.Ollama, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, errors.New("local: missing OLLAMA_API_URL")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.APIURL, "/"),
		llmModel:   cfg.LLMModel,
		fastModel:  cfg.FastLLMModel,
		embedModel: cfg.EmbeddingModel,
		httpClient: httpClient,
	}, nil
}

func (c *Client) Name() string { return "local" }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Client) model(requested string) string {
	if requested != "" {
		return requested
	}
	if c.llmModel != "" {
		return c.llmModel
	}
	return c.fastModel
}

func (c *Client) options(opts llm.CompleteOptions) map[string]any {
	o := map[string]any{}
	if opts.Temperature > 0 {
		o["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		o["num_predict"] = opts.MaxTokens
	}
	if len(o) == 0 {
		return nil
	}
	return o
}

func (c *Client) Complete(ctx context.Context, prompt string, opts llm.CompleteOptions) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()
	req := generateRequest{
		Model:   c.model(opts.Model),
		Prompt:  prompt,
		System:  opts.System,
		Stream:  false,
		Options: c.options(opts),
	}
	body, resp, err := c.post(cctx, "/api/generate", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var chunk generateChunk
	if err := json.Unmarshal(body, &chunk); err != nil {
		return "", fmt.Errorf("local complete: decode response: %w", err)
	}
	return chunk.Response, nil
}

func (c *Client) CompleteStream(ctx context.Context, prompt string, opts llm.CompleteOptions, onChunk llm.ChunkHandler) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()
	req := generateRequest{
		Model:   c.model(opts.Model),
		Prompt:  prompt,
		System:  opts.System,
		Stream:  true,
		Options: c.options(opts),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("local complete stream: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("local complete stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("local complete stream: %s: %s", resp.Status, string(b))
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Response != "" {
			out.WriteString(chunk.Response)
			onChunk(chunk.Response)
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return out.String(), fmt.Errorf("local complete stream: read body: %w", err)
	}
	return out.String(), nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *Client) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()
	m := model
	if m == "" {
		m = c.embedModel
	}
	body, resp, err := c.post(cctx, "/api/embeddings", embedRequest{Model: m, Prompt: text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var er embedResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("local embed: decode response: %w", err)
	}
	return er.Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, *http.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("%s: %s: %s", path, resp.Status, string(b))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("%s: read body: %w", path, err)
	}
	// caller closes resp.Body; we've fully read it but keep the handle for
	// symmetry with CompleteStream's direct-resp path.
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, resp, nil
}
