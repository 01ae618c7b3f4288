// Package llm defines the C3 LLM Client contract (§4.3): a narrow Provider
// interface implemented by a local backend (Ollama wire contract, §6.4) and
// two hosted backends (OpenAI, Anthropic), plus the ambient token-metrics,
// tokenizer-estimation, and context-window helpers shared by all of them.
package llm

import "context"

// CompleteOptions carries the knobs §4.3 names as opts on Complete/
// CompleteStream. Zero values mean "use the backend's default".
type CompleteOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	System      string
}

// ChunkHandler receives streamed completion text as it arrives.
type ChunkHandler func(chunk string)

// Provider is the C3 contract every backend (local/openai/anthropic)
// satisfies. Complete and CompleteStream differ only in whether the text
// arrives incrementally; both return the final concatenated text.
type Provider interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
	CompleteStream(ctx context.Context, prompt string, opts CompleteOptions, onChunk ChunkHandler) (string, error)
	Embed(ctx context.Context, text string, model string) ([]float32, error)
	Name() string
}

// Message is the minimal chat-formatted turn the hosted backends wire onto
// their chat-completions/messages APIs (§6.4); the local backend instead
// collapses prompt+system into Ollama's flat `prompt`/`system` fields.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}
