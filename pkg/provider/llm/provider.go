// Package llm defines the large-language-model provider abstraction used
// by the report formatting gateway. Concrete backends live in the
// subpackages anyllm (multi-provider via github.com/mozilla-ai/any-llm-go)
// and openai (direct OpenAI SDK); mock provides a test double.
package llm

import "context"

// Message is a single chat message in a completion request.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// Usage reports token accounting for a completion, when the backend
// provides it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest describes a single chat completion call.
type CompletionRequest struct {
	// SystemPrompt, when non-empty, is prepended as a system message.
	SystemPrompt string

	// Messages is the conversation to complete, in order.
	Messages []Message

	// Temperature is the sampling temperature. Zero means backend default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int

	// JSONOnly asks the backend to constrain output to a single JSON
	// object. Backends without a native JSON mode ignore it; callers must
	// still instruct the model via prompt and parse defensively.
	JSONOnly bool
}

// CompletionResponse is the result of a completion call.
type CompletionResponse struct {
	// Content is the assistant's message text.
	Content string

	// Usage holds token counts when reported by the backend.
	Usage Usage
}

// Provider produces chat completions. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Complete performs a single blocking chat completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
