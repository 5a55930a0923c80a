// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat-completion API (LM Studio's
// OpenAI-compatible server by default, or any backend supported by
// any-llm-go) behind a uniform, SDK-free interface.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt, if set, is sent as a leading "system" message.
	SystemPrompt string

	// Temperature controls output randomness. Zero uses the backend default.
	Temperature float64

	// TopP is the nucleus sampling mass. Zero uses the backend default.
	TopP float64

	// MaxTokens caps the number of completion tokens. Zero uses the backend
	// default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply, trimmed.
	Content string

	// FinishReason is why generation stopped ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages occupy in the model's
	// context window. It need not be exact but should not undercount.
	CountTokens(messages []Message) (int, error)
}
