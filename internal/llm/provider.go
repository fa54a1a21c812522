// Package llm defines the provider-agnostic interface for LLM completions.
package llm

import "context"

// Provider is the abstraction over any LLM backend (OpenAI, Anthropic, Ollama).
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// ResponseFormatJSON constrains the model to emit a single JSON object.
// Providers with a native JSON mode enable it; others ignore the hint
// and rely on the prompt.
const ResponseFormatJSON = "json_object"

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt   string
	Messages       []Message
	MaxTokens      int
	ResponseFormat string // "" = free text, ResponseFormatJSON = JSON object.
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Name    string // Speaker attribution in multi-party transcripts. Optional.
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the LLM returns.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens"
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
