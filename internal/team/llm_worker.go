package team

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bassmang/kiongozi/internal/llm"
)

// LLMWorker is a provider-backed worker. Its description doubles as the
// system prompt; everything it receives accumulates as user turns and its
// own replies as assistant turns.
type LLMWorker struct {
	name        string
	description string
	execCapable bool
	provider    llm.Provider
	maxTokens   int
	logger      *slog.Logger

	history []llm.Message
}

// LLMWorkerOption configures an LLMWorker.
type LLMWorkerOption func(*LLMWorker)

// WithExecution marks the worker as able to execute code blocks.
func WithExecution() LLMWorkerOption {
	return func(w *LLMWorker) { w.execCapable = true }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) LLMWorkerOption {
	return func(w *LLMWorker) { w.maxTokens = n }
}

// NewLLMWorker creates a provider-backed worker.
func NewLLMWorker(name, description string, provider llm.Provider, logger *slog.Logger, opts ...LLMWorkerOption) *LLMWorker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &LLMWorker{
		name:        name,
		description: description,
		provider:    provider,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *LLMWorker) Name() string           { return w.name }
func (w *LLMWorker) Description() string    { return w.description }
func (w *LLMWorker) ExecutionCapable() bool { return w.execCapable }

// Reset clears the worker's conversational context.
func (w *LLMWorker) Reset(_ context.Context) error {
	w.history = nil
	return nil
}

// Receive records a message in the worker's context. Silent deliveries are
// recorded identically; visibility only affects logging.
func (w *LLMWorker) Receive(ctx context.Context, msg string, visible bool) error {
	w.history = append(w.history, llm.Message{Role: llm.RoleUser, Content: msg})
	w.logger.DebugContext(ctx, "worker received message",
		slog.String("worker", w.name),
		slog.Bool("visible", visible),
		slog.Int("history_len", len(w.history)),
	)
	return nil
}

// Reply generates the next utterance and records it in the worker's own
// context before returning it.
func (w *LLMWorker) Reply(ctx context.Context) (string, error) {
	resp, err := w.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: w.description,
		Messages:     w.history,
		MaxTokens:    w.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("worker %s reply: %w", w.name, err)
	}
	w.history = append(w.history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
	return resp.Content, nil
}

var _ Worker = (*LLMWorker)(nil)
