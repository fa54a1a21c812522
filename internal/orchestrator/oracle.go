package orchestrator

import (
	"context"

	"github.com/bassmang/kiongozi/internal/llm"
)

// Oracle answers the orchestrator's planning and assessment queries.
// Complete returns free text; CompleteJSON requests a single JSON object
// (enforced natively where the backing provider supports it).
type Oracle interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
	CompleteJSON(ctx context.Context, msgs []llm.Message) (string, error)
}

// providerOracle adapts an llm.Provider into an Oracle.
type providerOracle struct {
	provider  llm.Provider
	maxTokens int
}

// NewOracle wraps a provider as the completion oracle. maxTokens <= 0
// uses the provider default.
func NewOracle(provider llm.Provider, maxTokens int) Oracle {
	return &providerOracle{provider: provider, maxTokens: maxTokens}
}

func (o *providerOracle) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	resp, err := o.provider.SendMessage(ctx, &llm.Request{
		Messages:  msgs,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (o *providerOracle) CompleteJSON(ctx context.Context, msgs []llm.Message) (string, error) {
	resp, err := o.provider.SendMessage(ctx, &llm.Request{
		Messages:       msgs,
		MaxTokens:      o.maxTokens,
		ResponseFormat: llm.ResponseFormatJSON,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
