package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// FallbackProvider routes every request to a primary provider and walks an
// ordered fallback chain when it fails. The first success wins.
type FallbackProvider struct {
	chain  []Provider
	logger *slog.Logger
}

// NewFallbackProvider wires a primary provider to its fallbacks.
func NewFallbackProvider(primary Provider, logger *slog.Logger, fallbacks ...Provider) *FallbackProvider {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FallbackProvider{
		chain:  append([]Provider{primary}, fallbacks...),
		logger: logger,
	}
}

// SendMessage returns the first successful response along the chain. When
// every provider fails, the returned error carries all of their failures.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var errs []error
	for i, p := range f.chain {
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "fallback provider answered",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		f.logger.WarnContext(ctx, "provider failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
			slog.Int("remaining", len(f.chain)-i-1),
		)
	}
	return nil, fmt.Errorf("no provider in the chain answered: %w", errors.Join(errs...))
}

// Name reports the primary provider's name with a fallback marker.
func (f *FallbackProvider) Name() string {
	return f.chain[0].Name() + "+fallback"
}

var _ Provider = (*FallbackProvider)(nil)
