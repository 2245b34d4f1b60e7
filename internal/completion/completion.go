// Package completion talks to the chat-completion service on behalf of
// the agents. Calls are synchronous and never retried here.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/pkg/protocol"
)

var (
	// ErrNoModelForRole is returned when the role has no configured model.
	ErrNoModelForRole = errors.New("no model configured for role")
	// ErrEmptyCompletion is returned when the service answers without text.
	ErrEmptyCompletion = errors.New("completion returned no content")
)

// Client produces one completion for a role-scoped conversation.
type Client interface {
	Complete(ctx context.Context, role string, messages []protocol.ChatMessage) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, role string, messages []protocol.ChatMessage) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, role string, messages []protocol.ChatMessage) (string, error) {
	return f(ctx, role, messages)
}

// New builds the client for cfg.Provider.
func New(cfg config.CompletionConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}

func resolveModel(cfg config.CompletionConfig, role string) (string, error) {
	model, err := cfg.Model(role)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoModelForRole, role)
	}
	return model, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func logCall(provider, role, model string, started time.Time, fields logger.Fields) {
	f := logger.Fields{
		"provider":    provider,
		"role":        role,
		"model":       model,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	for k, v := range fields {
		f[k] = v
	}
	logger.DebugCF("completion", "Completion finished", f)
}
