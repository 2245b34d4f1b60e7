package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI calls any OpenAI-compatible chat completions endpoint, OpenRouter
// by default.
type OpenAI struct {
	client openai.Client
	cfg    config.CompletionConfig
}

// NewOpenAI creates a client from cfg. Extra request options are applied
// after the configured ones.
func NewOpenAI(cfg config.CompletionConfig, opts ...option.RequestOption) *OpenAI {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		url := cfg.BaseURL
		if !strings.HasSuffix(url, "/") {
			url += "/"
		}
		base = append(base, option.WithBaseURL(url))
	}
	return &OpenAI{
		client: openai.NewClient(append(base, opts...)...),
		cfg:    cfg,
	}
}

// Complete sends messages with the role's model.
func (c *OpenAI) Complete(ctx context.Context, role string, messages []protocol.ChatMessage) (string, error) {
	model, err := resolveModel(c.cfg, role)
	if err != nil {
		return "", err
	}

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(c.cfg.Temperature),
		MaxTokens:   openai.Int(int64(c.cfg.MaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("completion request for %s failed: %w", role, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w (role %s, model %s)", ErrEmptyCompletion, role, model)
	}

	logCall(config.ProviderOpenAI, role, model, started, map[string]interface{}{
		"total_tokens": resp.Usage.TotalTokens,
	})
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []protocol.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case protocol.ChatRoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case protocol.ChatRoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
