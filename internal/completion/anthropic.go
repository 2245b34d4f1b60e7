package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/pkg/protocol"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    config.CompletionConfig
}

// NewAnthropic creates a client from cfg. BaseURL is only applied when
// it does not point at OpenRouter, the default for OpenAI-compatible use.
func NewAnthropic(cfg config.CompletionConfig, opts ...option.RequestOption) *Anthropic {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" && !strings.Contains(cfg.BaseURL, "openrouter.ai") {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(append(base, opts...)...),
		cfg:    cfg,
	}
}

// Complete sends messages with the role's model. System turns are lifted
// into the system prompt.
func (c *Anthropic) Complete(ctx context.Context, role string, messages []protocol.ChatMessage) (string, error) {
	model, err := resolveModel(c.cfg, role)
	if err != nil {
		return "", err
	}

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var system []anthropic.TextBlockParam
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case protocol.ChatRoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case protocol.ChatRoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(c.cfg.MaxTokens),
		Messages:    turns,
		Temperature: anthropic.Float(c.cfg.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	started := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("completion request for %s failed: %w", role, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w (role %s, model %s)", ErrEmptyCompletion, role, model)
	}

	logCall(config.ProviderAnthropic, role, model, started, map[string]interface{}{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	})
	return text.String(), nil
}
