package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/cerebrum/pkg/broker"
)

// Validate performs strict validation and fills unset defaults.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}
	if err := c.Completion.Validate(); err != nil {
		return err
	}
	if err := c.MarketData.Validate(); err != nil {
		return err
	}
	if err := c.Workflow.Validate(); err != nil {
		return err
	}
	if err := c.Broker.Validate(); err != nil {
		return err
	}
	if c.Supervisor.JoinTimeout <= 0 {
		return fmt.Errorf("supervisor.join_timeout must be positive, got %s", c.Supervisor.JoinTimeout)
	}
	return nil
}

// Validate checks the completion section.
func (c *CompletionConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("completion.provider: unsupported provider %q (must be '%s' or '%s')", c.Provider, ProviderOpenAI, ProviderAnthropic)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("completion.temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("completion.max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("completion.timeout must not be negative")
	}
	for _, role := range []string{RoleUserProxy, RoleMarketAnalyst, RoleChiefAnalyst} {
		if _, err := c.Model(role); err != nil {
			return err
		}
	}
	return nil
}

// Model returns the model configured for role, falling back to
// DefaultModel.
func (c *CompletionConfig) Model(role string) (string, error) {
	if m := strings.TrimSpace(c.Models[role]); m != "" {
		return m, nil
	}
	if m := strings.TrimSpace(c.DefaultModel); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("completion.models: no model configured for role '%s'", role)
}

// Validate checks the provider list.
func (m *MarketDataConfig) Validate() error {
	if len(m.Providers) == 0 {
		return fmt.Errorf("market_data.providers: at least one provider is required")
	}
	seen := make(map[int]string)
	for _, p := range m.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("market_data.providers: provider name is required")
		}
		if p.Priority < 1 {
			return fmt.Errorf("market_data.providers: provider '%s' priority must be >= 1", p.Name)
		}
		if other, dup := seen[p.Priority]; dup {
			return fmt.Errorf("market_data.providers: providers '%s' and '%s' share priority %d", other, p.Name, p.Priority)
		}
		seen[p.Priority] = p.Name
	}
	if m.Timeout < 0 {
		return fmt.Errorf("market_data.timeout must not be negative")
	}
	return nil
}

// ByPriority returns the providers ordered from highest priority (1).
func (m *MarketDataConfig) ByPriority() []MarketDataProvider {
	out := make([]MarketDataProvider, len(m.Providers))
	copy(out, m.Providers)
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Validate checks the workflow section and applies defaults.
func (w *WorkflowConfig) Validate() error {
	if w.MaxFeedbackRetries == nil {
		retries := 3
		w.MaxFeedbackRetries = &retries
	}
	if *w.MaxFeedbackRetries < 1 {
		return fmt.Errorf("workflow.max_feedback_retries must be >= 1, got %d", *w.MaxFeedbackRetries)
	}

	if w.ReviewScope == "" {
		w.ReviewScope = ReviewPerAgent
	}
	if w.ReviewScope != ReviewPerAgent && w.ReviewScope != ReviewPerTask {
		return fmt.Errorf("workflow.review_scope: invalid scope %q (must be '%s' or '%s')", w.ReviewScope, ReviewPerAgent, ReviewPerTask)
	}

	if w.MaxReviewPasses == nil {
		passes := 1
		w.MaxReviewPasses = &passes
	}
	// Revisions go straight to presentation: one review per task at most.
	if *w.MaxReviewPasses < 0 || *w.MaxReviewPasses > 1 {
		return fmt.Errorf("workflow.max_review_passes must be 0 or 1, got %d", *w.MaxReviewPasses)
	}

	if w.ShutdownOnReport == nil {
		shutdown := true
		w.ShutdownOnReport = &shutdown
	}
	return nil
}

// Validate checks the broker section.
func (b *BrokerConfig) Validate() error {
	switch b.Transport {
	case TransportMemory:
	case TransportRedis:
		if b.RedisURL == "" {
			return fmt.Errorf("broker.redis_url is required when broker.transport is '%s'", TransportRedis)
		}
	default:
		return fmt.Errorf("broker.transport: invalid transport %q (must be '%s' or '%s')", b.Transport, TransportMemory, TransportRedis)
	}
	if b.MaxConcurrent < 0 {
		return fmt.Errorf("broker.max_concurrent must be >= 0 (0 = unbounded), got %d", b.MaxConcurrent)
	}
	if _, err := broker.ParsePolicy(b.Backpressure); err != nil {
		return fmt.Errorf("broker.backpressure: %w", err)
	}
	if err := broker.ValidateInstance(b.Instance); err != nil {
		return fmt.Errorf("broker.instance: %w", err)
	}
	return nil
}

// Policy returns the parsed backpressure policy.
func (b *BrokerConfig) Policy() broker.Policy {
	p, _ := broker.ParsePolicy(b.Backpressure)
	return p
}
