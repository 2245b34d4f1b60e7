package agent

import (
	"context"
	"fmt"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/indicators"
	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/internal/marketdata"
	"github.com/dyluth/cerebrum/internal/prompt"
	"github.com/dyluth/cerebrum/internal/task"
	"github.com/dyluth/cerebrum/pkg/protocol"
)

// Analyst is the market_analyst role: it turns market data into a draft,
// revises it on operator feedback and applies the chief analyst's review.
type Analyst struct {
	*base
	provider marketdata.Provider
}

// NewAnalyst builds and registers the market analyst.
func NewAnalyst(ctx context.Context, deps Deps, provider marketdata.Provider) (*Analyst, error) {
	if provider == nil {
		return nil, fmt.Errorf("%s: market data provider is required", config.RoleMarketAnalyst)
	}
	b, err := newBase(ctx, config.RoleMarketAnalyst, deps)
	if err != nil {
		return nil, err
	}
	a := &Analyst{base: b, provider: provider}

	topics := []protocol.Topic{protocol.TopicMarketAnalysis, protocol.TopicAnalysisRevise}
	if deps.interactive() {
		topics = append(topics, protocol.TopicAnalysisFeedback)
	}
	if err := b.register(a.HandleTask, topics...); err != nil {
		return nil, err
	}
	return a, nil
}

// HandleTask implements Agent.
func (a *Analyst) HandleTask(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.AnalysisRequest:
		return a.handleAnalysis(ctx, m)
	case *protocol.FeedbackReply:
		return a.handleFeedback(ctx, m)
	case *protocol.RevisionRequest:
		return a.handleRevision(ctx, m)
	default:
		return unexpected(a.role, msg)
	}
}

func (a *Analyst) handleAnalysis(ctx context.Context, m *protocol.AnalysisRequest) error {
	if _, ok := a.expect(m.TaskID, task.StateAnalysisRequested); !ok {
		return nil
	}
	a.say("Starting analysis of %s.", m.Data.Ticker)

	series, err := a.provider.Retrieve(ctx, m.Data.Ticker, m.Data.Filter)
	if err != nil {
		return fmt.Errorf("market data: %w", err)
	}
	report, err := indicators.Compute(series)
	if err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	rendered, err := report.YAML()
	if err != nil {
		return err
	}

	conversation := prompt.MarketAnalysisConversation(m.Data.Ticker, m.Data.Filter, rendered)
	analysis, err := a.CallCompletion(ctx, conversation)
	if err != nil {
		return fmt.Errorf("analysis completion: %w", err)
	}
	history := conversation.Append(protocol.ChatMessage{Role: protocol.ChatRoleAssistant, Content: analysis})

	logger.InfoCF(a.role, "Draft analysis ready", logger.Fields{
		"task_id": m.TaskID,
		"ticker":  m.Data.Ticker,
		"bars":    report.Bars,
	})

	draft := protocol.AnalysisDraft{
		TaskID:      m.TaskID,
		Ticker:      m.Data.Ticker,
		Role:        a.role,
		Content:     analysis,
		ChatHistory: history,
	}

	if m.IsInteractiveMode {
		rec, err := a.deps.Registry.Advance(ctx, m.TaskID, task.StateFeedbackPending, "draft sent for feedback")
		if err != nil {
			return err
		}
		draft.Retries = rec.Retries
		return a.publish(ctx, &protocol.FeedbackRequest{AnalysisDraft: draft})
	}

	a.block("Analysis", analysis)
	a.say("Analysis complete, submitting the report to the chief analyst for review.")
	return a.submitForReview(ctx, draft, "draft submitted for review")
}

func (a *Analyst) handleFeedback(ctx context.Context, m *protocol.FeedbackReply) error {
	if _, ok := a.expect(m.TaskID, task.StateFeedbackPending); !ok {
		return nil
	}

	draft := protocol.AnalysisDraft{
		TaskID:      m.TaskID,
		Ticker:      m.Data.Ticker,
		Role:        a.role,
		Content:     m.Data.CurrentAnalysis,
		ChatHistory: m.Data.ChatHistory,
	}

	if m.NoFeedback() {
		a.say("No further feedback from the user, submitting the report to the chief analyst for review.")
		return a.submitForReview(ctx, draft, "feedback declined")
	}

	history := m.Data.ChatHistory.Append(protocol.ChatMessage{Role: protocol.ChatRoleUser, Content: prompt.UserFeedback(m.Data.Feedback)})
	analysis, err := a.CallCompletion(ctx, history)
	if err != nil {
		return fmt.Errorf("feedback completion: %w", err)
	}
	a.say("The user replied %q, revising the analysis.", m.Data.Feedback)

	draft.Content = analysis
	draft.ChatHistory = history.Append(protocol.ChatMessage{Role: protocol.ChatRoleAssistant, Content: analysis})

	rec, err := a.deps.Registry.AdvanceWith(ctx, m.TaskID, "feedback applied", func(rec *task.Record) (task.State, error) {
		if rec.Retries > 0 {
			rec.Retries--
		}
		if rec.Retries > 0 {
			return task.StateFeedbackPending, nil
		}
		return task.StateReviewPending, nil
	})
	if err != nil {
		return err
	}
	draft.Retries = rec.Retries

	if rec.State == task.StateFeedbackPending {
		return a.publish(ctx, &protocol.FeedbackRequest{AnalysisDraft: draft})
	}
	a.say("The analysis has been revised several times, submitting it to the chief analyst for review.")
	return a.publish(ctx, &protocol.ReviewRequest{AnalysisDraft: draft})
}

func (a *Analyst) handleRevision(ctx context.Context, m *protocol.RevisionRequest) error {
	if _, ok := a.expect(m.TaskID, task.StateRevisionPending); !ok {
		return nil
	}
	a.say("Revising the analysis according to the chief analyst's review.")

	revised, err := a.CallCompletion(ctx, []protocol.ChatMessage{{
		Role:    protocol.ChatRoleUser,
		Content: prompt.Revise(m.MarketAnalysis, m.ReviewFeedback),
	}})
	if err != nil {
		return fmt.Errorf("revision completion: %w", err)
	}

	if _, err := a.deps.Registry.Advance(ctx, m.TaskID, task.StatePresented, "revision complete"); err != nil {
		return err
	}
	a.say("Revision complete, handing the report to the user assistant.")
	return a.publish(ctx, &protocol.FinalReport{
		TaskID: m.TaskID,
		Type:   protocol.ReportTypeFinal,
		Report: revised,
	})
}

func (a *Analyst) submitForReview(ctx context.Context, draft protocol.AnalysisDraft, note string) error {
	rec, err := a.deps.Registry.Advance(ctx, draft.TaskID, task.StateReviewPending, note)
	if err != nil {
		return err
	}
	draft.Retries = rec.Retries
	return a.publish(ctx, &protocol.ReviewRequest{AnalysisDraft: draft})
}
