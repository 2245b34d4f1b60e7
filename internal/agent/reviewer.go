package agent

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/internal/prompt"
	"github.com/dyluth/cerebrum/internal/task"
	"github.com/dyluth/cerebrum/pkg/protocol"
)

// Reviewer is the chief_analyst role. Each review pass sends a draft back
// for revision; once no pass is left, drafts are presented as they are.
type Reviewer struct {
	*base
	reviewed atomic.Int32
}

// NewReviewer builds and registers the chief analyst.
func NewReviewer(ctx context.Context, deps Deps) (*Reviewer, error) {
	b, err := newBase(ctx, config.RoleChiefAnalyst, deps)
	if err != nil {
		return nil, err
	}
	a := &Reviewer{base: b}
	if err := b.register(a.HandleTask, protocol.TopicChiefReview); err != nil {
		return nil, err
	}
	return a, nil
}

// HandleTask implements Agent.
func (a *Reviewer) HandleTask(ctx context.Context, msg protocol.Message) error {
	m, ok := msg.(*protocol.ReviewRequest)
	if !ok {
		return unexpected(a.role, msg)
	}
	if _, ok := a.expect(m.TaskID, task.StateReviewPending); !ok {
		return nil
	}

	claimed, err := a.claimPass(ctx, m.TaskID)
	if err != nil {
		return err
	}
	if !claimed {
		if _, err := a.deps.Registry.Advance(ctx, m.TaskID, task.StatePresented, "presented without review"); err != nil {
			return err
		}
		a.say("The report has been reviewed already, handing it to the user assistant.")
		return a.publish(ctx, &protocol.FinalReport{
			TaskID: m.TaskID,
			Type:   protocol.ReportTypeFinal,
			Report: m.Content,
		})
	}

	review, err := a.CallCompletion(ctx, []protocol.ChatMessage{{
		Role:    protocol.ChatRoleUser,
		Content: prompt.ChiefReview(m.Content),
	}})
	if err != nil {
		return fmt.Errorf("review completion: %w", err)
	}
	a.block("Review result", review)

	if _, err := a.deps.Registry.Advance(ctx, m.TaskID, task.StateRevisionPending, "review requested changes"); err != nil {
		return err
	}
	a.say("Review complete, returning the report to the market analyst for revision.")
	return a.publish(ctx, &protocol.RevisionRequest{
		TaskID:         m.TaskID,
		ReviewFeedback: review,
		MarketAnalysis: m.Content,
	})
}

// Reviewed returns the number of passes used under the per_agent scope.
func (a *Reviewer) Reviewed() int {
	return int(a.reviewed.Load())
}

// claimPass reports whether the draft gets a review under the configured
// scope, consuming the pass when it does.
func (a *Reviewer) claimPass(ctx context.Context, taskID string) (bool, error) {
	if a.deps.Workflow.ReviewScope != config.ReviewPerTask {
		claimed := a.reviewed.CompareAndSwap(0, 1)
		logger.DebugCF(a.role, "Review pass", logger.Fields{"task_id": taskID, "scope": config.ReviewPerAgent, "claimed": claimed})
		return claimed, nil
	}

	limit := 1
	if a.deps.Workflow.MaxReviewPasses != nil {
		limit = *a.deps.Workflow.MaxReviewPasses
	}
	claimed := false
	_, err := a.deps.Registry.Update(ctx, taskID, func(rec *task.Record) error {
		if rec.ReviewPasses < limit {
			rec.ReviewPasses++
			claimed = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	logger.DebugCF(a.role, "Review pass", logger.Fields{"task_id": taskID, "scope": config.ReviewPerTask, "claimed": claimed})
	return claimed, nil
}
