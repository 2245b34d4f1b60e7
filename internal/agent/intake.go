package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/console"
	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/internal/prompt"
	"github.com/dyluth/cerebrum/internal/task"
	"github.com/dyluth/cerebrum/pkg/protocol"
)

// Intake is the user_proxy role. It turns operator input into tasks,
// relays drafts for feedback and presents the final report.
type Intake struct {
	*base
	input console.Collector

	mu      sync.Mutex
	reports map[string]string
}

// NewIntake builds and registers the intake agent. input is required only
// in interactive mode.
func NewIntake(ctx context.Context, deps Deps, input console.Collector) (*Intake, error) {
	if deps.interactive() && input == nil {
		return nil, fmt.Errorf("%s: interactive mode requires an input collector", config.RoleUserProxy)
	}
	b, err := newBase(ctx, config.RoleUserProxy, deps)
	if err != nil {
		return nil, err
	}
	a := &Intake{base: b, input: input, reports: make(map[string]string)}

	topics := []protocol.Topic{protocol.TopicUserInput, protocol.TopicPresentReport, protocol.TopicTaskFailed}
	if deps.interactive() {
		topics = append(topics, protocol.TopicUserFeedback)
	}
	if err := b.register(a.HandleTask, topics...); err != nil {
		return nil, err
	}
	return a, nil
}

// HandleTask implements Agent.
func (a *Intake) HandleTask(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.UserInput:
		return a.handleInput(ctx, m)
	case *protocol.FeedbackRequest:
		return a.handleFeedback(ctx, m)
	case *protocol.FinalReport:
		return a.handleReport(ctx, m)
	case *protocol.TaskFailed:
		return a.handleFailure(ctx, m)
	default:
		return unexpected(a.role, msg)
	}
}

// Report returns the presented report of a task.
func (a *Intake) Report(taskID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.reports[taskID]
	return r, ok
}

func (a *Intake) handleInput(ctx context.Context, m *protocol.UserInput) error {
	data := m.Data
	data.Ticker = strings.ToUpper(strings.TrimSpace(data.Ticker))
	if data.Filter == (protocol.Filter{}) {
		data.Filter = protocol.DefaultFilter()
	}
	if err := data.Validate(); err != nil {
		a.say("The request could not be accepted: %v", err)
		return fmt.Errorf("invalid user input: %w", err)
	}

	rec, err := a.deps.Registry.Create(ctx, data.Ticker, data.Filter, a.deps.interactive())
	if err != nil {
		return err
	}
	if _, err := a.deps.Registry.Advance(ctx, rec.ID, task.StateAnalysisRequested, "delegated to market analyst"); err != nil {
		return err
	}

	logger.InfoCF(a.role, "Task created", logger.Fields{
		"task_id": rec.ID,
		"ticker":  data.Ticker,
		"filter":  data.Filter.String(),
	})
	a.say("Delegating %s (%s) to the market analyst.", data.Ticker, data.Filter)

	return a.publish(ctx, &protocol.AnalysisRequest{
		TaskID:            rec.ID,
		Data:              data,
		IsInteractiveMode: a.deps.interactive(),
	})
}

func (a *Intake) handleFeedback(ctx context.Context, m *protocol.FeedbackRequest) error {
	if _, ok := a.expect(m.TaskID, task.StateFeedbackPending); !ok {
		return nil
	}

	a.block("Analysis result", m.Content)
	answer, err := a.input.Collect(ctx, prompt.FeedbackQuestion(m.Role))
	if err != nil {
		return fmt.Errorf("failed to collect feedback: %w", err)
	}

	return a.publish(ctx, &protocol.FeedbackReply{
		TaskID: m.TaskID,
		Data: protocol.FeedbackData{
			Ticker:          m.Ticker,
			Feedback:        answer,
			ChatHistory:     m.ChatHistory,
			RetryAttempts:   m.Retries,
			CurrentAnalysis: m.Content,
		},
	})
}

func (a *Intake) handleReport(ctx context.Context, m *protocol.FinalReport) error {
	if _, ok := a.expect(m.TaskID, task.StatePresented); !ok {
		return nil
	}
	if _, err := a.deps.Registry.Advance(ctx, m.TaskID, task.StateTerminal, "report presented"); err != nil {
		// Another delivery of the same report already closed the task.
		logger.WarnCF(a.role, "Duplicate final report ignored", logger.Fields{"task_id": m.TaskID, "error": err.Error()})
		return nil
	}

	a.mu.Lock()
	a.reports[m.TaskID] = m.Report
	a.mu.Unlock()

	a.block("Final analysis report", m.Report)

	if !a.deps.shutdownOnReport() {
		return nil
	}
	return a.publish(ctx, &protocol.Shutdown{
		TaskID: m.TaskID,
		Data:   &protocol.ShutdownData{Report: m.Report},
	})
}

func (a *Intake) handleFailure(ctx context.Context, m *protocol.TaskFailed) error {
	a.say("The analysis of task %s failed at %s: %s", m.TaskID, m.Stage, m.Error)
	if _, err := a.deps.Registry.Advance(ctx, m.TaskID, task.StateTerminal, "failure reported"); err != nil {
		logger.DebugCF(a.role, "Failed task not closed", logger.Fields{"task_id": m.TaskID, "error": err.Error()})
	}
	if !a.deps.shutdownOnReport() {
		return nil
	}
	return a.publish(ctx, &protocol.Shutdown{TaskID: m.TaskID})
}
