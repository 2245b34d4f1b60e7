package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/cerebrum/internal/completion"
	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/console"
	"github.com/dyluth/cerebrum/internal/marketdata"
	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/task"
	"github.com/dyluth/cerebrum/pkg/broker"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	err error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Retrieve(_ context.Context, ticker string, _ protocol.Filter) (*marketdata.Series, error) {
	if p.err != nil {
		return nil, p.err
	}
	s := &marketdata.Series{Ticker: ticker}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 80; i++ {
		c := 100 + float64(i%7) + float64(i)/4
		s.Bars = append(s.Bars, marketdata.Bar{
			Time: day.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		})
	}
	return s, nil
}

type fakeCompletion struct {
	mu    sync.Mutex
	calls map[string]int
	fail  func(role string, messages []protocol.ChatMessage) error
}

func (f *fakeCompletion) Complete(_ context.Context, role string, messages []protocol.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(role, messages); err != nil {
			return "", err
		}
	}
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[role]++
	return fmt.Sprintf("%s reply %d", role, f.calls[role]), nil
}

func (f *fakeCompletion) count(role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

type harness struct {
	t          *testing.T
	broker     *broker.Memory
	registry   *task.Registry
	journal    *task.MemoryJournal
	completion *fakeCompletion

	intake   *Intake
	analyst  *Analyst
	reviewer *Reviewer

	mu       sync.Mutex
	messages []protocol.Message
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	workflow   config.WorkflowConfig
	input      console.Collector
	provider   marketdata.Provider
	completion *fakeCompletion
}

func withWorkflow(fn func(*config.WorkflowConfig)) harnessOption {
	return func(c *harnessConfig) { fn(&c.workflow) }
}

func withInput(answers ...string) harnessOption {
	return func(c *harnessConfig) {
		c.workflow.Interactive = true
		c.input = console.NewScript(answers...)
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{provider: &fakeProvider{}, completion: &fakeCompletion{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	require.NoError(t, cfg.workflow.Validate())

	h := &harness{t: t, journal: task.NewMemoryJournal(), completion: cfg.completion}
	h.broker = broker.NewMemory(broker.WithTap(h.record))
	h.registry = task.NewRegistry(*cfg.workflow.MaxFeedbackRetries, h.journal)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.broker.Close(ctx)
	})

	deps := Deps{
		Broker:     h.broker,
		Completion: cfg.completion,
		Registry:   h.registry,
		Narrator:   printer.Discard(),
		Workflow:   cfg.workflow,
	}
	ctx := context.Background()

	var err error
	h.intake, err = NewIntake(ctx, deps, cfg.input)
	require.NoError(t, err)
	h.reviewer, err = NewReviewer(ctx, deps)
	require.NoError(t, err)
	h.analyst, err = NewAnalyst(ctx, deps, cfg.provider)
	require.NoError(t, err)
	return h
}

func (h *harness) record(msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *harness) submit(ticker string) {
	h.t.Helper()
	require.NoError(h.t, h.broker.Publish(context.Background(), &protocol.UserInput{
		Data: protocol.UserInputData{Ticker: ticker, Filter: protocol.DefaultFilter()},
	}))
}

func (h *harness) waitShutdown() {
	h.t.Helper()
	for _, a := range []Agent{h.intake, h.analyst, h.reviewer} {
		select {
		case <-a.Done():
		case <-time.After(5 * time.Second):
			h.t.Fatalf("%s did not shut down", a.Role())
		}
	}
}

func (h *harness) topics() []protocol.Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.Topic, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.Topic()
	}
	return out
}

func (h *harness) ofTopic(topic protocol.Topic) []protocol.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []protocol.Message
	for _, m := range h.messages {
		if m.Topic() == topic {
			out = append(out, m)
		}
	}
	return out
}

func TestNonInteractiveRun(t *testing.T) {
	h := newHarness(t)
	h.submit("aapl")
	h.waitShutdown()

	assert.Equal(t, []protocol.Topic{
		protocol.TopicUserInput,
		protocol.TopicMarketAnalysis,
		protocol.TopicChiefReview,
		protocol.TopicAnalysisRevise,
		protocol.TopicPresentReport,
		protocol.TopicShutdown,
	}, h.topics())

	req := h.ofTopic(protocol.TopicMarketAnalysis)[0].(*protocol.AnalysisRequest)
	assert.True(t, strings.HasPrefix(req.TaskID, task.IDPrefix))
	assert.Equal(t, "AAPL", req.Data.Ticker)
	assert.False(t, req.IsInteractiveMode)

	review := h.ofTopic(protocol.TopicChiefReview)[0].(*protocol.ReviewRequest)
	assert.Equal(t, "market_analyst reply 2", review.Content)
	require.Len(t, review.ChatHistory, 3)
	assert.Equal(t, protocol.ChatRoleSystem, review.ChatHistory[0].Role)
	assert.Equal(t, protocol.ChatRoleAssistant, review.ChatHistory[2].Role)

	revise := h.ofTopic(protocol.TopicAnalysisRevise)[0].(*protocol.RevisionRequest)
	assert.Equal(t, "chief_analyst reply 2", revise.ReviewFeedback)
	assert.Equal(t, review.Content, revise.MarketAnalysis)

	reports := h.ofTopic(protocol.TopicPresentReport)
	require.Len(t, reports, 1, "exactly one report per task")
	final := reports[0].(*protocol.FinalReport)
	assert.Equal(t, protocol.ReportTypeFinal, final.Type)
	assert.Equal(t, "market_analyst reply 3", final.Report)

	shutdown := h.ofTopic(protocol.TopicShutdown)[0].(*protocol.Shutdown)
	assert.Equal(t, req.TaskID, shutdown.TaskID)
	assert.Equal(t, final.Report, shutdown.Report())

	rec, err := h.registry.Get(req.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateTerminal, rec.State)
	report, ok := h.intake.Report(req.TaskID)
	assert.True(t, ok)
	assert.Equal(t, final.Report, report)
}

func TestInteractive_NoFeedbackGoesStraightToReview(t *testing.T) {
	h := newHarness(t, withInput("  No "))
	h.submit("AAPL")
	h.waitShutdown()

	assert.Equal(t, []protocol.Topic{
		protocol.TopicUserInput,
		protocol.TopicMarketAnalysis,
		protocol.TopicUserFeedback,
		protocol.TopicAnalysisFeedback,
		protocol.TopicChiefReview,
		protocol.TopicAnalysisRevise,
		protocol.TopicPresentReport,
		protocol.TopicShutdown,
	}, h.topics())

	draft := h.ofTopic(protocol.TopicUserFeedback)[0].(*protocol.FeedbackRequest)
	review := h.ofTopic(protocol.TopicChiefReview)[0].(*protocol.ReviewRequest)
	assert.Equal(t, draft.Content, review.Content, "declined feedback submits the current analysis")
	assert.Equal(t, 3, review.Retries)
}

func TestInteractive_FeedbackEveryRoundExhaustsRetries(t *testing.T) {
	h := newHarness(t, withInput("more detail", "add risks", "shorter"))
	h.submit("AAPL")
	h.waitShutdown()

	drafts := h.ofTopic(protocol.TopicUserFeedback)
	require.Len(t, drafts, 3)
	var retries []int
	for _, m := range drafts {
		retries = append(retries, m.(*protocol.FeedbackRequest).Retries)
	}
	assert.Equal(t, []int{3, 2, 1}, retries, "retries only decrease")
	assert.Len(t, h.ofTopic(protocol.TopicAnalysisFeedback), 3)

	reviews := h.ofTopic(protocol.TopicChiefReview)
	require.Len(t, reviews, 1)
	review := reviews[0].(*protocol.ReviewRequest)
	assert.Equal(t, 0, review.Retries)
	// system, user, then an assistant/user pair per round and the final draft.
	assert.Len(t, review.ChatHistory, 9)
	assert.Contains(t, review.ChatHistory[3].Content, "more detail")

	assert.Len(t, h.ofTopic(protocol.TopicPresentReport), 1)
}

func TestInteractive_BudgetOfOne(t *testing.T) {
	h := newHarness(t,
		withInput("more detail"),
		withWorkflow(func(w *config.WorkflowConfig) {
			one := 1
			w.MaxFeedbackRetries = &one
		}))
	h.submit("AAPL")
	h.waitShutdown()

	assert.Len(t, h.ofTopic(protocol.TopicUserFeedback), 1)
	assert.Len(t, h.ofTopic(protocol.TopicChiefReview), 1)
}

func runTwoTasks(t *testing.T, scope string) *harness {
	t.Helper()
	h := newHarness(t, withWorkflow(func(w *config.WorkflowConfig) {
		off := false
		w.ShutdownOnReport = &off
		w.ReviewScope = scope
	}))
	h.submit("AAPL")
	h.submit("MSFT")

	require.Eventually(t, func() bool {
		return h.registry.Len() == 2 && len(h.registry.Active()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	return h
}

func TestReviewScope_PerAgent(t *testing.T) {
	h := runTwoTasks(t, config.ReviewPerAgent)
	assert.Len(t, h.ofTopic(protocol.TopicChiefReview), 2)
	assert.Len(t, h.ofTopic(protocol.TopicAnalysisRevise), 1, "one review pass per reviewer lifetime")
	assert.Len(t, h.ofTopic(protocol.TopicPresentReport), 2)
	assert.Empty(t, h.ofTopic(protocol.TopicShutdown))
	assert.Equal(t, 1, h.reviewer.Reviewed())
}

func TestReviewScope_PerTask(t *testing.T) {
	h := runTwoTasks(t, config.ReviewPerTask)
	assert.Len(t, h.ofTopic(protocol.TopicAnalysisRevise), 2, "each task is reviewed once")
	assert.Len(t, h.ofTopic(protocol.TopicPresentReport), 2)

	for _, m := range h.ofTopic(protocol.TopicPresentReport) {
		rec, err := h.registry.Get(m.CorrelationID())
		require.NoError(t, err)
		assert.Equal(t, 1, rec.ReviewPasses)
	}
}

func TestReviewScope_PerTaskWithoutPasses(t *testing.T) {
	h := newHarness(t, withWorkflow(func(w *config.WorkflowConfig) {
		zero := 0
		w.ReviewScope = config.ReviewPerTask
		w.MaxReviewPasses = &zero
	}))
	h.submit("AAPL")
	h.waitShutdown()

	assert.Empty(t, h.ofTopic(protocol.TopicAnalysisRevise))
	final := h.ofTopic(protocol.TopicPresentReport)[0].(*protocol.FinalReport)
	assert.Equal(t, "market_analyst reply 2", final.Report, "draft presented as is")
}

func TestFailures_PublishDeadLetterAndShutdown(t *testing.T) {
	t.Run("market data", func(t *testing.T) {
		h := newHarness(t, func(c *harnessConfig) {
			c.provider = &fakeProvider{err: marketdata.ErrNoData}
		})
		h.submit("AAPL")
		h.waitShutdown()

		failed := h.ofTopic(protocol.TopicTaskFailed)
		require.Len(t, failed, 1)
		f := failed[0].(*protocol.TaskFailed)
		assert.Equal(t, config.RoleMarketAnalyst, f.Role)
		assert.Equal(t, protocol.TopicMarketAnalysis, f.Stage)
		assert.Contains(t, f.Error, "no market data")

		rec, err := h.registry.Get(f.TaskID)
		require.NoError(t, err)
		assert.Equal(t, task.StateTerminal, rec.State)
		assert.Contains(t, rec.Err, "no market data")
		assert.Empty(t, h.ofTopic(protocol.TopicPresentReport))
	})

	t.Run("review completion", func(t *testing.T) {
		fc := &fakeCompletion{fail: func(role string, messages []protocol.ChatMessage) error {
			if role == config.RoleChiefAnalyst && strings.Contains(messages[0].Content, "Review the following") {
				return errors.New("upstream 503")
			}
			return nil
		}}
		h := newHarness(t, func(c *harnessConfig) { c.completion = fc })
		h.submit("AAPL")
		h.waitShutdown()

		failed := h.ofTopic(protocol.TopicTaskFailed)
		require.Len(t, failed, 1)
		assert.Equal(t, protocol.TopicChiefReview, failed[0].(*protocol.TaskFailed).Stage)
		shutdown := h.ofTopic(protocol.TopicShutdown)
		require.Len(t, shutdown, 1)
		assert.Empty(t, shutdown[0].(*protocol.Shutdown).Report())
	})

	t.Run("invalid input", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.broker.Publish(context.Background(), &protocol.UserInput{
			Data: protocol.UserInputData{Ticker: " "},
		}))
		h.waitShutdown()
		assert.Len(t, h.ofTopic(protocol.TopicTaskFailed), 1)
		assert.Equal(t, 0, h.registry.Len())
	})
}

func TestGreetingFailureAbortsConstruction(t *testing.T) {
	deps := Deps{
		Broker:   broker.NewMemory(),
		Registry: task.NewRegistry(3, nil),
		Completion: completion.Func(func(context.Context, string, []protocol.ChatMessage) (string, error) {
			return "", errors.New("invalid api key")
		}),
	}
	_, err := NewReviewer(context.Background(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greeting failed")
	assert.Equal(t, 0, deps.Broker.Stats().Subscriptions, "nothing subscribed before the greeting succeeds")
}

func TestNewIntake_InteractiveNeedsInput(t *testing.T) {
	deps := Deps{
		Broker:     broker.NewMemory(),
		Registry:   task.NewRegistry(3, nil),
		Completion: &fakeCompletion{},
		Workflow:   config.WorkflowConfig{Interactive: true},
	}
	_, err := NewIntake(context.Background(), deps, nil)
	assert.Error(t, err)
}

func TestShutdown(t *testing.T) {
	h := newHarness(t)

	done := make(chan error, 1)
	go func() { done <- h.analyst.Run(context.Background()) }()

	h.analyst.RequestShutdown()
	h.analyst.RequestShutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	// A stopped agent ignores new work.
	before := h.completion.count(config.RoleMarketAnalyst)
	rec, err := h.registry.Create(context.Background(), "AAPL", protocol.DefaultFilter(), false)
	require.NoError(t, err)
	_, err = h.registry.Advance(context.Background(), rec.ID, task.StateAnalysisRequested, "")
	require.NoError(t, err)
	require.NoError(t, h.analyst.HandleTask(context.Background(), &protocol.RevisionRequest{TaskID: "task_x"}))
	require.NoError(t, h.analyst.dispatch(context.Background(), &protocol.AnalysisRequest{TaskID: rec.ID, Data: protocol.UserInputData{Ticker: "AAPL", Filter: protocol.DefaultFilter()}}))
	assert.Equal(t, before, h.completion.count(config.RoleMarketAnalyst))

	// Repeated shutdown messages are no-ops.
	require.NoError(t, h.broker.Publish(context.Background(), &protocol.Shutdown{}))
	require.NoError(t, h.broker.Publish(context.Background(), &protocol.Shutdown{}))
	h.waitShutdown()
}

func TestRun_ContextCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.reviewer.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on cancel")
	}
	select {
	case <-h.reviewer.Done():
	default:
		t.Fatal("cancelling Run must stop the agent")
	}
}
